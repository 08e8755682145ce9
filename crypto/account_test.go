package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/id"
)

func newTestAccount(t *testing.T) *Account {
	t.Helper()
	a, err := NewAccount("@alice:example.org", "DEVICEA")
	require.NoError(t, err)
	return a
}

func TestAccountPickleRoundTrip(t *testing.T) {
	a := newTestAccount(t)
	require.NoError(t, a.GenerateOneTimeKeys(5))

	before, err := a.IdentityKeys()
	require.NoError(t, err)

	pickled, err := a.ToPickle(olm.Plaintext)
	require.NoError(t, err)

	restored, err := FromPickle(pickled, olm.Plaintext)
	require.NoError(t, err)

	after, err := restored.IdentityKeys()
	require.NoError(t, err)

	require.Equal(t, before, after)
	require.Equal(t, a.UserID(), restored.UserID())
	require.Equal(t, a.DeviceID(), restored.DeviceID())
}

func TestAccountSharedIsMonotonic(t *testing.T) {
	a := newTestAccount(t)
	require.False(t, a.Shared())
	a.SetShared(true)
	require.True(t, a.Shared())
	a.SetShared(false)
	require.True(t, a.Shared(), "shared must never revert to false")
}

func TestCreateOutboundAndInboundSessionAgree(t *testing.T) {
	alice := newTestAccount(t)
	bob, err := NewAccount("@bob:example.org", "DEVICEB")
	require.NoError(t, err)

	require.NoError(t, bob.GenerateOneTimeKeys(1))
	bobOTKs, err := bob.inner.OneTimeKeys()
	require.NoError(t, err)
	require.Len(t, bobOTKs, 1)

	bobIdentity, err := bob.IdentityKeys()
	require.NoError(t, err)

	session, err := alice.CreateOutboundSession(bobIdentity.Curve25519, bobOTKs[0].Key, false)
	require.NoError(t, err)

	msgType, ciphertext, err := session.Encrypt([]byte("hello bob"))
	require.NoError(t, err)
	require.Equal(t, id.OlmMsgTypePreKey, msgType)

	aliceIdentity, err := alice.IdentityKeys()
	require.NoError(t, err)

	inbound, err := bob.CreateInboundSession(id.SenderKey(aliceIdentity.Curve25519), ciphertext)
	require.NoError(t, err)

	plaintext, err := inbound.Decrypt(msgType, ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(plaintext))

	// The one-time key must be single-use: once the inbound session consumed
	// it, the account no longer holds it.
	remaining, err := bob.inner.OneTimeKeys()
	require.NoError(t, err)
	require.Len(t, remaining, 0)
}
