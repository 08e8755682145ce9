package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mau-device-identity/olmcrypto/crypto"
	"github.com/mau-device-identity/olmcrypto/id"
)

func TestStoreRoundTripsAccount(t *testing.T) {
	s := New()

	acc, err := s.LoadAccount()
	require.NoError(t, err)
	require.Nil(t, acc)

	pickled := &crypto.PickledAccount{UserID: "@alice:example.org", DeviceID: "DEVICEA", Pickle: "x"}
	require.NoError(t, s.SaveChanges(crypto.Changes{Account: pickled}))

	loaded, err := s.LoadAccount()
	require.NoError(t, err)
	require.Equal(t, *pickled, *loaded)
}

func TestGetSessionsReturnsSameHandle(t *testing.T) {
	s := New()
	senderKey := id.SenderKey("abc")

	first, err := s.GetSessions(senderKey)
	require.NoError(t, err)
	second, err := s.GetSessions(senderKey)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestMessageHashTracking(t *testing.T) {
	s := New()
	hash := crypto.OlmMessageHash("deadbeef")

	known, err := s.IsMessageKnown(hash)
	require.NoError(t, err)
	require.False(t, known)

	require.NoError(t, s.SaveMessageHash(hash))

	known, err = s.IsMessageKnown(hash)
	require.NoError(t, err)
	require.True(t, known)
}
