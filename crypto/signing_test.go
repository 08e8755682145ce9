package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	value := map[string]interface{}{"b": 1, "a": 2}
	out, err := marshalCanonical(value)
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, out)
}

func TestSignAndVerifySignedKey(t *testing.T) {
	account := newTestAccount(t)
	identity, err := account.IdentityKeys()
	require.NoError(t, err)

	signed, err := account.signKey(identity.Curve25519, false)
	require.NoError(t, err)

	require.NoError(t, VerifySignedKey(account.UserID(), account.DeviceID(), identity.Ed25519, signed))

	tampered := signed
	tampered.Key = identity.Curve25519 + "x"
	require.Error(t, VerifySignedKey(account.UserID(), account.DeviceID(), identity.Ed25519, tampered))
}
