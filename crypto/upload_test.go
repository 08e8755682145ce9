package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/id"
)

func TestShouldUploadKeysBeforeFirstShare(t *testing.T) {
	account := newTestAccount(t)
	store := newFakeStore()
	machine := NewMachine(account, store, nil, olm.Plaintext)

	should, err := machine.ShouldUploadKeys()
	require.NoError(t, err)
	require.True(t, should, "a never-shared account must always want to upload")
}

func TestKeysForUploadIncludesDeviceKeysOnlyOnce(t *testing.T) {
	account := newTestAccount(t)
	store := newFakeStore()
	machine := NewMachine(account, store, nil, olm.Plaintext)

	plan, err := machine.KeysForUpload()
	require.NoError(t, err)
	require.NotNil(t, plan.DeviceKeys)
	require.NotEmpty(t, plan.OneTimeKeys)

	require.NoError(t, machine.OnUploadSuccess(UploadResult{
		OneTimeKeyCounts: map[id.Algorithm]int{"signed_curve25519": len(plan.OneTimeKeys)},
	}))

	plan2, err := machine.KeysForUpload()
	require.NoError(t, err)
	require.Nil(t, plan2.DeviceKeys, "device keys must not be re-offered once shared")
}

func TestKeysForUploadIsIdempotentBeforeUploadConfirmed(t *testing.T) {
	account := newTestAccount(t)
	store := newFakeStore()
	machine := NewMachine(account, store, nil, olm.Plaintext)

	// A retried upload planning call (no confirmed success in between) must
	// re-offer the exact same unpublished batch rather than minting a new
	// one each time (spec.md §8 property #2).
	plan1, err := machine.KeysForUpload()
	require.NoError(t, err)
	plan2, err := machine.KeysForUpload()
	require.NoError(t, err)

	require.Equal(t, len(plan1.OneTimeKeys), len(plan2.OneTimeKeys))
	for keyID := range plan1.OneTimeKeys {
		_, ok := plan2.OneTimeKeys[keyID]
		require.True(t, ok, "existing unpublished keys must be reoffered unchanged")
	}
}

func TestUpdateFromSyncGeneratesFallbackKeyWhenServerHasNone(t *testing.T) {
	account := newTestAccount(t)
	store := newFakeStore()
	machine := NewMachine(account, store, nil, olm.Plaintext)

	require.NoError(t, machine.UpdateFromSync(SyncKeyCounts{
		OneTimeKeyCounts:   map[id.Algorithm]int{"signed_curve25519": 20},
		FallbackAlgorithms: []id.Algorithm{},
	}))

	plan, err := machine.KeysForUpload()
	require.NoError(t, err)
	require.NotEmpty(t, plan.FallbackKeys, "a fallback key must be planned once generated")
}
