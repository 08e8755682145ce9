package storeutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mau-device-identity/olmcrypto/crypto"
	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/id"
)

type fakeBackend struct {
	account  *crypto.PickledAccount
	sessions map[id.SenderKey][]crypto.PickledSession
	hashes   map[crypto.OlmMessageHash]struct{}
	loads    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: make(map[id.SenderKey][]crypto.PickledSession),
		hashes:   make(map[crypto.OlmMessageHash]struct{}),
	}
}

func (f *fakeBackend) LoadAccountRecord() (*crypto.PickledAccount, error) { return f.account, nil }

func (f *fakeBackend) SaveAccountRecord(account crypto.PickledAccount) error {
	f.account = &account
	return nil
}

func (f *fakeBackend) LoadSessionRecords(senderKey id.SenderKey) ([]crypto.PickledSession, error) {
	f.loads++
	return f.sessions[senderKey], nil
}

func (f *fakeBackend) SaveSessionRecords(sessions []crypto.PickledSession) error {
	for _, rec := range sessions {
		f.sessions[rec.SenderKey] = append(f.sessions[rec.SenderKey], rec)
	}
	return nil
}

func (f *fakeBackend) IsHashKnown(hash crypto.OlmMessageHash) (bool, error) {
	_, ok := f.hashes[hash]
	return ok, nil
}

func (f *fakeBackend) SaveHash(hash crypto.OlmMessageHash) error {
	f.hashes[hash] = struct{}{}
	return nil
}

func TestCacheHydratesOnceThenReusesHandle(t *testing.T) {
	backend := newFakeBackend()
	cache := NewCache(backend, olm.IdentityKeys{}, olm.Plaintext)
	senderKey := id.SenderKey("abc")

	first, err := cache.GetSessions(senderKey)
	require.NoError(t, err)
	second, err := cache.GetSessions(senderKey)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, backend.loads, "a hydrated sender key must not be reloaded from the backend")
}

func TestCacheSaveChangesPersistsAccountAndSessions(t *testing.T) {
	backend := newFakeBackend()
	cache := NewCache(backend, olm.IdentityKeys{}, olm.Plaintext)

	account := crypto.PickledAccount{UserID: "@alice:example.org", DeviceID: "DEVICEA"}
	err := cache.SaveChanges(crypto.Changes{Account: &account})
	require.NoError(t, err)

	loaded, err := cache.LoadAccount()
	require.NoError(t, err)
	require.Equal(t, account, *loaded)
}

func TestCacheMessageHashDelegatesToBackend(t *testing.T) {
	backend := newFakeBackend()
	cache := NewCache(backend, olm.IdentityKeys{}, olm.Plaintext)
	hash := crypto.OlmMessageHash("xyz")

	known, err := cache.IsMessageKnown(hash)
	require.NoError(t, err)
	require.False(t, known)

	require.NoError(t, cache.SaveMessageHash(hash))

	known, err = cache.IsMessageKnown(hash)
	require.NoError(t, err)
	require.True(t, known)
}
