// Package storeutil provides the shared in-memory coordination layer every
// durable crypto.Store backend (store/sql, store/redis, store/mongo) is
// built on. Each backend only implements byte-level CRUD (RecordBackend);
// Cache supplies the *crypto.SessionList coordination handles and
// lazy-hydration that spec.md §4.3 requires of GetSessions.
package storeutil

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/mau-device-identity/olmcrypto/crypto"
	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/id"
)

// RecordBackend is the byte-level persistence a durable backend must
// provide. Cache handles everything else a crypto.Store needs: in-memory
// coordination handles, lazy session hydration, and assembling
// crypto.Session values from their pickled form.
type RecordBackend interface {
	LoadAccountRecord() (*crypto.PickledAccount, error)
	SaveAccountRecord(account crypto.PickledAccount) error
	LoadSessionRecords(senderKey id.SenderKey) ([]crypto.PickledSession, error)
	SaveSessionRecords(sessions []crypto.PickledSession) error
	IsHashKnown(hash crypto.OlmMessageHash) (bool, error)
	SaveHash(hash crypto.OlmMessageHash) error
}

// Cache adapts a RecordBackend into a full crypto.Store.
type Cache struct {
	backend  RecordBackend
	identity olm.IdentityKeys
	mode     olm.PickleMode

	mu       sync.Mutex
	sessions map[id.SenderKey]*crypto.SessionList
}

// NewCache wraps backend with the in-memory session coordination layer.
// identity and mode are needed to reconstruct live *crypto.Session values
// out of the pickles a backend returns.
func NewCache(backend RecordBackend, identity olm.IdentityKeys, mode olm.PickleMode) *Cache {
	return &Cache{
		backend:  backend,
		identity: identity,
		mode:     mode,
		sessions: make(map[id.SenderKey]*crypto.SessionList),
	}
}

func (c *Cache) LoadAccount() (*crypto.PickledAccount, error) {
	return c.backend.LoadAccountRecord()
}

// GetSessions returns the coordination handle for senderKey, hydrating it
// from the backend on first access. Once hydrated, the handle lives in
// memory for the process lifetime so concurrent decryptions observe the
// same lock and session slice (spec.md §4.3).
func (c *Cache) GetSessions(senderKey id.SenderKey) (*crypto.SessionList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if list, ok := c.sessions[senderKey]; ok {
		return list, nil
	}
	records, err := c.backend.LoadSessionRecords(senderKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load sessions from backend")
	}
	list := crypto.NewSessionList()
	list.Lock()
	for _, rec := range records {
		session, err := crypto.SessionFromPickle(rec, c.identity, c.mode)
		if err != nil {
			list.Unlock()
			return nil, errors.Wrap(err, "failed to unpickle stored session")
		}
		list.Add(session)
	}
	// Add prepends, so a batch a backend already returns newest-first
	// (store/sql, store/mongo) lands oldest-first here, and store/redis's
	// HGetAll returns records in no particular order: reindex once after the
	// full batch lands so every backend observes the same most-recent-first
	// probe order.
	list.Reindex()
	list.Unlock()
	c.sessions[senderKey] = list
	return list, nil
}

func (c *Cache) SaveChanges(changes crypto.Changes) error {
	if changes.Account != nil {
		if err := c.backend.SaveAccountRecord(*changes.Account); err != nil {
			return errors.Wrap(err, "failed to save account")
		}
	}
	return c.SaveSessions(changes.Sessions)
}

func (c *Cache) SaveSessions(sessions []crypto.PickledSession) error {
	if len(sessions) == 0 {
		return nil
	}
	return errors.Wrap(c.backend.SaveSessionRecords(sessions), "failed to save sessions")
}

func (c *Cache) IsMessageKnown(hash crypto.OlmMessageHash) (bool, error) {
	return c.backend.IsHashKnown(hash)
}

func (c *Cache) SaveMessageHash(hash crypto.OlmMessageHash) error {
	return errors.Wrap(c.backend.SaveHash(hash), "failed to save message hash")
}
