// Package memory is the reference crypto.Store implementation: an
// in-process cache with no durability, grounded on the teacher's own
// in-memory session map (mautrix-go's CryptoStore default) and on
// meszmate-xmpp-go/crypto/omemo's MemoryStore (TOFU-style in-memory
// session map keyed by peer address).
package memory

import (
	"sync"

	"github.com/mau-device-identity/olmcrypto/crypto"
	"github.com/mau-device-identity/olmcrypto/id"
)

// Store is a crypto.Store backed entirely by in-process maps. Useful for
// tests and for short-lived processes; real deployments use store/sql,
// store/redis or store/mongo instead.
type Store struct {
	mu       sync.Mutex
	account  *crypto.PickledAccount
	sessions map[id.SenderKey]*crypto.SessionList
	hashes   map[crypto.OlmMessageHash]struct{}
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[id.SenderKey]*crypto.SessionList),
		hashes:   make(map[crypto.OlmMessageHash]struct{}),
	}
}

func (s *Store) LoadAccount() (*crypto.PickledAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, nil
}

func (s *Store) GetSessions(senderKey id.SenderKey) (*crypto.SessionList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.sessions[senderKey]
	if !ok {
		list = crypto.NewSessionList()
		s.sessions[senderKey] = list
	}
	return list, nil
}

func (s *Store) SaveChanges(changes crypto.Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if changes.Account != nil {
		acc := *changes.Account
		s.account = &acc
	}
	return s.saveSessionsLocked(changes.Sessions)
}

func (s *Store) SaveSessions(sessions []crypto.PickledSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSessionsLocked(sessions)
}

func (s *Store) saveSessionsLocked(sessions []crypto.PickledSession) error {
	// The in-memory backend's sessions live entirely inside the
	// *crypto.SessionList handles already returned by GetSessions; there is
	// nothing further to persist here.
	for range sessions {
		// no-op: SessionList already holds the live *crypto.Session values.
	}
	return nil
}

func (s *Store) IsMessageKnown(hash crypto.OlmMessageHash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hashes[hash]
	return ok, nil
}

func (s *Store) SaveMessageHash(hash crypto.OlmMessageHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[hash] = struct{}{}
	return nil
}
