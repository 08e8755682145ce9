package crypto

import (
	"sort"
	"sync"

	"github.com/mau-device-identity/olmcrypto/id"
)

// OlmMessageHash is a replay token: SHA-256(sender_key || message_type_byte
// || ciphertext), base64-encoded (spec.md §3).
type OlmMessageHash string

// Changes bundles everything a single decryption or upload-planning
// operation may have mutated, for one atomic Store.SaveChanges call
// (spec.md §4.3).
type Changes struct {
	Account  *PickledAccount
	Sessions []PickledSession
}

// Store is the persistence contract this module's account/session state is
// driven through (spec.md §4.3, "Session Cache / Store Adapter"). All
// backends in store/memory, store/sql, store/redis and store/mongo
// implement this interface identically.
type Store interface {
	// LoadAccount returns the persisted account, or nil if none exists yet.
	LoadAccount() (*PickledAccount, error)

	// GetSessions returns the coordination handle for sender_key's session
	// list, creating an empty one if none exists. Two concurrent calls for
	// the same sender_key observe the same handle (spec.md §4.3), so a
	// session created during one caller's decryption attempt is visible to
	// another without an intervening store round-trip.
	GetSessions(senderKey id.SenderKey) (*SessionList, error)

	// SaveChanges atomically persists an account snapshot and/or session
	// snapshots and updates the in-memory cache to match.
	SaveChanges(changes Changes) error

	// SaveSessions persists only the given sessions (an updates-only
	// shorthand for SaveChanges with no account).
	SaveSessions(sessions []PickledSession) error

	// IsMessageKnown reports whether hash is in the persisted replay set.
	IsMessageKnown(hash OlmMessageHash) (bool, error)

	// SaveMessageHash records hash as belonging to a successfully decrypted
	// ciphertext, for future replay detection.
	SaveMessageHash(hash OlmMessageHash) error
}

// SessionList is the mutex-guarded, ordered set of sessions for one
// sender_key. Decryption holds this lock for the duration of its full probe
// loop (spec.md §4.3/§5): this is what prevents two concurrent prekey
// messages from the same peer from each independently creating a new
// session. Sessions are ordered most-recently-created first, resolving the
// open tie-break question in spec.md §9.
type SessionList struct {
	mu       sync.Mutex
	sessions []*Session
}

// NewSessionList creates an empty, ready-to-use session list.
func NewSessionList() *SessionList {
	return &SessionList{}
}

// Lock acquires the per-sender-key coordination lock. Callers must Unlock
// when their probe loop (and any resulting session creation/persistence)
// completes.
func (l *SessionList) Lock()   { l.mu.Lock() }
func (l *SessionList) Unlock() { l.mu.Unlock() }

// Sessions returns the current ordered session slice. Callers must hold the
// list's lock. The returned slice must not be retained past the lock's
// scope; Add copies rather than mutating in place.
func (l *SessionList) Sessions() []*Session {
	return l.sessions
}

// Add prepends session, keeping most-recently-created-first order. Callers
// must hold the list's lock.
func (l *SessionList) Add(session *Session) {
	l.sessions = append([]*Session{session}, l.sessions...)
}

// Reindex restores most-recent-first order; callers use this after bulk
// loading sessions from a backend that does not itself guarantee ordering
// (spec.md §9's most-recent-first tie-break). Callers must hold the list's
// lock.
func (l *SessionList) Reindex() {
	sort.SliceStable(l.sessions, func(i, j int) bool {
		return l.sessions[i].CreationTime().After(l.sessions[j].CreationTime())
	})
}
