package crypto

import (
	"sync"
	"time"

	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/id"
)

// Session is a single pairwise Olm ratchet with a remote device, plus the
// bookkeeping spec.md §3/§4.2 requires. It carries its own identity key
// copy rather than a back-reference to the owning Account, per the design
// note in spec.md §9 ("Cyclic references ... are avoided by value-copying").
// A Session must never be used concurrently; mu enforces exclusive access
// (spec.md §5).
type Session struct {
	mu sync.Mutex

	inner     *olm.Session
	sessionID string
	senderKey id.SenderKey

	ourIdentity olm.IdentityKeys

	creationTime time.Time
	lastUseTime  time.Time

	createdUsingFallbackKey bool
}

// SessionID is the primitive's opaque session identifier.
func (s *Session) SessionID() string { return s.sessionID }

// SenderKey is the peer's Curve25519 identity this session is paired with.
func (s *Session) SenderKey() id.SenderKey { return s.senderKey }

// CreationTime is when this session was first established.
func (s *Session) CreationTime() time.Time { return s.creationTime }

// LastUseTime is when this session last successfully encrypted or decrypted.
func (s *Session) LastUseTime() time.Time { return s.lastUseTime }

// CreatedUsingFallbackKey reports whether this session was created outbound
// from the peer's claimed fallback key rather than a one-time key. Sessions
// created inbound always report false.
func (s *Session) CreatedUsingFallbackKey() bool { return s.createdUsingFallbackKey }

// Encrypt advances the sending ratchet, returning the wire message type and
// ciphertext body.
func (s *Session) Encrypt(plaintext []byte) (id.OlmMsgType, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgType, ciphertext, err := s.inner.Encrypt(plaintext)
	if err == nil {
		s.lastUseTime = time.Now()
	}
	return msgType, ciphertext, err
}

// Decrypt advances the receiving ratchet, returning the plaintext. Callers
// drive the matches-gated wedge decision (spec.md §4.4); Decrypt itself
// only performs the primitive operation.
func (s *Session) Decrypt(olmType id.OlmMsgType, ciphertext string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plaintext, err := s.inner.Decrypt(olmType, ciphertext)
	if err == nil {
		s.lastUseTime = time.Now()
	}
	return plaintext, err
}

// Matches reports whether a PreKey ciphertext could have been encrypted
// against this session. Only meaningful for PreKey messages (spec.md §4.2).
func (s *Session) Matches(preKeyCiphertext string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.MatchesInbound(preKeyCiphertext)
}

// Pickle serializes the session's ratchet state for persistence.
func (s *Session) Pickle(mode olm.PickleMode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Pickle(mode)
}

// PickledSession is the persisted form of a Session.
type PickledSession struct {
	SessionID               string
	SenderKey                id.SenderKey
	Pickle                   string
	CreationTime             time.Time
	LastUseTime              time.Time
	CreatedUsingFallbackKey bool
}

// ToPickle serializes the session into its persisted form.
func (s *Session) ToPickle(mode olm.PickleMode) (PickledSession, error) {
	pickle, err := s.Pickle(mode)
	if err != nil {
		return PickledSession{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return PickledSession{
		SessionID:               s.sessionID,
		SenderKey:               s.senderKey,
		Pickle:                  pickle,
		CreationTime:            s.creationTime,
		LastUseTime:             s.lastUseTime,
		CreatedUsingFallbackKey: s.createdUsingFallbackKey,
	}, nil
}

// SessionFromPickle reconstructs a Session from its persisted form.
func SessionFromPickle(p PickledSession, ourIdentity olm.IdentityKeys, mode olm.PickleMode) (*Session, error) {
	inner, err := olm.SessionFromPickle(p.Pickle, mode)
	if err != nil {
		return nil, err
	}
	return &Session{
		inner:                   inner,
		sessionID:               p.SessionID,
		senderKey:               p.SenderKey,
		ourIdentity:             ourIdentity,
		creationTime:            p.CreationTime,
		lastUseTime:             p.LastUseTime,
		createdUsingFallbackKey: p.CreatedUsingFallbackKey,
	}, nil
}
