package olm

import (
	golm "github.com/aldgate-ventures/go-olm"

	"github.com/mau-device-identity/olmcrypto/id"
)

// Session wraps a single libolm pairwise ratchet. It is not safe for
// concurrent use; callers serialize access with their own mutex per
// spec.md §5 ("Each Session has its own mutex").
type Session struct {
	inner *golm.Session
}

// ID returns the primitive's opaque session identifier.
func (s *Session) ID() string {
	return s.inner.ID()
}

// Encrypt advances the sending ratchet and returns the wire message type
// (PreKey on the first few messages, Message thereafter) and ciphertext.
func (s *Session) Encrypt(plaintext []byte) (id.OlmMsgType, string, error) {
	msgType, ciphertext, err := s.inner.Encrypt(plaintext)
	if err != nil {
		return 0, "", err
	}
	return id.OlmMsgType(msgType), ciphertext, nil
}

// Decrypt advances the receiving ratchet and returns the plaintext, or an
// error from the primitive if the ciphertext does not verify.
func (s *Session) Decrypt(olmType id.OlmMsgType, ciphertext string) ([]byte, error) {
	return s.inner.Decrypt(int(olmType), ciphertext)
}

// MatchesInbound reports whether a PreKey ciphertext could have been
// encrypted against this session. It is only meaningful for PreKey
// messages; calling it on a normal Message is a programmer error.
func (s *Session) MatchesInbound(preKeyCiphertext string) (bool, error) {
	return s.inner.MatchesInboundSession(preKeyCiphertext)
}

// Pickle serializes the session's ratchet state.
func (s *Session) Pickle(mode PickleMode) (string, error) {
	return s.inner.Pickle(mode.Passphrase)
}

// SessionFromPickle reconstructs a session from a pickle produced by Pickle.
func SessionFromPickle(pickled string, mode PickleMode) (*Session, error) {
	s, err := golm.SessionFromPickle(mode.Passphrase, pickled)
	if err != nil {
		return nil, err
	}
	return &Session{inner: s}, nil
}
