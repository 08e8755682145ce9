// Package olm adapts the cgo libolm bindings of github.com/aldgate-ventures/go-olm
// into the narrow surface this module drives. The Olm ratchet itself is a
// trusted black box (spec.md §1); everything here is plumbing: translate
// between this module's types and the primitive's byte/string-oriented API,
// and surface the primitive's errors unchanged so callers can wrap them.
package olm

import (
	golm "github.com/aldgate-ventures/go-olm"

	"github.com/mau-device-identity/olmcrypto/id"
)

// PickleMode selects whether Account/Session pickles are encrypted with a
// passphrase or left in the primitive's plaintext pickle form. Mixing modes
// between pickle and unpickle is a programmer error the primitive rejects.
type PickleMode struct {
	Passphrase string
}

// Plaintext is the zero-value PickleMode: unpickle will only succeed against
// a pickle produced with the same (empty) passphrase.
var Plaintext = PickleMode{}

// IdentityKeys are the two long-lived public keys of an Olm account.
type IdentityKeys struct {
	Ed25519    id.Ed25519
	Curve25519 id.Curve25519
}

// UnpublishedOneTimeKey is a Curve25519 prekey the account holds but has not
// yet marked as published.
type UnpublishedOneTimeKey struct {
	KeyID id.KeyID
	Key   id.Curve25519
}

// Account wraps a single libolm account. It is not safe for concurrent use;
// callers serialize access with their own mutex (spec.md §5).
type Account struct {
	inner *golm.Account
}

// NewAccount generates a fresh Olm account with new Ed25519/Curve25519
// identity keys and no one-time or fallback keys.
func NewAccount() (*Account, error) {
	acc, err := golm.NewAccount()
	if err != nil {
		return nil, err
	}
	return &Account{inner: acc}, nil
}

// FromPickle reconstructs an account from a pickle produced by Pickle. The
// mode must match the one used to produce the pickle.
func FromPickle(pickled string, mode PickleMode) (*Account, error) {
	acc, err := golm.AccountFromPickle(mode.Passphrase, pickled)
	if err != nil {
		return nil, err
	}
	return &Account{inner: acc}, nil
}

// Pickle serializes the full account state, encrypted under mode's
// passphrase (or left plaintext for the zero-value mode).
func (a *Account) Pickle(mode PickleMode) (string, error) {
	return a.inner.Pickle(mode.Passphrase)
}

// IdentityKeys returns the account's long-lived public key pair.
func (a *Account) IdentityKeys() (IdentityKeys, error) {
	keys, err := a.inner.IdentityKeys()
	if err != nil {
		return IdentityKeys{}, err
	}
	return IdentityKeys{
		Ed25519:    id.Ed25519(keys.Ed25519),
		Curve25519: id.Curve25519(keys.Curve25519),
	}, nil
}

// Sign produces a base64 Ed25519 signature over message using the account's
// signing key.
func (a *Account) Sign(message []byte) (string, error) {
	sig, err := a.inner.Sign(message)
	if err != nil {
		return "", err
	}
	return string(sig), nil
}

// MaxOneTimeKeys is the ring-buffer capacity of the underlying primitive.
func (a *Account) MaxOneTimeKeys() int {
	return a.inner.MaxOneTimeKeys()
}

// GenerateOneTimeKeys asks the primitive to produce n unpublished Curve25519
// prekeys, discarding the oldest if capacity is exceeded.
func (a *Account) GenerateOneTimeKeys(n int) error {
	return a.inner.GenerateOneTimeKeys(n)
}

// OneTimeKeys returns the one-time keys the account holds that have not yet
// been marked as published (idempotence property #2 in spec.md §8).
func (a *Account) OneTimeKeys() ([]UnpublishedOneTimeKey, error) {
	otks, err := a.inner.OneTimeKeys()
	if err != nil {
		return nil, err
	}
	out := make([]UnpublishedOneTimeKey, 0, len(otks.Curve25519))
	for keyID, key := range otks.Curve25519 {
		out = append(out, UnpublishedOneTimeKey{KeyID: id.KeyID(keyID), Key: id.Curve25519(key)})
	}
	return out, nil
}

// MarkKeysAsPublished atomically transitions the current unpublished
// one-time and fallback keys into the published pool.
func (a *Account) MarkKeysAsPublished() {
	a.inner.MarkKeysAsPublished()
}

// RemoveOneTimeKey removes the one-time key that session was created from,
// enforcing the single-use invariant (spec.md §3).
func (a *Account) RemoveOneTimeKey(s *Session) error {
	return a.inner.RemoveOneTimeKeys(s.inner)
}

// GenerateFallbackKey creates a new fallback key iff none is currently
// unpublished; no-op otherwise (spec.md §4.1).
func (a *Account) GenerateFallbackKey() error {
	return a.inner.GenerateFallbackKey()
}

// UnpublishedFallbackKey returns the currently pending (unpublished)
// fallback key, if any.
func (a *Account) UnpublishedFallbackKey() (*UnpublishedOneTimeKey, error) {
	fbs, err := a.inner.FallbackKey()
	if err != nil {
		return nil, err
	}
	if fbs == nil {
		return nil, nil
	}
	for keyID, key := range fbs.Curve25519 {
		return &UnpublishedOneTimeKey{KeyID: id.KeyID(keyID), Key: id.Curve25519(key)}, nil
	}
	return nil, nil
}

// NewOutboundSession creates a Session by performing the X3DH-style
// handshake against a peer's identity key and a signed one-time key claimed
// from the server.
func (a *Account) NewOutboundSession(peerIdentityKey id.Curve25519, peerOneTimeKey id.Curve25519) (*Session, error) {
	s, err := a.inner.NewOutboundSession(string(peerIdentityKey), string(peerOneTimeKey))
	if err != nil {
		return nil, err
	}
	return &Session{inner: s}, nil
}

// NewInboundSessionFrom creates a Session from an inbound PreKey message,
// consuming the matching one-time key on success.
func (a *Account) NewInboundSessionFrom(peerIdentityKey id.Curve25519, preKeyMessage string) (*Session, error) {
	s, err := a.inner.NewInboundSessionFrom(string(peerIdentityKey), preKeyMessage)
	if err != nil {
		return nil, err
	}
	return &Session{inner: s}, nil
}
