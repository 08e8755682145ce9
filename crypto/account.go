package crypto

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/mau-device-identity/olmcrypto/id"
	"github.com/mau-device-identity/olmcrypto/crypto/olm"
)

// Account owns a device's long-lived Ed25519/Curve25519 identity and the
// wrapped Olm primitive account (spec.md §3, §4.1). UserID and DeviceID are
// immutable for the account's lifetime; mu serializes every mutating
// primitive call per spec.md §5 ("The Olm account itself is non-reentrant").
type Account struct {
	userID   id.UserID
	deviceID id.DeviceID

	mu    sync.Mutex
	inner *olm.Account

	// shared is monotonic false->true: has the server accepted our device keys?
	shared atomic.Bool
	// uploadedSignedKeyCount is the server-reported count of unclaimed one-time keys.
	uploadedSignedKeyCount atomic.Int64
}

// NewAccount generates a fresh account for (userID, deviceID) with new
// identity keys and no one-time or fallback keys yet.
func NewAccount(userID id.UserID, deviceID id.DeviceID) (*Account, error) {
	inner, err := olm.NewAccount()
	if err != nil {
		return nil, errors.Wrap(ErrOlmPrimitiveError, err.Error())
	}
	return &Account{userID: userID, deviceID: deviceID, inner: inner}, nil
}

// UserID returns the account's owning user.
func (a *Account) UserID() id.UserID { return a.userID }

// DeviceID returns the account's device.
func (a *Account) DeviceID() id.DeviceID { return a.deviceID }

// IdentityKeys returns the account's two public keys. Pure; does not touch
// the primitive mutex since identity keys never change after creation.
func (a *Account) IdentityKeys() (olm.IdentityKeys, error) {
	return a.inner.IdentityKeys()
}

// Sign produces a base64 Ed25519 signature over message.
func (a *Account) Sign(message []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.Sign(message)
}

// MaxOneTimeKeys is the constant ring-buffer capacity of the underlying
// Olm primitive.
func (a *Account) MaxOneTimeKeys() int {
	return a.inner.MaxOneTimeKeys()
}

// GenerateOneTimeKeys instructs the primitive to produce n unpublished
// Curve25519 prekeys.
func (a *Account) GenerateOneTimeKeys(n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.GenerateOneTimeKeys(n)
}

// GenerateFallbackKey creates a fallback key iff none is currently
// unpublished; no-op otherwise.
func (a *Account) GenerateFallbackKey() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.GenerateFallbackKey()
}

// MarkKeysAsPublished atomically transitions the current unpublished
// one-time and fallback keys into the published pool that can be consumed
// by incoming prekey messages.
func (a *Account) MarkKeysAsPublished() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inner.MarkKeysAsPublished()
}

// Shared reports whether the server has accepted our device keys at least once.
func (a *Account) Shared() bool { return a.shared.Load() }

// SetShared transitions shared monotonically false->true; setting false
// after true is a no-op, matching the invariant in spec.md §3.
func (a *Account) SetShared(v bool) {
	if v {
		a.shared.Store(true)
	}
}

// UploadedSignedKeyCount returns the last server-reported unclaimed
// one-time key count.
func (a *Account) UploadedSignedKeyCount() int {
	return int(a.uploadedSignedKeyCount.Load())
}

// SetUploadedSignedKeyCount updates the counter atomically; used both from
// sync-response processing and directly by tests (spec.md §8 property #3/#4).
func (a *Account) SetUploadedSignedKeyCount(n int) {
	a.uploadedSignedKeyCount.Store(int64(n))
}

// CreateOutboundSession creates a new Session by performing the X3DH
// handshake against a peer's identity key and a claimed signed one-time
// key. fallback must be the claimed key's own SignedKeyObject.Fallback
// value, so the resulting Session can record whether it was built from the
// peer's single-use pool or their fallback key (spec.md §3;
// original_source/crates/matrix-sdk-crypto/src/olm/account.rs's
// create_outbound_session_helper sets created_using_fallback_key from the
// same claimed-key flag). Fails with ErrOlmPrimitiveError on malformed peer
// key.
func (a *Account) CreateOutboundSession(peerIdentityKey id.Curve25519, signedOneTimeKey id.Curve25519, fallback bool) (*Session, error) {
	a.mu.Lock()
	inner, err := a.inner.NewOutboundSession(peerIdentityKey, signedOneTimeKey)
	a.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(ErrOlmPrimitiveError, err.Error())
	}
	now := time.Now()
	return &Session{
		inner:                   inner,
		sessionID:               inner.ID(),
		senderKey:               id.SenderKey(peerIdentityKey),
		ourIdentity:             a.mustIdentityKeys(),
		creationTime:            now,
		lastUseTime:             now,
		createdUsingFallbackKey: fallback,
	}, nil
}

// CreateInboundSession creates a new Session from an inbound PreKey message
// and, on success, removes the matching one-time key from the account
// (single-use invariant, spec.md §3). Callers MUST persist both the account
// and the new session before acting on the decrypted plaintext (spec.md §4.4
// step 4, §5 "at-least-once" contract).
func (a *Account) CreateInboundSession(senderKey id.SenderKey, prekeyMessage string) (*Session, error) {
	a.mu.Lock()
	inner, err := a.inner.NewInboundSessionFrom(id.Curve25519(senderKey), prekeyMessage)
	if err != nil {
		a.mu.Unlock()
		return nil, errors.Wrap(ErrOlmPrimitiveError, err.Error())
	}
	now := time.Now()
	session := &Session{
		inner:        inner,
		sessionID:    inner.ID(),
		senderKey:    senderKey,
		ourIdentity:  a.mustIdentityKeys(),
		creationTime: now,
		lastUseTime:  now,
	}
	if err := a.inner.RemoveOneTimeKey(inner); err != nil {
		a.mu.Unlock()
		return nil, errors.Wrap(ErrOlmPrimitiveError, err.Error())
	}
	a.mu.Unlock()
	return session, nil
}

func (a *Account) mustIdentityKeys() olm.IdentityKeys {
	keys, err := a.inner.IdentityKeys()
	if err != nil {
		// Identity keys are generated at construction and never fail to read back.
		panic(errors.Wrap(err, "identity keys unreadable on a live account"))
	}
	return keys
}

// Pickle serializes the full account state for persistence.
func (a *Account) Pickle(mode olm.PickleMode) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.Pickle(mode)
}

// PickledAccount is the persisted form of an Account (spec.md §3).
type PickledAccount struct {
	UserID                 id.UserID
	DeviceID               id.DeviceID
	Pickle                 string
	Shared                 bool
	UploadedSignedKeyCount int
}

// FromPickle reconstructs an Account from its persisted form. mode must
// match the mode used to produce p.Pickle.
func FromPickle(p PickledAccount, mode olm.PickleMode) (*Account, error) {
	inner, err := olm.FromPickle(p.Pickle, mode)
	if err != nil {
		return nil, errors.Wrap(ErrOlmPrimitiveError, err.Error())
	}
	a := &Account{userID: p.UserID, deviceID: p.DeviceID, inner: inner}
	a.SetShared(p.Shared)
	a.SetUploadedSignedKeyCount(p.UploadedSignedKeyCount)
	return a, nil
}

// ToPickle serializes the account into its persisted form.
func (a *Account) ToPickle(mode olm.PickleMode) (PickledAccount, error) {
	pickle, err := a.Pickle(mode)
	if err != nil {
		return PickledAccount{}, err
	}
	return PickledAccount{
		UserID:                 a.userID,
		DeviceID:               a.deviceID,
		Pickle:                 pickle,
		Shared:                 a.Shared(),
		UploadedSignedKeyCount: a.UploadedSignedKeyCount(),
	}, nil
}
