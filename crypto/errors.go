package crypto

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mau-device-identity/olmcrypto/id"
)

// Sentinel errors returned by the decryption pipeline and the account. Most
// mirror the teacher's crypto/decryptolm.go one-for-one; a few are renamed
// to the vocabulary spec.md uses so callers can match on them directly.
var (
	ErrMissingCiphertext  = errors.New("olm event doesn't contain ciphertext for this device")
	ErrUnsupportedOlmType = errors.New("unsupported olm message type")
	ErrUnsupportedAlgorithm = errors.New("unsupported event encryption algorithm")
	ErrOlmPrimitiveError  = errors.New("underlying olm primitive error")
	ErrStoreError         = errors.New("session/account store error")
)

// SessionWedgedError is returned when a matching or mandatorily-used
// session failed to decrypt and no recovery session could be built
// (spec.md §7).
type SessionWedgedError struct {
	User      id.UserID
	SenderKey id.SenderKey
}

func (e *SessionWedgedError) Error() string {
	return fmt.Sprintf("olm session with %s (key %s) is wedged", e.User, e.SenderKey)
}

// ReplayedMessageError replaces a SessionWedgedError once the message hash
// is found to have been decrypted successfully before (spec.md §7 step 6).
type ReplayedMessageError struct {
	User      id.UserID
	SenderKey id.SenderKey
}

func (e *ReplayedMessageError) Error() string {
	return fmt.Sprintf("message from %s (key %s) was already decrypted once", e.User, e.SenderKey)
}

// MismatchedSenderError is returned when the plaintext envelope's sender or
// recipient does not match what the outer event / our own user ID claims.
type MismatchedSenderError struct {
	Got, Expected id.UserID
}

func (e *MismatchedSenderError) Error() string {
	return fmt.Sprintf("mismatched sender/recipient in olm payload: got %s, expected %s", e.Got, e.Expected)
}

// MismatchedKeysError is returned when the plaintext envelope's asserted
// Ed25519 key does not match the account's own signing key.
type MismatchedKeysError struct {
	Got, Expected id.Ed25519
}

func (e *MismatchedKeysError) Error() string {
	return fmt.Sprintf("mismatched recipient keys in olm payload: got %s, expected %s", e.Got, e.Expected)
}

// wedgeOrReplay applies spec.md §4.4 step 6: reclassify a wedge as a replay
// if the message's hash is already known to the store.
func wedgeOrReplay(store Store, user id.UserID, senderKey id.SenderKey, hash OlmMessageHash) error {
	known, err := store.IsMessageKnown(hash)
	if err != nil {
		return errors.Wrap(ErrStoreError, err.Error())
	}
	if known {
		return &ReplayedMessageError{User: user, SenderKey: senderKey}
	}
	return &SessionWedgedError{User: user, SenderKey: senderKey}
}
