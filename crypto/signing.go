package crypto

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mau-device-identity/olmcrypto/id"
)

// SignJSON strips "unsigned" and "signatures" from value, canonicalizes
// what remains, and signs it with account's Ed25519 key (spec.md §4.1/4.6).
// Canonicalization failure is a programmer error: the caller passed a
// value encoding/json cannot marshal, which never happens for the request
// shapes this module builds, so it panics rather than threading an error
// through every call site.
func (a *Account) SignJSON(value interface{}) (string, error) {
	stripped, err := stripSignaturesAndUnsigned(value)
	if err != nil {
		panic(errors.Wrap(err, "canonical JSON encoding failed for a value this module constructed"))
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, stripped); err != nil {
		panic(errors.Wrap(err, "canonical JSON encoding failed for a value this module constructed"))
	}
	return a.Sign(buf.Bytes())
}

// SignedKeyObject is the shape a single one-time or fallback key takes once
// signed for upload: the canonicalized {key: ...} object plus the resulting
// signature attached at signatures[user_id][ed25519:device_id].
type SignedKeyObject struct {
	Key        id.Curve25519                                   `json:"key"`
	Fallback   bool                                             `json:"fallback,omitempty"`
	Signatures map[id.UserID]map[id.DeviceKeyID]string `json:"signatures"`
}

// signKey canonicalizes and signs a {key, [fallback]} object, attaching the
// resulting signature under signatures[user_id][ed25519:device_id], exactly
// as spec.md §4.1 describes.
func (a *Account) signKey(key id.Curve25519, fallback bool) (SignedKeyObject, error) {
	unsigned := struct {
		Key      id.Curve25519 `json:"key"`
		Fallback bool           `json:"fallback,omitempty"`
	}{Key: key, Fallback: fallback}
	sig, err := a.SignJSON(unsigned)
	if err != nil {
		return SignedKeyObject{}, errors.Wrap(err, "failed to sign one-time/fallback key")
	}
	return SignedKeyObject{
		Key:      key,
		Fallback: fallback,
		Signatures: map[id.UserID]map[id.DeviceKeyID]string{
			a.userID: {id.SigningKeyID(a.deviceID): sig},
		},
	}, nil
}

// VerifySignedKey checks that a peer's signed one-time/fallback key object
// carries a valid Ed25519 signature from signingKey, per spec.md §9
// "SUPPLEMENTED FEATURES": the natural counterpart to signing keys on
// upload is verifying a claimed key's signature before using it to build an
// outbound session.
func VerifySignedKey(userID id.UserID, device id.DeviceID, signingKey id.Ed25519, signed SignedKeyObject) error {
	sigMap, ok := signed.Signatures[userID]
	if !ok {
		return errors.New("no signature from claimed user on one-time key")
	}
	sig, ok := sigMap[id.SigningKeyID(device)]
	if !ok {
		return errors.New("no signature from claimed device on one-time key")
	}
	unsigned := struct {
		Key      id.Curve25519 `json:"key"`
		Fallback bool           `json:"fallback,omitempty"`
	}{Key: signed.Key, Fallback: signed.Fallback}
	stripped, err := stripSignaturesAndUnsigned(unsigned)
	if err != nil {
		return errors.Wrap(err, "failed to canonicalize signed key for verification")
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, stripped); err != nil {
		return errors.Wrap(err, "failed to canonicalize signed key for verification")
	}
	if !verifyEd25519(signingKey, buf.Bytes(), sig) {
		return errors.New("invalid signature on one-time/fallback key")
	}
	return nil
}

// marshalCanonical is a small convenience used by tests to assert on the
// exact signing pre-image of a value.
func marshalCanonical(v interface{}) (string, error) {
	b, err := canonicalJSON(v)
	if err != nil {
		return "", err
	}
	var sanity map[string]json.RawMessage
	_ = json.Unmarshal(b, &sanity) // best-effort: not every v canonicalizes to an object
	return string(b), nil
}
