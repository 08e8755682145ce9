// Package id defines the small, string-based identifier types shared
// across the account, event and crypto packages.
package id

// UserID is a fully-qualified Matrix user ID, e.g. "@alice:example.org".
type UserID string

// DeviceID identifies one of a user's devices.
type DeviceID string

// SenderKey is the base64-encoded Curve25519 identity key of a device,
// used to address Olm sessions.
type SenderKey string

// Ed25519 is a base64-encoded Ed25519 public key.
type Ed25519 string

// Curve25519 is a base64-encoded Curve25519 public key.
type Curve25519 string

// KeyID identifies a one-time or fallback key within an account, e.g. "AAAAAQ".
type KeyID string

// DeviceKeyID is a composite key identifier of the form "ed25519:DEVICEID"
// or "curve25519:DEVICEID", used as a map key in signed device key objects.
type DeviceKeyID string

// Algorithm names an encryption algorithm understood by the client.
type Algorithm string

const (
	AlgorithmOlmV1    Algorithm = "m.olm.v1.curve25519-aes-sha2"
	AlgorithmMegolmV1 Algorithm = "m.megolm.v1.aes-sha2"
)

// OlmMsgType distinguishes the two Olm wire message variants.
type OlmMsgType int

const (
	OlmMsgTypePreKey OlmMsgType = 0
	OlmMsgTypeMsg    OlmMsgType = 1
)

// SigningKeyID builds the "ed25519:<device id>" form used as a signatures map key.
func SigningKeyID(device DeviceID) DeviceKeyID {
	return DeviceKeyID("ed25519:" + device)
}

// IdentityKeyID builds the "curve25519:<device id>" form used in DeviceKeys.Keys.
func IdentityKeyID(device DeviceID) DeviceKeyID {
	return DeviceKeyID("curve25519:" + device)
}

// SignedCurve25519KeyID builds the "signed_curve25519:<key id>" map key used
// in one-time/fallback key upload payloads.
func SignedCurve25519KeyID(key KeyID) DeviceKeyID {
	return DeviceKeyID("signed_curve25519:" + key)
}
