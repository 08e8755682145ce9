package crypto

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/mau-device-identity/olmcrypto/id"
)

// DeviceKeys is the signed device-identity object uploaded once per device,
// mirroring the teacher's requests.go DeviceKeys shape.
type DeviceKeys struct {
	UserID     id.UserID                       `json:"user_id"`
	DeviceID   id.DeviceID                     `json:"device_id"`
	Algorithms []id.Algorithm                  `json:"algorithms"`
	Keys       map[id.DeviceKeyID]string       `json:"keys"`
	Signatures map[id.UserID]map[id.DeviceKeyID]string `json:"signatures"`
}

// SupportedAlgorithms is the fixed algorithm list this module's device
// always advertises (spec.md §6).
var SupportedAlgorithms = []id.Algorithm{id.AlgorithmOlmV1, id.AlgorithmMegolmV1}

func (a *Account) deviceKeys() (DeviceKeys, error) {
	keys, err := a.inner.IdentityKeys()
	if err != nil {
		return DeviceKeys{}, err
	}
	dk := DeviceKeys{
		UserID:     a.userID,
		DeviceID:   a.deviceID,
		Algorithms: SupportedAlgorithms,
		Keys: map[id.DeviceKeyID]string{
			id.IdentityKeyID(a.deviceID): string(keys.Curve25519),
			id.SigningKeyID(a.deviceID):  string(keys.Ed25519),
		},
	}
	sig, err := a.SignJSON(dk)
	if err != nil {
		return DeviceKeys{}, err
	}
	dk.Signatures = map[id.UserID]map[id.DeviceKeyID]string{
		a.userID: {id.SigningKeyID(a.deviceID): sig},
	}
	return dk, nil
}

// OneTimeKeyUpload is the map shape of the "one_time_keys" field of an
// upload request: "signed_curve25519:<key id>" -> signed key object.
type OneTimeKeyUpload map[id.DeviceKeyID]SignedKeyObject

func verifyEd25519(pub id.Ed25519, message []byte, sig string) bool {
	pubBytes, err := base64.RawStdEncoding.DecodeString(string(pub))
	if err != nil {
		// Matrix signatures/keys are unpadded base64; accept padded too.
		pubBytes, err = base64.StdEncoding.DecodeString(string(pub))
		if err != nil {
			return false
		}
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return false
	}
	sigBytes, err := base64.RawStdEncoding.DecodeString(sig)
	if err != nil {
		sigBytes, err = base64.StdEncoding.DecodeString(sig)
		if err != nil {
			return false
		}
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), message, sigBytes)
}
