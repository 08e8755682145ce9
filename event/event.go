// Package event defines the wire shapes for to-device events and the
// Olm-encrypted envelope carried inside them. It intentionally mirrors the
// narrow slice of the Matrix event model this module touches; full event
// type fan-out (room events, state events, …) is out of scope.
package event

import (
	"encoding/json"

	"github.com/mau-device-identity/olmcrypto/id"
)

// Type is a Matrix event type string, e.g. "m.room.encrypted".
type Type string

// RawEvent is an inbound to-device event before its content has been
// narrowed to a concrete type.
type RawEvent struct {
	Sender  id.UserID       `json:"sender"`
	Type    Type            `json:"type"`
	Content json.RawMessage `json:"content"`
}

// OneTimeKeyCiphertext is one entry of an EncryptedEventContent's ciphertext
// map: the Olm message addressed to one specific recipient identity key.
type OneTimeKeyCiphertext struct {
	Type id.OlmMsgType `json:"type"`
	Body string        `json:"body"`
}

// EncryptedEventContent is the content of an "m.room.encrypted" to-device
// event using the m.olm.v1.curve25519-aes-sha2 algorithm.
type EncryptedEventContent struct {
	Algorithm id.Algorithm                            `json:"algorithm"`
	SenderKey id.SenderKey                             `json:"sender_key"`
	Ciphertext map[id.Curve25519]OneTimeKeyCiphertext `json:"ciphertext"`
}

// OlmEventKeys carries the signing key asserted inside a decrypted Olm
// plaintext envelope.
type OlmEventKeys struct {
	Ed25519 id.Ed25519 `json:"ed25519"`
}

// PlaintextEnvelope is the mandatory JSON shape of a decrypted Olm
// plaintext payload, per spec.md §6 "Decrypted envelope (plaintext
// contract)". All four identity fields are mandatory.
type PlaintextEnvelope struct {
	Sender        id.UserID       `json:"sender"`
	SenderDevice  id.DeviceID     `json:"sender_device,omitempty"`
	Recipient     id.UserID       `json:"recipient"`
	RecipientKeys OlmEventKeys    `json:"recipient_keys"`
	Keys          OlmEventKeys    `json:"keys"`
	Type          Type            `json:"type"`
	Content       json.RawMessage `json:"content"`
}
