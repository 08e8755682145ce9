// Command device-identity-demo wires two Machines together end-to-end
// (Alice and Bob), exercising the upload planning and to-device decryption
// paths against in-memory stores. Modeled on meszmate-xmpp-go/cmd/xmppd's
// small, linear main.
package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/mau-device-identity/olmcrypto/crypto"
	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/event"
	"github.com/mau-device-identity/olmcrypto/id"
	"github.com/mau-device-identity/olmcrypto/store/memory"
)

func main() {
	logger := log.Default()
	logger.SetLevel(log.InfoLevel)

	alice, err := newDevice(logger, "@alice:example.org", "ALICEDEVICE")
	fatalIf(logger, "build alice", err)
	bob, err := newDevice(logger, "@bob:example.org", "BOBDEVICE")
	fatalIf(logger, "build bob", err)

	bobPlan, err := bob.KeysForUpload()
	fatalIf(logger, "bob upload plan", err)
	if len(bobPlan.OneTimeKeys) == 0 {
		logger.Fatal("bob's upload plan produced no one-time keys")
	}
	fatalIf(logger, "bob upload success", bob.OnUploadSuccess(crypto.UploadResult{
		OneTimeKeyCounts: map[id.Algorithm]int{"signed_curve25519": len(bobPlan.OneTimeKeys) - 1},
	}))

	bobIdentity, err := bob.Account().IdentityKeys()
	fatalIf(logger, "bob identity keys", err)

	var claimedKeyID id.DeviceKeyID
	var claimedKey crypto.SignedKeyObject
	for keyID, signed := range bobPlan.OneTimeKeys {
		claimedKeyID, claimedKey = keyID, signed
		break
	}
	logger.Info("claimed one-time key", "device", bob.Account().DeviceID(), "key_id", claimedKeyID)

	fatalIf(logger, "verify claimed key", crypto.VerifySignedKey(bob.Account().UserID(), bob.Account().DeviceID(), bobIdentity.Ed25519, claimedKey))

	aliceSession, err := alice.Account().CreateOutboundSession(bobIdentity.Curve25519, claimedKey.Key, claimedKey.Fallback)
	fatalIf(logger, "alice outbound session", err)

	aliceIdentity, err := alice.Account().IdentityKeys()
	fatalIf(logger, "alice identity keys", err)

	plaintext := event.PlaintextEnvelope{
		Sender:        alice.Account().UserID(),
		SenderDevice:  alice.Account().DeviceID(),
		Recipient:     bob.Account().UserID(),
		RecipientKeys: event.OlmEventKeys{Ed25519: bobIdentity.Ed25519},
		Keys:          event.OlmEventKeys{Ed25519: aliceIdentity.Ed25519},
		Type:          "m.room.message",
		Content:       json.RawMessage(`{"body":"hello bob"}`),
	}
	payload, err := json.Marshal(plaintext)
	fatalIf(logger, "marshal envelope", err)

	msgType, ciphertext, err := aliceSession.Encrypt(payload)
	fatalIf(logger, "encrypt", err)

	content := event.EncryptedEventContent{
		Algorithm: id.AlgorithmOlmV1,
		SenderKey: id.SenderKey(aliceIdentity.Curve25519),
		Ciphertext: map[id.Curve25519]event.OneTimeKeyCiphertext{
			bobIdentity.Curve25519: {Type: msgType, Body: ciphertext},
		},
	}
	contentBytes, err := json.Marshal(content)
	fatalIf(logger, "marshal content", err)

	evt := &event.RawEvent{
		Sender:  alice.Account().UserID(),
		Type:    "m.room.encrypted",
		Content: contentBytes,
	}

	result, err := bob.DecryptToDeviceEvent(evt)
	fatalIf(logger, "decrypt", err)

	var body struct {
		Body string `json:"body"`
	}
	_ = json.Unmarshal(result.Event.Content, &body)
	fmt.Printf("bob decrypted from %s (new session: %v): %q\n", result.Event.Sender, result.New, body.Body)
}

// newDevice builds a fresh Machine backed by an in-memory store. Durable
// backends (store/sql, store/redis, store/mongo) all satisfy the same
// crypto.Store interface and can be substituted here unchanged.
func newDevice(logger *log.Logger, user id.UserID, device id.DeviceID) (*crypto.Machine, error) {
	account, err := crypto.NewAccount(user, device)
	if err != nil {
		return nil, err
	}
	store := memory.New()
	machine := crypto.NewMachine(account, store, logger, olm.Plaintext)
	return machine, nil
}

func fatalIf(logger *log.Logger, action string, err error) {
	if err != nil {
		logger.Fatal(action+" failed", "error", err)
	}
}
