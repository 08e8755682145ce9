package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/event"
	"github.com/mau-device-identity/olmcrypto/id"
)

// tamperCiphertext flips the last byte of a decoded Olm wire message. The
// Olm message format places its truncated HMAC at the very end, after the
// header fields Matches inspects (identity key, base key, one-time key id),
// so this corrupts only the MAC the session checks during Decrypt while
// leaving everything Matches parses untouched.
func tamperCiphertext(t *testing.T, ciphertext string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	raw[len(raw)-1] ^= 0xFF
	return base64.StdEncoding.EncodeToString(raw)
}

type fakeStore struct {
	account      *PickledAccount
	sessions     map[id.SenderKey]*SessionList
	hashes       map[OlmMessageHash]struct{}
	savedChanges []Changes
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[id.SenderKey]*SessionList),
		hashes:   make(map[OlmMessageHash]struct{}),
	}
}

func (f *fakeStore) LoadAccount() (*PickledAccount, error) { return f.account, nil }

func (f *fakeStore) GetSessions(senderKey id.SenderKey) (*SessionList, error) {
	list, ok := f.sessions[senderKey]
	if !ok {
		list = NewSessionList()
		f.sessions[senderKey] = list
	}
	return list, nil
}

func (f *fakeStore) SaveChanges(changes Changes) error {
	f.savedChanges = append(f.savedChanges, changes)
	if changes.Account != nil {
		acc := *changes.Account
		f.account = &acc
	}
	return nil
}

func (f *fakeStore) SaveSessions(sessions []PickledSession) error { return nil }

func (f *fakeStore) IsMessageKnown(hash OlmMessageHash) (bool, error) {
	_, ok := f.hashes[hash]
	return ok, nil
}

func (f *fakeStore) SaveMessageHash(hash OlmMessageHash) error {
	f.hashes[hash] = struct{}{}
	return nil
}

func buildEncryptedEvent(t *testing.T, sender *Account, session *Session, recipientKeys olm.IdentityKeys, senderKeys olm.IdentityKeys, recipient id.UserID, body string) *event.RawEvent {
	t.Helper()
	envelope := event.PlaintextEnvelope{
		Sender:        sender.UserID(),
		SenderDevice:  sender.DeviceID(),
		Recipient:     recipient,
		RecipientKeys: event.OlmEventKeys{Ed25519: recipientKeys.Ed25519},
		Keys:          event.OlmEventKeys{Ed25519: senderKeys.Ed25519},
		Type:          "m.room.message",
		Content:       json.RawMessage(`{"body":"` + body + `"}`),
	}
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)

	msgType, ciphertext, err := session.Encrypt(payload)
	require.NoError(t, err)

	content := event.EncryptedEventContent{
		Algorithm: id.AlgorithmOlmV1,
		SenderKey: id.SenderKey(senderKeys.Curve25519),
		Ciphertext: map[id.Curve25519]event.OneTimeKeyCiphertext{
			recipientKeys.Curve25519: {Type: msgType, Body: ciphertext},
		},
	}
	contentBytes, err := json.Marshal(content)
	require.NoError(t, err)

	return &event.RawEvent{Sender: sender.UserID(), Type: "m.room.encrypted", Content: contentBytes}
}

func TestDecryptToDeviceEventPreKeyEstablishesSession(t *testing.T) {
	alice := newTestAccount(t)
	bob, err := NewAccount("@bob:example.org", "DEVICEB")
	require.NoError(t, err)
	require.NoError(t, bob.GenerateOneTimeKeys(1))

	bobOTKs, err := bob.inner.OneTimeKeys()
	require.NoError(t, err)
	bobIdentity, err := bob.IdentityKeys()
	require.NoError(t, err)
	aliceIdentity, err := alice.IdentityKeys()
	require.NoError(t, err)

	session, err := alice.CreateOutboundSession(bobIdentity.Curve25519, bobOTKs[0].Key, false)
	require.NoError(t, err)

	evt := buildEncryptedEvent(t, alice, session, bobIdentity, aliceIdentity, bob.UserID(), "hi bob")

	store := newFakeStore()
	machine := NewMachine(bob, store, nil, olm.Plaintext)

	result, err := machine.DecryptToDeviceEvent(evt)
	require.NoError(t, err)
	require.True(t, result.New)

	var body struct {
		Body string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(result.Event.Content, &body))
	require.Equal(t, "hi bob", body.Body)

	known, err := store.IsMessageKnown(result.Hash)
	require.NoError(t, err)
	require.True(t, known)
}

func TestDecryptToDeviceEventReplayIsRejected(t *testing.T) {
	alice := newTestAccount(t)
	bob, err := NewAccount("@bob:example.org", "DEVICEB")
	require.NoError(t, err)
	require.NoError(t, bob.GenerateOneTimeKeys(1))

	bobOTKs, err := bob.inner.OneTimeKeys()
	require.NoError(t, err)
	bobIdentity, err := bob.IdentityKeys()
	require.NoError(t, err)
	aliceIdentity, err := alice.IdentityKeys()
	require.NoError(t, err)

	session, err := alice.CreateOutboundSession(bobIdentity.Curve25519, bobOTKs[0].Key, false)
	require.NoError(t, err)

	evt := buildEncryptedEvent(t, alice, session, bobIdentity, aliceIdentity, bob.UserID(), "hi bob")

	store := newFakeStore()
	machine := NewMachine(bob, store, nil, olm.Plaintext)

	// First delivery establishes the session and records the hash.
	_, err = machine.DecryptToDeviceEvent(evt)
	require.NoError(t, err)

	// Redelivering the exact same prekey ciphertext matches the
	// now-established session but can no longer decrypt (the ratchet
	// already advanced past it), so it must be reported as a replay rather
	// than silently wedging the session.
	_, err = machine.DecryptToDeviceEvent(evt)
	require.Error(t, err)
	var replayErr *ReplayedMessageError
	require.ErrorAs(t, err, &replayErr)
}

func TestDecryptToDeviceEventWedgedSessionStaysWedgedOnReplay(t *testing.T) {
	alice := newTestAccount(t)
	bob, err := NewAccount("@bob:example.org", "DEVICEB")
	require.NoError(t, err)
	require.NoError(t, bob.GenerateOneTimeKeys(1))

	bobOTKs, err := bob.inner.OneTimeKeys()
	require.NoError(t, err)
	bobIdentity, err := bob.IdentityKeys()
	require.NoError(t, err)
	aliceIdentity, err := alice.IdentityKeys()
	require.NoError(t, err)

	session, err := alice.CreateOutboundSession(bobIdentity.Curve25519, bobOTKs[0].Key, false)
	require.NoError(t, err)

	establishEvt := buildEncryptedEvent(t, alice, session, bobIdentity, aliceIdentity, bob.UserID(), "hi bob")

	store := newFakeStore()
	machine := NewMachine(bob, store, nil, olm.Plaintext)

	// First delivery establishes bob's session.
	_, err = machine.DecryptToDeviceEvent(establishEvt)
	require.NoError(t, err)

	// A second message from alice's session still matches bob's now-
	// established session (same identity/base/one-time key fingerprint),
	// but its MAC is corrupted, so Decrypt fails: a matching session that
	// cannot decrypt is a wedge, not a miss.
	msgType, ciphertext, err := session.Encrypt([]byte(`{"body":"second"}`))
	require.NoError(t, err)
	tampered := tamperCiphertext(t, ciphertext)

	content := event.EncryptedEventContent{
		Algorithm: id.AlgorithmOlmV1,
		SenderKey: id.SenderKey(aliceIdentity.Curve25519),
		Ciphertext: map[id.Curve25519]event.OneTimeKeyCiphertext{
			bobIdentity.Curve25519: {Type: msgType, Body: tampered},
		},
	}
	contentBytes, err := json.Marshal(content)
	require.NoError(t, err)
	wedgeEvt := &event.RawEvent{Sender: alice.UserID(), Type: "m.room.encrypted", Content: contentBytes}

	_, err = machine.DecryptToDeviceEvent(wedgeEvt)
	require.Error(t, err)
	var wedgedErr *SessionWedgedError
	require.ErrorAs(t, err, &wedgedErr)

	// Redelivering the exact same wedge bytes must stay wedged: the wedge
	// path never reaches SaveMessageHash, so this hash was never recorded
	// and must not be reclassified as a replay.
	_, err = machine.DecryptToDeviceEvent(wedgeEvt)
	require.Error(t, err)
	require.ErrorAs(t, err, &wedgedErr)
	var replayErr *ReplayedMessageError
	require.False(t, errors.As(err, &replayErr), "a wedged message must not flip to replayed on redelivery")
}

func TestDecryptToDeviceEventWrongRecipientPersistsSessionBeforeError(t *testing.T) {
	alice := newTestAccount(t)
	bob, err := NewAccount("@bob:example.org", "DEVICEB")
	require.NoError(t, err)
	require.NoError(t, bob.GenerateOneTimeKeys(1))

	bobOTKs, err := bob.inner.OneTimeKeys()
	require.NoError(t, err)
	bobIdentity, err := bob.IdentityKeys()
	require.NoError(t, err)
	aliceIdentity, err := alice.IdentityKeys()
	require.NoError(t, err)

	session, err := alice.CreateOutboundSession(bobIdentity.Curve25519, bobOTKs[0].Key, false)
	require.NoError(t, err)

	// The inner envelope claims a recipient that is not bob: the outer
	// to-device event still addresses bob's curve25519 key, so the
	// ciphertext is decryptable, but the payload inside fails the
	// recipient check of step 5.
	envelope := event.PlaintextEnvelope{
		Sender:        alice.UserID(),
		SenderDevice:  alice.DeviceID(),
		Recipient:     "@mallory:example.org",
		RecipientKeys: event.OlmEventKeys{Ed25519: bobIdentity.Ed25519},
		Keys:          event.OlmEventKeys{Ed25519: aliceIdentity.Ed25519},
		Type:          "m.room.message",
		Content:       json.RawMessage(`{"body":"hi bob"}`),
	}
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)
	msgType, ciphertext, err := session.Encrypt(payload)
	require.NoError(t, err)

	content := event.EncryptedEventContent{
		Algorithm: id.AlgorithmOlmV1,
		SenderKey: id.SenderKey(aliceIdentity.Curve25519),
		Ciphertext: map[id.Curve25519]event.OneTimeKeyCiphertext{
			bobIdentity.Curve25519: {Type: msgType, Body: ciphertext},
		},
	}
	contentBytes, err := json.Marshal(content)
	require.NoError(t, err)
	evt := &event.RawEvent{Sender: alice.UserID(), Type: "m.room.encrypted", Content: contentBytes}

	store := newFakeStore()
	machine := NewMachine(bob, store, nil, olm.Plaintext)

	_, err = machine.DecryptToDeviceEvent(evt)
	require.Error(t, err)
	var mismatchErr *MismatchedSenderError
	require.ErrorAs(t, err, &mismatchErr)
	require.Equal(t, id.UserID("@mallory:example.org"), mismatchErr.Got)
	require.Equal(t, bob.UserID(), mismatchErr.Expected)

	// Step 4/5's persist-before-surfacing-the-error rule: the new inbound
	// session (and the one-time key it consumed) must already be saved
	// even though the envelope check above failed.
	require.NotNil(t, store.account, "account must be persisted despite the recipient mismatch")
	require.Len(t, store.savedChanges, 1)
	require.NotNil(t, store.savedChanges[0].Account)
	require.Len(t, store.savedChanges[0].Sessions, 1, "the new session must be persisted despite the recipient mismatch")
}
