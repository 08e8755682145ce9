package crypto

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mau-device-identity/olmcrypto/event"
	"github.com/mau-device-identity/olmcrypto/id"
)

// DecryptionResult is what DecryptToDeviceEvent returns on success: the
// session used (tagged New or existing), the decrypted event, the peer's
// asserted Ed25519 signing key, the sender's identity key, and the message
// hash — spec.md §4.4 step 7.
type DecryptionResult struct {
	Session       *Session
	New           bool
	Event         event.PlaintextEnvelope
	SenderKey     id.SenderKey
	SenderEd25519 id.Ed25519
	Hash          OlmMessageHash
}

// DecryptToDeviceEvent implements the decryption pipeline of spec.md §4.4.
func (m *Machine) DecryptToDeviceEvent(evt *event.RawEvent) (*DecryptionResult, error) {
	var content event.EncryptedEventContent
	if err := json.Unmarshal(evt.Content, &content); err != nil {
		return nil, errors.Wrap(err, "failed to parse encrypted event content")
	}
	if content.Algorithm != id.AlgorithmOlmV1 {
		return nil, ErrUnsupportedAlgorithm
	}

	ourKeys, err := m.account.IdentityKeys()
	if err != nil {
		return nil, errors.Wrap(ErrOlmPrimitiveError, err.Error())
	}

	// Step 1: address filter.
	ours, ok := content.Ciphertext[ourKeys.Curve25519]
	if !ok {
		return nil, ErrMissingCiphertext
	}

	// Step 2: parse + compute replay hash before any decryption attempt.
	olmType := ours.Type
	if olmType != id.OlmMsgTypePreKey && olmType != id.OlmMsgTypeMsg {
		return nil, ErrUnsupportedOlmType
	}
	hash := computeMessageHash(content.SenderKey, olmType, ours.Body)

	sessions, err := m.store.GetSessions(content.SenderKey)
	if err != nil {
		return nil, errors.Wrap(ErrStoreError, err.Error())
	}
	sessions.Lock()
	defer sessions.Unlock()

	session, plaintext, probeErr := m.probeExistingSessions(sessions, olmType, ours.Body)
	if probeErr != nil {
		m.markDeviceForUnwedging(evt.Sender, content.SenderKey)
		return nil, wedgeOrReplay(m.store, evt.Sender, content.SenderKey, hash)
	}

	isNew := false
	if session == nil {
		// Step 4: new-session creation, only reachable for PreKey messages;
		// a normal Message with no matching session cannot bootstrap one.
		if olmType != id.OlmMsgTypePreKey {
			m.markDeviceForUnwedging(evt.Sender, content.SenderKey)
			return nil, wedgeOrReplay(m.store, evt.Sender, content.SenderKey, hash)
		}
		newSession, err := m.account.CreateInboundSession(content.SenderKey, ours.Body)
		if err != nil {
			m.markDeviceForUnwedging(evt.Sender, content.SenderKey)
			return nil, wedgeOrReplay(m.store, evt.Sender, content.SenderKey, hash)
		}
		pt, err := newSession.Decrypt(olmType, ours.Body)
		if err != nil {
			// The primitive invariant says a session just created from this
			// exact prekey message must decrypt it; surface as a hard error
			// rather than silently wedging, since no other session exists.
			return nil, errors.Wrap(ErrOlmPrimitiveError, "newly created session failed to decrypt its own prekey message: "+err.Error())
		}
		session = newSession
		plaintext = pt
		isNew = true
		sessions.Add(newSession)
	}

	// The ratchet has advanced (existing session) or a one-time key has been
	// consumed (new session): persist before doing anything else, per
	// spec.md §4.4 step 4/5 and the at-least-once store contract of §4.3.
	if err := m.persistAfterDecrypt(session, isNew); err != nil {
		return nil, errors.Wrap(ErrStoreError, err.Error())
	}
	if err := m.store.SaveMessageHash(hash); err != nil {
		return nil, errors.Wrap(ErrStoreError, err.Error())
	}

	// Step 5: envelope verification.
	var envelope event.PlaintextEnvelope
	if err := json.Unmarshal(plaintext, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to parse olm payload")
	}
	if envelope.Recipient != m.account.UserID() {
		return nil, &MismatchedSenderError{Got: envelope.Recipient, Expected: m.account.UserID()}
	}
	if envelope.Sender != evt.Sender {
		return nil, &MismatchedSenderError{Got: envelope.Sender, Expected: evt.Sender}
	}
	if envelope.RecipientKeys.Ed25519 != ourKeys.Ed25519 {
		return nil, &MismatchedKeysError{Got: envelope.RecipientKeys.Ed25519, Expected: ourKeys.Ed25519}
	}

	return &DecryptionResult{
		Session:       session,
		New:           isNew,
		Event:         envelope,
		SenderKey:     content.SenderKey,
		SenderEd25519: envelope.Keys.Ed25519,
		Hash:          hash,
	}, nil
}

// probeExistingSessions implements spec.md §4.4 step 3: try every known
// session for sender_key in order, applying the matches-gated wedge rule.
// A non-nil error means "wedged" (a matching/mandatory session failed);
// (nil, nil, nil) means no session succeeded and none was wedge-committed,
// so the caller may attempt to create a new one.
func (m *Machine) probeExistingSessions(sessions *SessionList, olmType id.OlmMsgType, ciphertext string) (*Session, []byte, error) {
	for _, session := range sessions.Sessions() {
		if olmType == id.OlmMsgTypePreKey {
			matches, err := session.Matches(ciphertext)
			if err != nil {
				return nil, nil, errors.Wrap(ErrOlmPrimitiveError, err.Error())
			}
			if !matches {
				continue
			}
			plaintext, err := session.Decrypt(olmType, ciphertext)
			if err != nil {
				// Matched but failed to decrypt: the peer believes this is
				// our current session. No other session can be correct.
				return nil, nil, errors.New("decryption failed with matching session")
			}
			return session, plaintext, nil
		}

		plaintext, err := session.Decrypt(olmType, ciphertext)
		if err != nil {
			continue
		}
		return session, plaintext, nil
	}
	return nil, nil, nil
}

// persistAfterDecrypt saves the session (and the account, if a one-time key
// was just consumed) in a single store call, so a crash never leaves one
// persisted without the other (spec.md §5 "Cancellation").
func (m *Machine) persistAfterDecrypt(session *Session, sessionIsNew bool) error {
	pickledSession, err := session.ToPickle(m.pickleMode)
	if err != nil {
		return err
	}
	changes := Changes{Sessions: []PickledSession{pickledSession}}
	if sessionIsNew {
		pickledAccount, err := m.account.ToPickle(m.pickleMode)
		if err != nil {
			return err
		}
		changes.Account = &pickledAccount
	}
	return m.store.SaveChanges(changes)
}
