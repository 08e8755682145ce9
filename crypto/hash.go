package crypto

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/mau-device-identity/olmcrypto/id"
)

// computeMessageHash implements spec.md §3's OlmMessageHash:
// SHA-256(sender_key || message_type_byte || ciphertext), base64.
func computeMessageHash(senderKey id.SenderKey, olmType id.OlmMsgType, ciphertext string) OlmMessageHash {
	h := sha256.New()
	h.Write([]byte(senderKey))
	h.Write([]byte{byte(olmType)})
	h.Write([]byte(ciphertext))
	return OlmMessageHash(base64.StdEncoding.EncodeToString(h.Sum(nil)))
}
