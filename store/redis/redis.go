// Package redis is a Redis-backed storeutil.RecordBackend, grounded on
// meszmate-xmpp-go/storage/redis's key-namespacing and JSON-blob pattern.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mau-device-identity/olmcrypto/crypto"
	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/id"
	"github.com/mau-device-identity/olmcrypto/store/storeutil"
)

// Store implements storeutil.RecordBackend over a Redis client.
type Store struct {
	rdb *redis.Client
	ctx context.Context
}

// New wraps an already-configured *redis.Client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ctx: context.Background()}
}

const accountKey = "olm:account"

func sessionListKey(senderKey id.SenderKey) string { return "olm:sessions:" + string(senderKey) }
func hashKey(hash crypto.OlmMessageHash) string    { return "olm:hash:" + string(hash) }

func (s *Store) LoadAccountRecord() (*crypto.PickledAccount, error) {
	data, err := s.rdb.Get(s.ctx, accountKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var acc crypto.PickledAccount
	if err := json.Unmarshal([]byte(data), &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Store) SaveAccountRecord(account crypto.PickledAccount) error {
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return s.rdb.Set(s.ctx, accountKey, data, 0).Err()
}

func (s *Store) LoadSessionRecords(senderKey id.SenderKey) ([]crypto.PickledSession, error) {
	entries, err := s.rdb.HGetAll(s.ctx, sessionListKey(senderKey)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]crypto.PickledSession, 0, len(entries))
	for _, raw := range entries {
		var rec crypto.PickledSession
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) SaveSessionRecords(sessions []crypto.PickledSession) error {
	bySender := make(map[id.SenderKey]map[string]interface{})
	for _, rec := range sessions {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		fields, ok := bySender[rec.SenderKey]
		if !ok {
			fields = make(map[string]interface{})
			bySender[rec.SenderKey] = fields
		}
		fields[rec.SessionID] = data
	}
	pipe := s.rdb.Pipeline()
	for senderKey, fields := range bySender {
		pipe.HSet(s.ctx, sessionListKey(senderKey), fields)
	}
	_, err := pipe.Exec(s.ctx)
	return err
}

func (s *Store) IsHashKnown(hash crypto.OlmMessageHash) (bool, error) {
	n, err := s.rdb.Exists(s.ctx, hashKey(hash)).Result()
	return n > 0, err
}

func (s *Store) SaveHash(hash crypto.OlmMessageHash) error {
	// Replay hashes only need to outlive plausible retransmission windows;
	// cap retention rather than growing the keyspace forever.
	return s.rdb.Set(s.ctx, hashKey(hash), 1, 30*24*time.Hour).Err()
}

// NewCryptoStore wraps a Redis client into a full crypto.Store.
func NewCryptoStore(rdb *redis.Client, identity olm.IdentityKeys, mode olm.PickleMode) *storeutil.Cache {
	return storeutil.NewCache(New(rdb), identity, mode)
}
