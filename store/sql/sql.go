// Package sql is a database/sql-backed storeutil.RecordBackend, following
// meszmate-xmpp-go/storage/sql's Store+Dialect shape: one generic query set
// parameterized over the placeholder syntax of the underlying driver.
package sql

import (
	"context"
	gosql "database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/mau-device-identity/olmcrypto/crypto"
	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/id"
	"github.com/mau-device-identity/olmcrypto/store/storeutil"
)

// Store implements storeutil.RecordBackend over database/sql.
type Store struct {
	db      *gosql.DB
	dialect Dialect
}

// New wraps an already-open *sql.DB. Callers select the driver by dialect:
// SQLite{} (driver name "sqlite3"), MySQL{} (driver name "mysql"), or
// Postgres{} (driver name "pgx").
func New(db *gosql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Init creates the schema if it does not already exist.
func (s *Store) Init(ctx context.Context) error {
	// MySQL cannot index an unbounded TEXT column, so its key columns get a
	// bounded type.
	keyType := "TEXT"
	if s.dialect.Name() == "mysql" {
		keyType = "VARCHAR(255)"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS olm_account (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			pickle TEXT NOT NULL,
			shared BOOLEAN NOT NULL,
			uploaded_signed_key_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS olm_session (
			session_id ` + keyType + ` PRIMARY KEY,
			sender_key TEXT NOT NULL,
			pickle TEXT NOT NULL,
			creation_time TIMESTAMP NOT NULL,
			last_use_time TIMESTAMP NOT NULL,
			created_using_fallback_key BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS olm_message_hash (
			hash ` + keyType + ` PRIMARY KEY
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}

func (s *Store) ph(n int) string { return s.dialect.Placeholder(n) }

func (s *Store) LoadAccountRecord() (*crypto.PickledAccount, error) {
	row := s.db.QueryRow(`SELECT user_id, device_id, pickle, shared, uploaded_signed_key_count FROM olm_account WHERE id = 1`)
	var acc crypto.PickledAccount
	var userID, deviceID string
	if err := row.Scan(&userID, &deviceID, &acc.Pickle, &acc.Shared, &acc.UploadedSignedKeyCount); err != nil {
		if err == gosql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	acc.UserID = id.UserID(userID)
	acc.DeviceID = id.DeviceID(deviceID)
	return &acc, nil
}

func (s *Store) SaveAccountRecord(account crypto.PickledAccount) error {
	query := `INSERT INTO olm_account (id, user_id, device_id, pickle, shared, uploaded_signed_key_count)
		VALUES (1, ` + s.ph(1) + `, ` + s.ph(2) + `, ` + s.ph(3) + `, ` + s.ph(4) + `, ` + s.ph(5) + `)
		` + s.dialect.UpsertSuffix([]string{"id"}, []string{"user_id", "device_id", "pickle", "shared", "uploaded_signed_key_count"})
	_, err := s.db.Exec(query, string(account.UserID), string(account.DeviceID), account.Pickle, account.Shared, account.UploadedSignedKeyCount)
	return err
}

func (s *Store) LoadSessionRecords(senderKey id.SenderKey) ([]crypto.PickledSession, error) {
	rows, err := s.db.Query(`SELECT session_id, pickle, creation_time, last_use_time, created_using_fallback_key
		FROM olm_session WHERE sender_key = `+s.ph(1)+` ORDER BY creation_time DESC`, string(senderKey))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []crypto.PickledSession
	for rows.Next() {
		var rec crypto.PickledSession
		var creation, lastUse time.Time
		if err := rows.Scan(&rec.SessionID, &rec.Pickle, &creation, &lastUse, &rec.CreatedUsingFallbackKey); err != nil {
			return nil, err
		}
		rec.SenderKey = senderKey
		rec.CreationTime = creation
		rec.LastUseTime = lastUse
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SaveSessionRecords(sessions []crypto.PickledSession) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	query := `INSERT INTO olm_session (session_id, sender_key, pickle, creation_time, last_use_time, created_using_fallback_key)
		VALUES (` + s.ph(1) + `, ` + s.ph(2) + `, ` + s.ph(3) + `, ` + s.ph(4) + `, ` + s.ph(5) + `, ` + s.ph(6) + `)
		` + s.dialect.UpsertSuffix([]string{"session_id"}, []string{"pickle", "last_use_time"})
	for _, rec := range sessions {
		if _, err := tx.Exec(query, rec.SessionID, string(rec.SenderKey), rec.Pickle, rec.CreationTime, rec.LastUseTime, rec.CreatedUsingFallbackKey); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) IsHashKnown(hash crypto.OlmMessageHash) (bool, error) {
	row := s.db.QueryRow(`SELECT 1 FROM olm_message_hash WHERE hash = `+s.ph(1), string(hash))
	var one int
	err := row.Scan(&one)
	if err == gosql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) SaveHash(hash crypto.OlmMessageHash) error {
	query := `INSERT INTO olm_message_hash (hash) VALUES (` + s.ph(1) + `) ` + s.dialect.UpsertSuffix([]string{"hash"}, nil)
	_, err := s.db.Exec(query, string(hash))
	return err
}

// marshalJSON is kept for symmetry with the redis backend, which stores
// whole records as JSON rather than individual columns.
func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

// NewCryptoStore wraps a database/sql connection into a full crypto.Store,
// composing this package's RecordBackend with storeutil's in-memory
// coordination layer.
func NewCryptoStore(db *gosql.DB, dialect Dialect, identity olm.IdentityKeys, mode olm.PickleMode) *storeutil.Cache {
	return storeutil.NewCache(New(db, dialect), identity, mode)
}
