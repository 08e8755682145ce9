// Package mongo is a MongoDB-backed storeutil.RecordBackend, grounded on
// meszmate-xmpp-go/storage/mongodb's New/Init/doc-struct conventions.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mau-device-identity/olmcrypto/crypto"
	"github.com/mau-device-identity/olmcrypto/crypto/olm"
	"github.com/mau-device-identity/olmcrypto/id"
	"github.com/mau-device-identity/olmcrypto/store/storeutil"
)

// Store implements storeutil.RecordBackend using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to the given URI and selects database.
func New(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Init creates the indexes the query patterns below rely on.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.col("olm_sessions").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sender_key", Value: 1}, {Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo: create index on olm_sessions: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Store) col(name string) *mongo.Collection { return s.db.Collection(name) }

const accountDocID = "singleton"

type accountDoc struct {
	ID                     string `bson:"_id"`
	UserID                 string `bson:"user_id"`
	DeviceID               string `bson:"device_id"`
	Pickle                 string `bson:"pickle"`
	Shared                 bool   `bson:"shared"`
	UploadedSignedKeyCount int    `bson:"uploaded_signed_key_count"`
}

func (s *Store) LoadAccountRecord() (*crypto.PickledAccount, error) {
	ctx := context.Background()
	var doc accountDoc
	err := s.col("olm_account").FindOne(ctx, bson.M{"_id": accountDocID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &crypto.PickledAccount{
		UserID:                 id.UserID(doc.UserID),
		DeviceID:               id.DeviceID(doc.DeviceID),
		Pickle:                 doc.Pickle,
		Shared:                 doc.Shared,
		UploadedSignedKeyCount: doc.UploadedSignedKeyCount,
	}, nil
}

func (s *Store) SaveAccountRecord(account crypto.PickledAccount) error {
	ctx := context.Background()
	_, err := s.col("olm_account").UpdateOne(ctx,
		bson.M{"_id": accountDocID},
		bson.M{"$set": accountDoc{
			ID: accountDocID, UserID: string(account.UserID), DeviceID: string(account.DeviceID),
			Pickle: account.Pickle, Shared: account.Shared, UploadedSignedKeyCount: account.UploadedSignedKeyCount,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

type sessionDoc struct {
	SenderKey               string    `bson:"sender_key"`
	SessionID               string    `bson:"session_id"`
	Pickle                  string    `bson:"pickle"`
	CreationTime            time.Time `bson:"creation_time"`
	LastUseTime             time.Time `bson:"last_use_time"`
	CreatedUsingFallbackKey bool      `bson:"created_using_fallback_key"`
}

func (s *Store) LoadSessionRecords(senderKey id.SenderKey) ([]crypto.PickledSession, error) {
	ctx := context.Background()
	opts := options.Find().SetSort(bson.D{{Key: "creation_time", Value: -1}})
	cursor, err := s.col("olm_sessions").Find(ctx, bson.M{"sender_key": string(senderKey)}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []crypto.PickledSession
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, crypto.PickledSession{
			SessionID:               doc.SessionID,
			SenderKey:               id.SenderKey(doc.SenderKey),
			Pickle:                  doc.Pickle,
			CreationTime:            doc.CreationTime,
			LastUseTime:             doc.LastUseTime,
			CreatedUsingFallbackKey: doc.CreatedUsingFallbackKey,
		})
	}
	return out, cursor.Err()
}

func (s *Store) SaveSessionRecords(sessions []crypto.PickledSession) error {
	ctx := context.Background()
	for _, rec := range sessions {
		_, err := s.col("olm_sessions").UpdateOne(ctx,
			bson.M{"sender_key": string(rec.SenderKey), "session_id": rec.SessionID},
			bson.M{"$set": sessionDoc{
				SenderKey: string(rec.SenderKey), SessionID: rec.SessionID, Pickle: rec.Pickle,
				CreationTime: rec.CreationTime, LastUseTime: rec.LastUseTime,
				CreatedUsingFallbackKey: rec.CreatedUsingFallbackKey,
			}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

type hashDoc struct {
	Hash string `bson:"_id"`
}

func (s *Store) IsHashKnown(hash crypto.OlmMessageHash) (bool, error) {
	ctx := context.Background()
	count, err := s.col("olm_message_hashes").CountDocuments(ctx, bson.M{"_id": string(hash)})
	return count > 0, err
}

func (s *Store) SaveHash(hash crypto.OlmMessageHash) error {
	ctx := context.Background()
	_, err := s.col("olm_message_hashes").UpdateOne(ctx,
		bson.M{"_id": string(hash)},
		bson.M{"$setOnInsert": hashDoc{Hash: string(hash)}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

// NewCryptoStore wraps a MongoDB connection into a full crypto.Store.
func NewCryptoStore(uri, database string, identity olm.IdentityKeys, mode olm.PickleMode) (*storeutil.Cache, error) {
	backend, err := New(uri, database)
	if err != nil {
		return nil, err
	}
	return storeutil.NewCache(backend, identity, mode), nil
}
