package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	mongoEntriesCollection = "cache_entries"
	mongoSchemaCollection  = "schema_versions"
	mongoSchemaVersion     = 1
)

type mongoEntry struct {
	Key       string `bson:"_id"`
	Data      string `bson:"data"`
	Timestamp int64  `bson:"timestamp"`
}

// MongoDBStore implements Store for MongoDB.
// Each entry is one document keyed by _id, so every write replaces the
// document atomically.
type MongoDBStore struct {
	entries *mongo.Collection
	schema  *mongo.Collection
}

// NewMongoDBStore creates a new MongoDB cache store.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBStore{
		entries: database.Collection(mongoEntriesCollection),
		schema:  database.Collection(mongoSchemaCollection),
	}, nil
}

// Init creates indexes and records the schema version.
func (s *MongoDBStore) Init(ctx context.Context) error {
	var current struct {
		Version int `bson:"version"`
	}
	err := s.schema.FindOne(ctx, bson.M{"_id": mongoEntriesCollection}).Decode(&current)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current.Version >= mongoSchemaVersion {
		return nil
	}

	if _, err := s.entries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create timestamp index: %w", err)
	}

	_, err = s.schema.UpdateOne(ctx,
		bson.M{"_id": mongoEntriesCollection},
		bson.M{"$set": bson.M{"version": mongoSchemaVersion}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	slog.Info("cache schema migrated", "backend", "mongodb", "version", mongoSchemaVersion)
	return nil
}

// Get returns the row for key.
func (s *MongoDBStore) Get(ctx context.Context, key string) (*Row, error) {
	var doc mongoEntry
	err := s.entries.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache document: %w", err)
	}
	return &Row{Key: doc.Key, Data: []byte(doc.Data), Timestamp: doc.Timestamp}, nil
}

// Set replaces the document for row.Key, inserting it if needed.
func (s *MongoDBStore) Set(ctx context.Context, row Row) error {
	doc := mongoEntry{Key: row.Key, Data: string(row.Data), Timestamp: row.Timestamp}
	_, err := s.entries.ReplaceOne(ctx, bson.M{"_id": row.Key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write cache document: %w", err)
	}
	return nil
}

// Delete removes the document for key.
func (s *MongoDBStore) Delete(ctx context.Context, key string) error {
	if _, err := s.entries.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete cache document: %w", err)
	}
	return nil
}

// DeleteIfUnchanged removes the document for key if it still carries timestamp.
func (s *MongoDBStore) DeleteIfUnchanged(ctx context.Context, key string, timestamp int64) error {
	if _, err := s.entries.DeleteOne(ctx, bson.M{"_id": key, "timestamp": timestamp}); err != nil {
		return fmt.Errorf("failed to delete cache document: %w", err)
	}
	return nil
}

// DeletePrefix removes every document whose key starts with prefix.
func (s *MongoDBStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	result, err := s.entries.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache documents: %w", err)
	}
	return int(result.DeletedCount), nil
}

// Clear removes every document.
func (s *MongoDBStore) Clear(ctx context.Context) (int, error) {
	result, err := s.entries.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache documents: %w", err)
	}
	return int(result.DeletedCount), nil
}

// List describes every document.
func (s *MongoDBStore) List(ctx context.Context) ([]RowInfo, error) {
	cursor, err := s.entries.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list cache documents: %w", err)
	}
	defer cursor.Close(ctx)

	var out []RowInfo
	for cursor.Next(ctx) {
		var doc mongoEntry
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode cache document: %w", err)
		}
		out = append(out, RowInfo{Key: doc.Key, Bytes: int64(len(doc.Data)), Timestamp: doc.Timestamp})
	}
	return out, cursor.Err()
}

// Close is a no-op; the client is owned by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
