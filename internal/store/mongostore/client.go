// Package mongostore implements store.Store on MongoDB. Filters are pushed
// down to the server and stock increments use a guarded $inc.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"medipos/m/internal/store"
)

// Config holds MongoDB connection configuration
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
	// Transactions makes ReplaceAll run inside a multi-document transaction.
	// It requires a replica set.
	Transactions bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		URI:            "mongodb://localhost:27017",
		Database:       "medipos",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    50,
	}
}

// Store wraps the MongoDB client.
type Store struct {
	client       *mongo.Client
	database     *mongo.Database
	transactions bool
}

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, cfg *Config) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Store{
		client:       client,
		database:     client.Database(cfg.Database),
		transactions: cfg.Transactions,
	}, nil
}

// EnsureIndexes creates a unique index on id for every collection.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, name := range store.AllCollections {
		_, err := s.database.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
	}
	timeIndexed := []string{store.Sales, store.Returns, store.OPDPrescriptions, store.StockMovements, store.Backups}
	for _, name := range timeIndexed {
		_, err := s.database.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		})
		if err != nil {
			return fmt.Errorf("index %s created_at: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions {
		return fn(ctx)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}
