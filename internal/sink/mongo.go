package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/scrape-dispatcher/internal/session"
	"github.com/cuongbtq/scrape-dispatcher/shared/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore upserts one document per (identifier, record id)
type MongoStore struct {
	client       *mongodb.Client
	collection   *mongo.Collection
	closeTimeout time.Duration
	logger       *slog.Logger
}

// NewMongoStore binds the store to a collection. The store takes ownership
// of client.
func NewMongoStore(client *mongodb.Client, collection string, logger *slog.Logger) *MongoStore {
	if collection == "" {
		collection = "records"
	}

	logger.Info("MongoDB record sink ready",
		slog.String("collection", collection),
	)

	return &MongoStore{
		client:       client,
		collection:   client.Collection(collection),
		closeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// Store upserts the record document
func (s *MongoStore) Store(ctx context.Context, jobID, identifier string, rec session.Record) error {
	filter, doc, err := recordDocument(jobID, identifier, rec, time.Now().UTC())
	if err != nil {
		return err
	}

	_, err = s.collection.UpdateOne(ctx, filter,
		bson.D{{Key: "$setOnInsert", Value: doc}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// HealthCheck pings the server
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close disconnects the underlying client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
	defer cancel()
	return s.client.Close(ctx)
}

// recordDocument builds the upsert filter and the document stored on first
// insert. Record data that is valid JSON is stored as a sub-document.
func recordDocument(jobID, identifier string, rec session.Record, now time.Time) (bson.D, bson.D, error) {
	filter := bson.D{
		{Key: "identifier", Value: identifier},
		{Key: "record_id", Value: rec.ID},
	}

	var data any
	if len(rec.Data) > 0 {
		if err := json.Unmarshal(rec.Data, &data); err != nil {
			return nil, nil, fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
		}
	}

	doc := bson.D{
		{Key: "identifier", Value: identifier},
		{Key: "record_id", Value: rec.ID},
		{Key: "job_id", Value: jobID},
		{Key: "data", Value: data},
		{Key: "stored_at", Value: now},
	}
	return filter, doc, nil
}
