package jobs

import (
	"context"
	"errors"
	"fmt"

	"DocSage/backend/go/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoStore is a Store backed by a MongoDB collection. Documents are keyed
// by job id; the inline text of a request is never persisted.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates a new MongoStore.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// Create inserts a new job record.
func (s *MongoStore) Create(ctx context.Context, job *models.IngestJob) error {
	if _, err := s.collection.InsertOne(ctx, job); err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves a job by its id.
func (s *MongoStore) Get(ctx context.Context, id string) (*models.IngestJob, error) {
	var job models.IngestJob
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return &job, nil
}

// Update writes the mutable fields of a job.
func (s *MongoStore) Update(ctx context.Context, job *models.IngestJob) error {
	update := bson.M{
		"$set": bson.M{
			"status":       job.Status,
			"result":       job.Result,
			"error":        job.Error,
			"updated_at":   job.UpdatedAt,
			"completed_at": job.CompletedAt,
		},
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": job.ID}, update)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrJobNotFound
	}
	return nil
}
