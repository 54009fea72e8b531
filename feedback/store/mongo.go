package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/crag/config"
	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/feedback"
)

// MongoStore implements feedback.Store using MongoDB
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ feedback.Store = (*MongoStore)(nil)

// NewMongoStore connects, pings and prepares the feedback collection.
func NewMongoStore(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errorskg.Wrap(errorskg.KindConfiguration, "feedback.NewMongoStore",
			fmt.Errorf("failed to connect to MongoDB: %w", err))
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errorskg.Wrap(errorskg.KindConfiguration, "feedback.NewMongoStore",
			fmt.Errorf("failed to ping MongoDB: %w", err))
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	})
	return err
}

// Add inserts e.
func (s *MongoStore) Add(ctx context.Context, e *feedback.Entry) error {
	if e == nil {
		return errorskg.New(errorskg.KindValidation, "feedback.Add", "entry cannot be nil")
	}
	if _, err := s.collection.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("failed to add feedback to MongoDB: %w", err)
	}
	return nil
}

// statsPipeline groups every entry into one summary document.
var statsPipeline = mongo.Pipeline{
	{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: nil},
		{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
		{Key: "rating_sum", Value: bson.D{{Key: "$sum", Value: "$rating"}}},
		{Key: "helpful", Value: bson.D{{Key: "$sum", Value: bson.D{
			{Key: "$cond", Value: bson.A{"$helpful", 1, 0}},
		}}}},
	}}},
}

type statsRow struct {
	Total     int     `bson:"total"`
	RatingSum float64 `bson:"rating_sum"`
	Helpful   int     `bson:"helpful"`
}

// Stats aggregates all feedback server side.
func (s *MongoStore) Stats(ctx context.Context) (feedback.Stats, error) {
	cursor, err := s.collection.Aggregate(ctx, statsPipeline)
	if err != nil {
		return feedback.Stats{}, fmt.Errorf("failed to aggregate feedback: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []statsRow
	if err := cursor.All(ctx, &rows); err != nil {
		return feedback.Stats{}, fmt.Errorf("failed to decode feedback stats: %w", err)
	}
	if len(rows) == 0 {
		return feedback.Stats{}, nil
	}
	return feedback.Summarize(rows[0].Total, rows[0].RatingSum, rows[0].Helpful), nil
}

// Ping checks if MongoDB connection is alive
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
