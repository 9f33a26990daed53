package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/veriflow/veriflow-backend/internal/models"
)

const traceCollection = "trace_entries"

// MongoTraceStore persists trace entries in MongoDB.
type MongoTraceStore struct {
	db *mongo.Database
}

func NewMongoTraceStore(db *mongo.Database) *MongoTraceStore {
	return &MongoTraceStore{db: db}
}

// EnsureTraceIndexes configures indexes for the trace_entries collection.
// Called on startup from main after Mongo has connected.
func (s *MongoTraceStore) EnsureTraceIndexes(ctx context.Context) error {
	col := s.db.Collection(traceCollection)

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "correlation_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_correlation_created"),
		},
		{
			Keys:    bson.D{{Key: "address", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_address_created"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_status"),
		},
	}

	for _, m := range indexModels {
		if _, err := col.Indexes().CreateOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *MongoTraceStore) Insert(ctx context.Context, entry *models.TraceEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.db.Collection(traceCollection).InsertOne(ctx, entry)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		entry.ID = oid
	}
	return nil
}

func (s *MongoTraceStore) ByCorrelationID(ctx context.Context, correlationID string) ([]models.TraceEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return s.find(ctx, bson.M{"correlation_id": correlationID}, opts)
}

func (s *MongoTraceStore) ByAddress(ctx context.Context, address string, limit int64) ([]models.TraceEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)
	return s.find(ctx, bson.M{"address": address}, opts)
}

func (s *MongoTraceStore) ActiveByAddress(ctx context.Context, address string) (*models.TraceEntry, error) {
	statuses := models.NonTerminalStatuses()
	in := make([]string, 0, len(statuses))
	for _, st := range statuses {
		in = append(in, string(st))
	}
	filter := bson.M{
		"address": address,
		"status":  bson.M{"$in": in},
	}
	return s.findOne(ctx, filter)
}

func (s *MongoTraceStore) LastByCorrelationID(ctx context.Context, correlationID string) (*models.TraceEntry, error) {
	return s.findOne(ctx, bson.M{"correlation_id": correlationID})
}

func (s *MongoTraceStore) Statistics(ctx context.Context) (map[models.TraceStatus]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := s.db.Collection(traceCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	stats := make(map[models.TraceStatus]int64)
	for cur.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			continue
		}
		stats[models.TraceStatus(row.Status)] = row.Count
	}
	return stats, cur.Err()
}

func (s *MongoTraceStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.TraceEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cur, err := s.db.Collection(traceCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []models.TraceEntry
	for cur.Next(ctx) {
		var e models.TraceEntry
		if err := cur.Decode(&e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, cur.Err()
}

func (s *MongoTraceStore) findOne(ctx context.Context, filter bson.M) (*models.TraceEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var e models.TraceEntry
	err := s.db.Collection(traceCollection).FindOne(ctx, filter, opts).Decode(&e)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
