package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ragbridge/internal/domain"
)

// Store persists raw documents. Insert reports whether the document was
// actually written; a duplicate of an already-ingested origin is a skip,
// not an error.
type Store interface {
	Insert(ctx context.Context, doc *RawDocument) (inserted bool, err error)
	Get(ctx context.Context, id string) (*RawDocument, error)
	List(ctx context.Context, filter ListFilter) ([]RawDocument, error)
	UpdateStatus(ctx context.Context, id, status, errorMessage string) error
	MarkProcessed(ctx context.Context, id string, chunkCount int) error
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	return &MongoStore{coll: db.Collection(collection)}
}

// EnsureIndexes creates the dedup and listing indexes. The unique compound
// index on (origin_source_type, origin_source_id, origin_id) is what makes
// re-ingesting the same origin document a no-op.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "raw_document_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "origin_source_type", Value: 1},
				{Key: "origin_source_id", Value: 1},
				{Key: "origin_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	})
	return err
}

func (s *MongoStore) Insert(ctx context.Context, doc *RawDocument) (bool, error) {
	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}
	return true, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*RawDocument, error) {
	var doc RawDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "raw_document_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: raw document %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MongoStore) List(ctx context.Context, filter ListFilter) ([]RawDocument, error) {
	query := bson.D{}
	if filter.Status != "" {
		query = append(query, bson.E{Key: "status", Value: filter.Status})
	}
	if filter.SourceType != "" {
		query = append(query, bson.E{Key: "origin_source_type", Value: filter.SourceType})
	}
	if filter.SourceID != "" {
		query = append(query, bson.E{Key: "origin_source_id", Value: filter.SourceID})
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(filter.Skip))
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []RawDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, id, status, errorMessage string) error {
	set := bson.D{{Key: "status", Value: status}, {Key: "error_message", Value: errorMessage}}
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "raw_document_id", Value: id}},
		bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: raw document %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *MongoStore) MarkProcessed(ctx context.Context, id string, chunkCount int) error {
	now := time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "raw_document_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: StatusProcessed},
			{Key: "chunk_count", Value: chunkCount},
			{Key: "processed_at", Value: now},
			{Key: "error_message", Value: ""},
		}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: raw document %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "raw_document_id", Value: id}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: raw document %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *MongoStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	cursor, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	counts := make(map[string]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}
