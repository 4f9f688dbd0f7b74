package origin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"ragbridge/internal/domain"
)

// MongoSource exposes the documents of one MongoDB collection. The _id is
// the origin id and listings sort by it, so pagination is stable. The
// document body is flattened to relaxed extended JSON for chunking.
type MongoSource struct {
	uri        string
	database   string
	collection string
}

func NewMongoSource(uri, database, collection string) *MongoSource {
	return &MongoSource{uri: uri, database: database, collection: collection}
}

func (s *MongoSource) connect(ctx context.Context) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(s.uri).SetServerSelectionTimeout(5 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: mongo origin: %v", domain.ErrAdapterUnavailable, err)
	}
	return client, nil
}

func (s *MongoSource) Test(ctx context.Context) TestResult {
	client, err := s.connect(ctx)
	if err != nil {
		return TestResult{Status: "error", Message: err.Error()}
	}
	defer client.Disconnect(ctx)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return TestResult{Status: "error", Message: err.Error()}
	}
	return TestResult{Status: "connected", Message: fmt.Sprintf("%s.%s reachable", s.database, s.collection)}
}

func (s *MongoSource) ListDocuments(ctx context.Context, limit, skip int) ([]Document, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(ctx)

	findOpts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(int64(skip))
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := client.Database(s.database).Collection(s.collection).Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: mongo origin: %v", domain.ErrAdapterUnavailable, err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: mongo origin decode: %v", domain.ErrAdapterUnavailable, err)
		}
		docs = append(docs, s.flatten(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: mongo origin: %v", domain.ErrAdapterUnavailable, err)
	}
	return docs, nil
}

func (s *MongoSource) GetDocument(ctx context.Context, originID string) (*Document, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(ctx)

	var raw bson.M
	err = client.Database(s.database).Collection(s.collection).
		FindOne(ctx, bson.D{{Key: "_id", Value: idFilter(originID)}}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: origin %s", domain.ErrNotFound, originID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: mongo origin: %v", domain.ErrAdapterUnavailable, err)
	}

	doc := s.flatten(raw)
	return &doc, nil
}

// idFilter matches both ObjectID-keyed and string-keyed documents.
func idFilter(originID string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(originID); err == nil {
		return oid
	}
	return originID
}

func (s *MongoSource) flatten(raw bson.M) Document {
	id := ""
	switch v := raw["_id"].(type) {
	case primitive.ObjectID:
		id = v.Hex()
	case string:
		id = v
	default:
		id = fmt.Sprintf("%v", v)
	}

	content := ""
	if body, err := bson.MarshalExtJSONIndent(raw, false, false, "", "  "); err == nil {
		content = string(body)
	}

	payload := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		payload[k] = v
	}

	return Document{
		OriginID:       id,
		SourceType:     TypeMongo,
		FileName:       fmt.Sprintf("%s_%s", s.collection, id),
		Content:        content,
		ContentPreview: preview(content),
		Payload:        payload,
	}
}
