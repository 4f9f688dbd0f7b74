package mongostore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"ragbridge/internal/domain"
	"ragbridge/internal/vector"
)

// Provider implements the vector capability contract on MongoDB Atlas.
// Search runs the $vectorSearch aggregation stage against a pre-created
// Atlas vector index; the index name is shared across collections.
type Provider struct {
	client    *mongo.Client
	database  string
	indexName string
}

func NewProvider(ctx context.Context, uri, database, indexName string) (*Provider, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: mongo: %v", domain.ErrAdapterUnavailable, err)
	}
	return &Provider{client: client, database: database, indexName: indexName}, nil
}

func (p *Provider) ListCollections(ctx context.Context) ([]vector.CollectionInfo, error) {
	db := p.client.Database(p.database)
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("%w: mongo: %v", domain.ErrAdapterUnavailable, err)
	}

	infos := make([]vector.CollectionInfo, 0, len(names))
	for _, name := range names {
		count, err := db.Collection(name).EstimatedDocumentCount(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to count collection", "collection", name, "error", err)
		}
		infos = append(infos, vector.CollectionInfo{
			Name:        name,
			IsSemantic:  vector.IsSemanticName(name),
			ApproxCount: count,
		})
	}
	return infos, nil
}

// Upsert replaces by chunk_id so reprocessing a document overwrites its
// chunks instead of duplicating them.
func (p *Provider) Upsert(ctx context.Context, collection string, chunks []vector.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(chunks))
	for _, c := range chunks {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "chunk_id", Value: c.ID}}).
			SetReplacement(c).
			SetUpsert(true))
	}

	res, err := p.client.Database(p.database).Collection(collection).BulkWrite(ctx, models)
	if err != nil {
		return 0, fmt.Errorf("%w: mongo upsert: %v", domain.ErrWriteFailed, err)
	}
	return int(res.UpsertedCount + res.ModifiedCount + res.MatchedCount), nil
}

func (p *Provider) Search(ctx context.Context, collection string, queryVector []float32, topK, numCandidates int) ([]vector.SearchResult, error) {
	db := p.client.Database(p.database)

	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: collection}})
	if err != nil {
		return nil, fmt.Errorf("%w: mongo: %v", domain.ErrAdapterUnavailable, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, collection)
	}

	if numCandidates < topK {
		numCandidates = topK * 10
	}
	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: p.indexName},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: queryVector},
			{Key: "numCandidates", Value: numCandidates},
			{Key: "limit", Value: topK},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "chunk_id", Value: 1},
			{Key: "raw_document_id", Value: 1},
			{Key: "file_name", Value: 1},
			{Key: "content", Value: 1},
			{Key: "line_start", Value: 1},
			{Key: "line_end", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}

	cursor, err := db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: mongo search: %v", domain.ErrAdapterUnavailable, err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		vector.Chunk `bson:",inline"`
		Score        float64 `bson:"score"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: mongo search decode: %v", domain.ErrAdapterUnavailable, err)
	}

	results := make([]vector.SearchResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, vector.SearchResult{Chunk: row.Chunk, Score: float32(row.Score)})
	}
	return results, nil
}

func (p *Provider) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := p.client.Database(p.database).Collection(collection).
		DeleteMany(ctx, bson.D{{Key: "chunk_id", Value: bson.D{{Key: "$in", Value: chunkIDs}}}})
	if err != nil {
		return fmt.Errorf("%w: mongo delete: %v", domain.ErrWriteFailed, err)
	}
	return nil
}

func (p *Provider) Test(ctx context.Context) vector.TestReport {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.client.Ping(ctx, readpref.Primary()); err != nil {
		return vector.TestReport{OK: false, Message: err.Error()}
	}
	return vector.TestReport{OK: true, Message: "connected"}
}

func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
