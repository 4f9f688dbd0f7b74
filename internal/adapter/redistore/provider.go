package redistore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ragbridge/internal/domain"
	"ragbridge/internal/vector"
)

// Provider implements the vector capability contract on Redis with the
// RediSearch module. Each collection maps to one FT index over HASH keys
// prefixed "<collection>:", with an HNSW FLOAT32 cosine vector field.
type Provider struct {
	client *redis.Client
	dim    int
}

func NewProvider(uri string, dim int) (*Provider, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: redis: %v", domain.ErrValidation, err)
	}
	return &Provider{client: redis.NewClient(opts), dim: dim}, nil
}

func (p *Provider) ListCollections(ctx context.Context) ([]vector.CollectionInfo, error) {
	indexes, err := p.client.FT_List(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis: %v", domain.ErrAdapterUnavailable, err)
	}

	infos := make([]vector.CollectionInfo, 0, len(indexes))
	for _, name := range indexes {
		var count int64
		if info, err := p.client.FTInfo(ctx, name).Result(); err == nil {
			count = int64(info.NumDocs)
		}
		infos = append(infos, vector.CollectionInfo{
			Name:        name,
			IsSemantic:  true, // every FT index here holds embedded chunks
			ApproxCount: count,
		})
	}
	return infos, nil
}

func (p *Provider) Upsert(ctx context.Context, collection string, chunks []vector.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := p.ensureIndex(ctx, collection); err != nil {
		return 0, err
	}

	pipe := p.client.Pipeline()
	for _, c := range chunks {
		pipe.HSet(ctx, collection+":"+c.ID, map[string]interface{}{
			"chunk_id":        c.ID,
			"raw_document_id": c.RawDocumentID,
			"file_name":       c.FileName,
			"content":         c.Content,
			"line_start":      c.LineStart,
			"line_end":        c.LineEnd,
			"embedding":       encodeVector(c.Embedding),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: redis upsert: %v", domain.ErrWriteFailed, err)
	}
	return len(chunks), nil
}

func (p *Provider) ensureIndex(ctx context.Context, collection string) error {
	err := p.client.FTCreate(ctx, collection,
		&redis.FTCreateOptions{OnHash: true, Prefix: []interface{}{collection + ":"}},
		&redis.FieldSchema{
			FieldName: "embedding",
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{HNSWOptions: &redis.FTHNSWOptions{
				Type:           "FLOAT32",
				Dim:            p.dim,
				DistanceMetric: "COSINE",
			}},
		},
		&redis.FieldSchema{FieldName: "content", FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{FieldName: "file_name", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{FieldName: "raw_document_id", FieldType: redis.SearchFieldTypeTag},
	).Err()
	if err != nil && !strings.Contains(err.Error(), "Index already exists") {
		return fmt.Errorf("%w: redis index: %v", domain.ErrWriteFailed, err)
	}
	return nil
}

func (p *Provider) Search(ctx context.Context, collection string, queryVector []float32, topK, numCandidates int) ([]vector.SearchResult, error) {
	query := fmt.Sprintf("*=>[KNN %d @embedding $vec AS dist]", topK)
	res, err := p.client.FTSearchWithArgs(ctx, collection, query, &redis.FTSearchOptions{
		Params:         map[string]interface{}{"vec": encodeVector(queryVector)},
		SortBy:         []redis.FTSearchSortBy{{FieldName: "dist", Asc: true}},
		DialectVersion: 2,
		LimitOffset:    0,
		Limit:          topK,
	}).Result()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such index") {
			return nil, fmt.Errorf("%w: index %s", domain.ErrNotFound, collection)
		}
		return nil, fmt.Errorf("%w: redis search: %v", domain.ErrAdapterUnavailable, err)
	}

	results := make([]vector.SearchResult, 0, len(res.Docs))
	for _, doc := range res.Docs {
		chunk := vector.Chunk{
			ID:            doc.Fields["chunk_id"],
			RawDocumentID: doc.Fields["raw_document_id"],
			FileName:      doc.Fields["file_name"],
			Content:       doc.Fields["content"],
		}
		chunk.LineStart, _ = strconv.Atoi(doc.Fields["line_start"])
		chunk.LineEnd, _ = strconv.Atoi(doc.Fields["line_end"])

		// RediSearch reports cosine distance; convert to similarity
		dist, _ := strconv.ParseFloat(doc.Fields["dist"], 64)
		results = append(results, vector.SearchResult{Chunk: chunk, Score: float32(1 - dist)})
	}
	return results, nil
}

func (p *Provider) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	keys := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		keys[i] = collection + ":" + id
	}
	if err := p.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: redis delete: %v", domain.ErrWriteFailed, err)
	}
	return nil
}

func (p *Provider) Test(ctx context.Context) vector.TestReport {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.client.Ping(ctx).Err(); err != nil {
		return vector.TestReport{OK: false, Message: err.Error()}
	}
	return vector.TestReport{OK: true, Message: "connected"}
}

func (p *Provider) Close(context.Context) error {
	return p.client.Close()
}

// encodeVector packs float32 values little-endian, the layout RediSearch
// expects for FLOAT32 vector fields.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
