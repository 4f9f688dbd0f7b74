package collection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ragbridge/internal/domain"
	"ragbridge/internal/vector"
)

// Info describes one collection of the system store, classified by role.
type Info struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // semantic|origin
	IsSemantic  bool   `json:"is_semantic"`
	ApproxCount int64  `json:"approx_count"`
}

// Browser is the slice of the system store the service reads: collection
// names and a small document sample per collection.
type Browser interface {
	ListCollections(ctx context.Context) ([]Info, error)
	Sample(ctx context.Context, collection string, n int) ([]string, error)
}

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Lister lists the collections of a registered vector store connection, for
// requests that browse a specific connection instead of the system store.
type Lister interface {
	ListCollections(ctx context.Context, connectionID string) ([]vector.CollectionInfo, error)
}

// MongoBrowser reads the system MongoDB database.
type MongoBrowser struct {
	db *mongo.Database
	// bookkeeping collections are never exposed as browsable data
	hidden map[string]bool
}

func NewMongoBrowser(db *mongo.Database, hidden ...string) *MongoBrowser {
	h := make(map[string]bool, len(hidden))
	for _, name := range hidden {
		h[name] = true
	}
	return &MongoBrowser{db: db, hidden: h}
}

func (b *MongoBrowser) ListCollections(ctx context.Context) ([]Info, error) {
	names, err := b.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		if b.hidden[name] || strings.HasPrefix(name, "system.") {
			continue
		}
		count, err := b.db.Collection(name).EstimatedDocumentCount(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to count collection", "collection", name, "error", err)
		}
		kind := "origin"
		if vector.IsSemanticName(name) {
			kind = "semantic"
		}
		infos = append(infos, Info{
			Name:        name,
			Type:        kind,
			IsSemantic:  vector.IsSemanticName(name),
			ApproxCount: count,
		})
	}
	return infos, nil
}

// Sample returns up to n documents of a collection, each flattened to a
// bounded text representation for prompting.
func (b *MongoBrowser) Sample(ctx context.Context, collection string, n int) ([]string, error) {
	names, err := b.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: collection}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, collection)
	}

	cursor, err := b.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetLimit(int64(n)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	defer cursor.Close(ctx)

	var samples []string
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			continue
		}
		if content, ok := raw["content"].(string); ok && content != "" {
			samples = append(samples, bounded(content, 500))
			continue
		}
		if body, err := bson.MarshalExtJSON(raw, false, false); err == nil {
			samples = append(samples, bounded(string(body), 500))
		}
	}
	return samples, cursor.Err()
}

func bounded(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
