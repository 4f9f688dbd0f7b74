package connection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragbridge/internal/adapter/mongostore"
	"ragbridge/internal/adapter/pinecone"
	"ragbridge/internal/adapter/qdrant"
	"ragbridge/internal/adapter/redistore"
	"ragbridge/internal/domain"
	"ragbridge/internal/secretbox"
	"ragbridge/internal/vector"
)

const (
	ProviderMongo    = "mongo"
	ProviderRedis    = "redis"
	ProviderQdrant   = "qdrant"
	ProviderPinecone = "pinecone"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusError    = "error"
)

// Connection is a stored, encrypted credential set pointing at one
// vector-store provider instance. Encrypted fields never appear in JSON
// responses.
type Connection struct {
	ID              string         `bson:"connection_id" json:"connection_id"`
	Provider        string         `bson:"provider" json:"provider"`
	DisplayName     string         `bson:"display_name" json:"display_name"`
	EncryptedURI    []byte         `bson:"encrypted_uri" json:"-"`
	EncryptedAPIKey []byte         `bson:"encrypted_api_key,omitempty" json:"-"`
	Scopes          []vector.Scope `bson:"granted_scopes" json:"granted_scopes"`
	Status          string         `bson:"status" json:"status"`
	CreatedAt       time.Time      `bson:"created_at" json:"created_at"`
}

type Repository interface {
	Insert(ctx context.Context, conn *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	List(ctx context.Context) ([]Connection, error)
	UpdateScopes(ctx context.Context, id string, scopes []vector.Scope) error
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
}

// AdapterFactory builds a provider adapter bound to one connection's
// decrypted credentials.
type AdapterFactory interface {
	Build(ctx context.Context, provider, uri, apiKey string) (vector.Provider, error)
}

// Factory is the production AdapterFactory. Mongo vector collections live
// in Database; Dim and IndexName parameterize the vector indexes.
type Factory struct {
	Database  string
	IndexName string
	Dim       int
}

func (f *Factory) Build(ctx context.Context, provider, uri, apiKey string) (vector.Provider, error) {
	switch provider {
	case ProviderMongo:
		return mongostore.NewProvider(ctx, uri, f.Database, f.IndexName)
	case ProviderRedis:
		return redistore.NewProvider(uri, f.Dim)
	case ProviderQdrant:
		return qdrant.NewProvider(uri, apiKey, f.Dim), nil
	case ProviderPinecone:
		return pinecone.NewProvider(uri, apiKey), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, provider)
	}
}

func knownProvider(p string) bool {
	switch p {
	case ProviderMongo, ProviderRedis, ProviderQdrant, ProviderPinecone:
		return true
	}
	return false
}

// AllScopes is the grant given to seeded and ad-hoc connections.
func AllScopes() []vector.Scope {
	return []vector.Scope{
		vector.ScopeListIndexes,
		vector.ScopeReadMetadata,
		vector.ScopeReadVectors,
		vector.ScopeWriteVectors,
	}
}

type Service struct {
	repo    Repository
	box     *secretbox.Box
	factory AdapterFactory

	// Built adapters are cached per connection id and evicted whenever the
	// connection changes, so repeated queries don't re-dial the store.
	mu    sync.Mutex
	cache map[string]vector.Provider
}

func NewService(repo Repository, box *secretbox.Box, factory AdapterFactory) *Service {
	return &Service{repo: repo, box: box, factory: factory, cache: make(map[string]vector.Provider)}
}

func (s *Service) cached(id string) (vector.Provider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.cache[id]
	return p, ok
}

func (s *Service) store(id string, p vector.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.cache[id]; ok && old != p {
		_ = old.Close(context.Background())
	}
	s.cache[id] = p
}

func (s *Service) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.cache[id]; ok {
		_ = p.Close(context.Background())
		delete(s.cache, id)
	}
}

// Create validates and persists a new connection. Credentials are sealed
// before they touch storage; status stays inactive until the first
// successful test probe.
func (s *Service) Create(ctx context.Context, provider, displayName, uri, apiKey string) (*Connection, error) {
	if !knownProvider(provider) {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, provider)
	}
	if uri == "" {
		return nil, fmt.Errorf("%w: uri is required", domain.ErrValidation)
	}

	sealedURI, err := s.box.Seal([]byte(uri))
	if err != nil {
		return nil, err
	}
	conn := &Connection{
		ID:           uuid.New().String(),
		Provider:     provider,
		DisplayName:  displayName,
		EncryptedURI: sealedURI,
		Scopes:       []vector.Scope{vector.ScopeListIndexes, vector.ScopeReadMetadata},
		Status:       StatusInactive,
		CreatedAt:    time.Now().UTC(),
	}
	if apiKey != "" {
		sealedKey, err := s.box.Seal([]byte(apiKey))
		if err != nil {
			return nil, err
		}
		conn.EncryptedAPIKey = sealedKey
	}

	if err := s.repo.Insert(ctx, conn); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "connection created", "connection_id", conn.ID, "provider", provider)
	return conn, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Connection, error) {
	return s.repo.Get(ctx, id)
}

// List returns all connections with their status refreshed by a live
// probe. Probe failures only flip the status; they never fail the listing.
func (s *Service) List(ctx context.Context) ([]Connection, error) {
	conns, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			report, err := s.probe(ctx, c)
			status := StatusActive
			if err != nil || !report.OK {
				status = StatusError
			}
			if status != c.Status {
				c.Status = status
				if err := s.repo.UpdateStatus(ctx, c.ID, status); err != nil {
					slog.WarnContext(ctx, "failed to persist connection status", "connection_id", c.ID, "error", err)
				}
			}
		}(&conns[i])
	}
	wg.Wait()
	return conns, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.evict(id)
	slog.InfoContext(ctx, "connection deleted", "connection_id", id)
	return nil
}

// Consent replaces the granted scope set wholesale. This models an
// explicit re-grant, not incremental escalation.
func (s *Service) Consent(ctx context.Context, id string, scopes []vector.Scope) (*Connection, error) {
	for _, sc := range scopes {
		if !vector.KnownScope(sc) {
			return nil, fmt.Errorf("%w: unknown scope %q", domain.ErrValidation, sc)
		}
	}
	if err := s.repo.UpdateScopes(ctx, id, scopes); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Test runs the provider's connectivity probe and records the outcome on
// the connection's status.
func (s *Service) Test(ctx context.Context, id string) (vector.TestReport, error) {
	conn, err := s.repo.Get(ctx, id)
	if err != nil {
		return vector.TestReport{}, err
	}

	report, err := s.probe(ctx, conn)
	status := StatusActive
	if err != nil {
		report = vector.TestReport{OK: false, Message: err.Error()}
	}
	if !report.OK {
		status = StatusError
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		slog.WarnContext(ctx, "failed to persist connection status", "connection_id", id, "error", err)
	}
	return report, nil
}

func (s *Service) probe(ctx context.Context, conn *Connection) (vector.TestReport, error) {
	provider, err := s.build(ctx, conn)
	if err != nil {
		return vector.TestReport{}, err
	}
	defer provider.Close(ctx)
	return provider.Test(ctx), nil
}

// Resolve implements vector.Registry. A URI-shaped id ("mongodb://...")
// selects an ad-hoc, unregistered Mongo connection with a full grant,
// which is how the X-MongoDB-URI request header is threaded through
// without persisting anything.
func (s *Service) Resolve(ctx context.Context, id string) (vector.Provider, []vector.Scope, error) {
	if strings.HasPrefix(id, "mongodb://") || strings.HasPrefix(id, "mongodb+srv://") {
		if p, ok := s.cached(id); ok {
			return p, AllScopes(), nil
		}
		provider, err := s.factory.Build(ctx, ProviderMongo, id, "")
		if err != nil {
			return nil, nil, err
		}
		s.store(id, provider)
		return provider, AllScopes(), nil
	}

	conn, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if p, ok := s.cached(id); ok {
		return p, conn.Scopes, nil
	}
	provider, err := s.build(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	s.store(id, provider)
	return provider, conn.Scopes, nil
}

func (s *Service) build(ctx context.Context, conn *Connection) (vector.Provider, error) {
	uri, err := s.box.Open(conn.EncryptedURI)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", conn.ID, err)
	}
	apiKey := ""
	if len(conn.EncryptedAPIKey) > 0 {
		raw, err := s.box.Open(conn.EncryptedAPIKey)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", conn.ID, err)
		}
		apiKey = string(raw)
	}
	return s.factory.Build(ctx, conn.Provider, string(uri), apiKey)
}

// SeedDefault makes sure a "default" Mongo connection with a full grant
// exists so requests that name no connection still resolve somewhere.
func (s *Service) SeedDefault(ctx context.Context, uri string) error {
	if _, err := s.repo.Get(ctx, "default"); err == nil {
		return nil
	}

	sealedURI, err := s.box.Seal([]byte(uri))
	if err != nil {
		return err
	}
	conn := &Connection{
		ID:           "default",
		Provider:     ProviderMongo,
		DisplayName:  "Default MongoDB",
		EncryptedURI: sealedURI,
		Scopes:       AllScopes(),
		Status:       StatusInactive,
		CreatedAt:    time.Now().UTC(),
	}
	return s.repo.Insert(ctx, conn)
}
