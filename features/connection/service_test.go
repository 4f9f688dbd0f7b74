package connection

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ragbridge/internal/domain"
	"ragbridge/internal/secretbox"
	"ragbridge/internal/vector"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Insert(ctx context.Context, conn *Connection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockRepository) Get(ctx context.Context, id string) (*Connection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Connection), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context) ([]Connection, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Connection), args.Error(1)
}

func (m *MockRepository) UpdateScopes(ctx context.Context, id string, scopes []vector.Scope) error {
	args := m.Called(ctx, id, scopes)
	return args.Error(0)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) Build(ctx context.Context, provider, uri, apiKey string) (vector.Provider, error) {
	args := m.Called(ctx, provider, uri, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(vector.Provider), args.Error(1)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ListCollections(ctx context.Context) ([]vector.CollectionInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]vector.CollectionInfo), args.Error(1)
}

func (m *MockProvider) Upsert(ctx context.Context, collection string, chunks []vector.Chunk) (int, error) {
	args := m.Called(ctx, collection, chunks)
	return args.Int(0), args.Error(1)
}

func (m *MockProvider) Search(ctx context.Context, collection string, queryVector []float32, topK, numCandidates int) ([]vector.SearchResult, error) {
	args := m.Called(ctx, collection, queryVector, topK, numCandidates)
	return args.Get(0).([]vector.SearchResult), args.Error(1)
}

func (m *MockProvider) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	args := m.Called(ctx, collection, chunkIDs)
	return args.Error(0)
}

func (m *MockProvider) Test(ctx context.Context) vector.TestReport {
	args := m.Called(ctx)
	return args.Get(0).(vector.TestReport)
}

func (m *MockProvider) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func jsonString(t *testing.T, v interface{}) string {
	raw, err := json.Marshal(v)
	assert.NoError(t, err)
	return string(raw)
}

func newTestService(repo Repository, factory AdapterFactory) *Service {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	return NewService(repo, secretbox.New(key), factory)
}

// --- Tests ---

func TestCreate_UnknownProvider(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockFactory))

	_, err := svc.Create(context.Background(), "unknown", "x", "some://uri", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	// Nothing may be persisted before validation passes
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestCreate_EmptyURI(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockFactory))

	_, err := svc.Create(context.Background(), ProviderRedis, "x", "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestCreate_EncryptsCredentials(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Insert", mock.Anything, mock.MatchedBy(func(c *Connection) bool {
		return c.Status == StatusInactive &&
			c.Provider == ProviderQdrant &&
			len(c.EncryptedURI) > 0 &&
			string(c.EncryptedURI) != "http://qdrant:6333" &&
			len(c.EncryptedAPIKey) > 0
	})).Return(nil)

	svc := newTestService(repo, new(MockFactory))
	conn, err := svc.Create(context.Background(), ProviderQdrant, "qd", "http://qdrant:6333", "secret-key")
	assert.NoError(t, err)
	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, StatusInactive, conn.Status)
	repo.AssertExpectations(t)

	// Encrypted fields must never serialize
	assert.NotContains(t, jsonString(t, conn), "secret-key")
	assert.NotContains(t, jsonString(t, conn), "qdrant:6333")
}

func TestConsent_ReplacesScopesWholesale(t *testing.T) {
	repo := new(MockRepository)
	repo.On("UpdateScopes", mock.Anything, "c1", []vector.Scope{vector.ScopeReadVectors}).Return(nil)
	repo.On("Get", mock.Anything, "c1").Return(&Connection{ID: "c1", Scopes: []vector.Scope{vector.ScopeReadVectors}}, nil)

	svc := newTestService(repo, new(MockFactory))
	conn, err := svc.Consent(context.Background(), "c1", []vector.Scope{vector.ScopeReadVectors})
	assert.NoError(t, err)
	assert.Equal(t, []vector.Scope{vector.ScopeReadVectors}, conn.Scopes)
	repo.AssertExpectations(t)
}

func TestConsent_UnknownScope(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockFactory))

	_, err := svc.Consent(context.Background(), "c1", []vector.Scope{"root"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	repo.AssertNotCalled(t, "UpdateScopes", mock.Anything, mock.Anything, mock.Anything)
}

func TestTest_UpdatesStatus(t *testing.T) {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	box := secretbox.New(key)
	sealed, _ := box.Seal([]byte("redis://localhost:6379"))

	conn := &Connection{ID: "c1", Provider: ProviderRedis, EncryptedURI: sealed}

	repo := new(MockRepository)
	repo.On("Get", mock.Anything, "c1").Return(conn, nil)
	repo.On("UpdateStatus", mock.Anything, "c1", StatusActive).Return(nil)

	provider := new(MockProvider)
	provider.On("Test", mock.Anything).Return(vector.TestReport{OK: true, Message: "connected"})
	provider.On("Close", mock.Anything).Return(nil)

	factory := new(MockFactory)
	factory.On("Build", mock.Anything, ProviderRedis, "redis://localhost:6379", "").Return(provider, nil)

	svc := NewService(repo, box, factory)
	report, err := svc.Test(context.Background(), "c1")
	assert.NoError(t, err)
	assert.True(t, report.OK)
	repo.AssertExpectations(t)
	factory.AssertExpectations(t)
}

func TestTest_FailureFlipsStatusToError(t *testing.T) {
	var key [32]byte
	box := secretbox.New(key)
	sealed, _ := box.Seal([]byte("redis://down:6379"))

	repo := new(MockRepository)
	repo.On("Get", mock.Anything, "c1").Return(&Connection{ID: "c1", Provider: ProviderRedis, EncryptedURI: sealed}, nil)
	repo.On("UpdateStatus", mock.Anything, "c1", StatusError).Return(nil)

	provider := new(MockProvider)
	provider.On("Test", mock.Anything).Return(vector.TestReport{OK: false, Message: "dial tcp: refused"})
	provider.On("Close", mock.Anything).Return(nil)

	factory := new(MockFactory)
	factory.On("Build", mock.Anything, ProviderRedis, "redis://down:6379", "").Return(provider, nil)

	svc := NewService(repo, box, factory)
	report, err := svc.Test(context.Background(), "c1")
	assert.NoError(t, err)
	assert.False(t, report.OK)
	repo.AssertExpectations(t)
}

func TestResolve_AdHocMongoURI(t *testing.T) {
	repo := new(MockRepository)
	provider := new(MockProvider)
	factory := new(MockFactory)
	factory.On("Build", mock.Anything, ProviderMongo, "mongodb://adhoc:27017", "").Return(provider, nil)

	svc := newTestService(repo, factory)
	p, scopes, err := svc.Resolve(context.Background(), "mongodb://adhoc:27017")
	assert.NoError(t, err)
	assert.Equal(t, provider, p)
	assert.ElementsMatch(t, AllScopes(), scopes)
	repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)

	// Second resolve hits the cache, not the factory
	_, _, err = svc.Resolve(context.Background(), "mongodb://adhoc:27017")
	assert.NoError(t, err)
	factory.AssertNumberOfCalls(t, "Build", 1)
}

func TestResolve_UnknownConnection(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Get", mock.Anything, "missing").Return(nil, domain.ErrConnectionNotFound)

	svc := newTestService(repo, new(MockFactory))
	_, _, err := svc.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}
