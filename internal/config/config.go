package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	// System store (connections, raw documents) and default vector target
	MongoURI      string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"ragbridge"`

	RawDocumentsCollection string `envconfig:"RAW_DOCUMENTS_COLLECTION" default:"raw_documents"`
	ConnectionsCollection  string `envconfig:"CONNECTIONS_COLLECTION" default:"connections"`
	DefaultCollection      string `envconfig:"DEFAULT_COLLECTION" default:"documents"`
	VectorIndexName        string `envconfig:"VECTOR_INDEX_NAME" default:"vector_index"`

	// Chunking
	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`

	// Embedding
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDim   int    `envconfig:"EMBEDDING_DIM" default:"768"`

	// Completion service
	LLMAPIURL string `envconfig:"LLM_API_URL" default:"http://localhost:11434/api/generate"`
	LLMAPIKey string `envconfig:"LLM_API_KEY"`
	LLMModel  string `envconfig:"LLM_MODEL" default:"llama3"`

	// Credential encryption: 32-byte key, hex encoded
	SecretBoxKey string `envconfig:"SECRET_BOX_KEY"`

	// Async ingestion
	EnableIngestWorker bool   `envconfig:"ENABLE_INGEST_WORKER" default:"false"`
	NSQLookupd         string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost           string `envconfig:"NSQD_HOST" default:"nsqd:4150"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
	RequestTimeoutSeconds      int `envconfig:"REQUEST_TIMEOUT_SECONDS" default:"30"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("%w: MONGODB_URI", ErrMissingRequired)
	}
	if c.MongoDatabase == "" {
		return fmt.Errorf("%w: MONGODB_DATABASE", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrMissingRequired)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrMissingRequired)
	}
	if c.SecretBoxKey != "" {
		key, err := hex.DecodeString(c.SecretBoxKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("%w: SECRET_BOX_KEY must be 32 bytes hex", ErrMissingRequired)
		}
	}
	return nil
}

// SecretKey decodes the hex-encoded secret box key. When unset, a zero key
// is returned so local development works without configuration; production
// deployments set SECRET_BOX_KEY.
func (c *Config) SecretKey() [32]byte {
	var key [32]byte
	if c.SecretBoxKey == "" {
		return key
	}
	raw, _ := hex.DecodeString(c.SecretBoxKey)
	copy(key[:], raw)
	return key
}
