package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"ragbridge/features/collection"
	"ragbridge/features/connection"
	"ragbridge/features/ingest"
	"ragbridge/features/origin"
	"ragbridge/features/query"
	"ragbridge/internal/adapter/gemini"
	"ragbridge/internal/adapter/llm"
	"ragbridge/internal/config"
	"ragbridge/internal/logger"
	"ragbridge/internal/middleware"
	"ragbridge/internal/retrieval"
	"ragbridge/internal/secretbox"
	"ragbridge/internal/vector"
	"ragbridge/internal/worker"
)

func main() {
	// Structured logging; every record carries the request correlation id
	slog.SetDefault(slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))))

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. System Store Connection
	ctx := context.Background()
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		slog.Error("failed to create mongo client", "error", err)
		os.Exit(1)
	}
	defer mongoClient.Disconnect(ctx)

	// Retry connection
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := mongoClient.Ping(ctx, readpref.Primary()); err == nil {
			break
		}
		slog.Warn("failed to ping mongo, retrying...", "attempt", i+1, "max_attempts", cfg.BootstrapRetryAttempts)
		time.Sleep(retryDelay)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		slog.Error("failed to ping mongo after retries", "error", err)
		os.Exit(1)
	}
	db := mongoClient.Database(cfg.MongoDatabase)

	// 3. Ensure Indexes
	connRepo := connection.NewMongoRepo(db, cfg.ConnectionsCollection)
	if err := connRepo.EnsureIndexes(ctx); err != nil {
		slog.Error("failed to ensure connection indexes", "error", err)
		os.Exit(1)
	}
	rawStore := ingest.NewMongoStore(db, cfg.RawDocumentsCollection)
	if err := rawStore.EnsureIndexes(ctx); err != nil {
		slog.Error("failed to ensure raw document indexes", "error", err)
		os.Exit(1)
	}
	slog.Info("indexes ensured")

	// 4. Connection Registry & Unified Store
	box := secretbox.New(cfg.SecretKey())
	factory := &connection.Factory{
		Database:  cfg.MongoDatabase,
		IndexName: cfg.VectorIndexName,
		Dim:       cfg.EmbeddingDim,
	}
	connService := connection.NewService(connRepo, box, factory)
	if err := connService.SeedDefault(ctx, cfg.MongoURI); err != nil {
		slog.Error("failed to seed default connection", "error", err)
		os.Exit(1)
	}
	unified := vector.NewUnifiedStore(connService)

	// 5. Embedding & Completion Adapters
	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	if err != nil {
		slog.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	llmClient := llm.NewClient(cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel)

	// 6. Services
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedder, unified, llmClient, queryLogger, "default", cfg.DefaultCollection)

	pipeline := ingest.NewPipeline(rawStore, embedder, unified, cfg)

	browser := collection.NewMongoBrowser(db, cfg.ConnectionsCollection, cfg.RawDocumentsCollection)
	collectionService := collection.NewService(browser, llmClient).WithLister(unified)

	// 7. Async Ingestion (optional)
	if cfg.EnableIngestWorker {
		nsqCfg := nsq.NewConfig()
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
		if err != nil {
			slog.Error("failed to create NSQ producer", "error", err)
			os.Exit(1)
		}
		pipeline.WithPublisher(producer)

		// Pre-create the task topic. NSQ creates topics lazily on publish,
		// but consumers querying lookupd 404 until then.
		host, _, _ := net.SplitHostPort(cfg.NSQDHost)
		if host == "" {
			host = cfg.NSQDHost
		}
		topicURL := fmt.Sprintf("http://%s:4151/topic/create?topic=%s", host, config.TopicIngestTask)
		go func() {
			time.Sleep(2 * time.Second)
			resp, err := http.Post(topicURL, "application/json", nil)
			if err != nil {
				slog.Warn("failed to pre-create ingest task topic", "error", err, "url", topicURL)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == 200 {
				slog.Info("ingest task topic pre-created")
			}
		}()

		consumer, err := nsq.NewConsumer(config.TopicIngestTask, config.ChannelIngest, nsq.NewConfig())
		if err != nil {
			slog.Error("failed to create NSQ consumer", "error", err)
		} else {
			ingestConsumer := worker.NewIngestConsumer(pipeline)
			consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
				return ingestConsumer.HandleMessage(m)
			}))
			if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
				slog.Error("failed to connect to NSQLookupd", "error", err)
			} else {
				slog.Info("NSQ ingest consumer connected")
			}
		}
	}

	// 8. Handlers
	connHandler := connection.NewHandler(connService, unified)
	originHandler := origin.NewHandler()
	ingestHandler := ingest.NewHandler(pipeline, int(cfg.MaxUploadSizeMB))
	queryHandler := query.NewHandler(retrievalService)
	collectionHandler := collection.NewHandler(collectionService)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID, X-Connection-ID, X-MongoDB-URI")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	http.Handle("POST /connections", middleware.CorrelationID(enableCORS(connHandler.Create)))
	http.Handle("GET /connections", middleware.CorrelationID(enableCORS(connHandler.List)))
	http.Handle("GET /connections/{id}", middleware.CorrelationID(enableCORS(connHandler.Get)))
	http.Handle("DELETE /connections/{id}", middleware.CorrelationID(enableCORS(connHandler.Delete)))
	http.Handle("POST /connections/{id}/test", middleware.CorrelationID(enableCORS(connHandler.Test)))
	http.Handle("POST /connections/{id}/consent", middleware.CorrelationID(enableCORS(connHandler.Consent)))
	http.Handle("GET /connections/{id}/collections", middleware.CorrelationID(enableCORS(connHandler.ListCollections)))

	http.Handle("GET /origin/sources", middleware.CorrelationID(enableCORS(originHandler.ListTypes)))
	http.Handle("POST /origin/connect", middleware.CorrelationID(enableCORS(originHandler.Connect)))
	http.Handle("POST /origin/{type}/documents", middleware.CorrelationID(enableCORS(originHandler.ListDocuments)))
	http.Handle("POST /origin/{type}/documents/{id}", middleware.CorrelationID(enableCORS(originHandler.GetDocument)))

	http.Handle("POST /ingest/origin", middleware.CorrelationID(enableCORS(ingestHandler.IngestOrigin)))
	http.Handle("POST /upload", middleware.CorrelationID(enableCORS(ingestHandler.Upload)))
	http.Handle("GET /ingest/raw", middleware.CorrelationID(enableCORS(ingestHandler.ListRaw)))
	http.Handle("GET /ingest/raw/{id}", middleware.CorrelationID(enableCORS(ingestHandler.GetRaw)))
	http.Handle("DELETE /ingest/raw/{id}", middleware.CorrelationID(enableCORS(ingestHandler.DeleteRaw)))
	http.Handle("POST /ingest/raw/{id}/retry", middleware.CorrelationID(enableCORS(ingestHandler.Retry)))
	http.Handle("POST /ingest/process", middleware.CorrelationID(enableCORS(ingestHandler.Process)))
	http.Handle("POST /ingest/process/batch", middleware.CorrelationID(enableCORS(ingestHandler.ProcessBatch)))
	http.Handle("GET /ingest/status", middleware.CorrelationID(enableCORS(ingestHandler.Status)))

	http.Handle("POST /query", middleware.CorrelationID(enableCORS(queryHandler.Query)))

	http.Handle("GET /collections", middleware.CorrelationID(enableCORS(collectionHandler.List)))
	http.Handle("GET /collections/{name}/questions", middleware.CorrelationID(enableCORS(collectionHandler.Questions)))

	// 9. Start Server
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		deps := map[string]string{"mongodb": "ok"}
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := mongoClient.Ping(pingCtx, readpref.Primary()); err != nil {
			status = "degraded"
			deps["mongodb"] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       status,
			"dependencies": deps,
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		ReadTimeout:  time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}

	slog.Info("server starting", "port", cfg.ServerPort)
	if err := server.ListenAndServe(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
