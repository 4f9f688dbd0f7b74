package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"ragbridge/features/ingest"
	"ragbridge/internal/middleware"
)

// Ingester runs one queued ingest task end to end.
type Ingester interface {
	IngestTask(ctx context.Context, task ingest.Task) error
}

// IngestConsumer drains the ingest task topic. Malformed messages are
// dropped, never requeued; transient failures return the error so NSQ
// retries the message.
type IngestConsumer struct {
	ingester Ingester
	timeout  time.Duration
}

func NewIngestConsumer(ingester Ingester) *IngestConsumer {
	return &IngestConsumer{ingester: ingester, timeout: 5 * time.Minute}
}

func (c *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task ingest.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid ingest task json", "error", err)
		return nil
	}
	if task.SourceType == "" || task.OriginID == "" {
		slog.Error("poison pill: ingest task missing source type or origin id")
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.ingester.IngestTask(ctx, task); err != nil {
		slog.ErrorContext(ctx, "ingest task failed",
			"origin_id", task.OriginID, "source_type", task.SourceType, "attempts", m.Attempts, "error", err)
		return err // Retry
	}

	slog.InfoContext(ctx, "ingest task completed",
		"origin_id", task.OriginID, "source_type", task.SourceType)
	return nil
}
