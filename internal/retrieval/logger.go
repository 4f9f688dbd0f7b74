package retrieval

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QueryLogEntry is one line of the retrieval audit log.
type QueryLogEntry struct {
	Timestamp     time.Time `json:"ts"`
	Query         string    `json:"query"`
	Results       int       `json:"results"`
	LatencyMs     int64     `json:"latency_ms"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// QueryLogger appends one JSON line per answered query. Safe for concurrent
// use.
type QueryLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{w: w}
}

// NewFileQueryLogger opens (or creates) an append-only log file, creating
// parent directories as needed.
func NewFileQueryLogger(path string) (*QueryLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path comes from configuration
	if err != nil {
		return nil, err
	}
	return NewQueryLogger(f), nil
}

// Log stamps and appends one entry. Write failures are reported to the
// application log and never propagate to the request path.
func (l *QueryLogger) Log(entry QueryLogEntry) {
	entry.Timestamp = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.w).Encode(entry); err != nil {
		slog.Error("failed to write query log entry", "error", err)
	}
}
