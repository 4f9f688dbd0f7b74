package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragbridge/features/ingest"
	"ragbridge/internal/middleware"
)

type fakeIngester struct {
	tasks []ingest.Task
	ctxs  []context.Context
	err   error
}

func (f *fakeIngester) IngestTask(ctx context.Context, task ingest.Task) error {
	f.tasks = append(f.tasks, task)
	f.ctxs = append(f.ctxs, ctx)
	return f.err
}

func message(body string) *nsq.Message {
	return nsq.NewMessage(nsq.MessageID{}, []byte(body))
}

func TestHandleMessage_ValidTask(t *testing.T) {
	ing := &fakeIngester{}
	c := NewIngestConsumer(ing)

	err := c.HandleMessage(message(`{
		"origin_source_type": "filesystem",
		"origin_source_id": "/data/docs",
		"origin_id": "a.txt",
		"connection_config": {"path": "/data/docs"},
		"target_collection": "docs",
		"correlation_id": "corr-1"
	}`))
	require.NoError(t, err)
	require.Len(t, ing.tasks, 1)
	assert.Equal(t, "a.txt", ing.tasks[0].OriginID)
	assert.Equal(t, "docs", ing.tasks[0].TargetCollection)
	assert.Equal(t, "corr-1", middleware.GetCorrelationID(ing.ctxs[0]))
}

func TestHandleMessage_InvalidJSONIsDropped(t *testing.T) {
	ing := &fakeIngester{}
	c := NewIngestConsumer(ing)

	// Returning nil acks the message so it is never requeued
	assert.NoError(t, c.HandleMessage(message(`{not json`)))
	assert.Empty(t, ing.tasks)
}

func TestHandleMessage_MissingFieldsIsDropped(t *testing.T) {
	ing := &fakeIngester{}
	c := NewIngestConsumer(ing)

	assert.NoError(t, c.HandleMessage(message(`{"origin_source_type":"filesystem"}`)))
	assert.Empty(t, ing.tasks)
}

func TestHandleMessage_EmptyBodyIsDropped(t *testing.T) {
	ing := &fakeIngester{}
	c := NewIngestConsumer(ing)
	assert.NoError(t, c.HandleMessage(message("")))
	assert.Empty(t, ing.tasks)
}

func TestHandleMessage_TransientFailureRequeues(t *testing.T) {
	ing := &fakeIngester{err: errors.New("store down")}
	c := NewIngestConsumer(ing)

	err := c.HandleMessage(message(`{"origin_source_type":"filesystem","origin_id":"a.txt"}`))
	assert.Error(t, err, "transient failures propagate so NSQ retries")
}
