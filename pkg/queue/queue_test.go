package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestQueue needs a disposable Redis; it flushes the selected database.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return NewQueue(client, zaptest.NewLogger(t))
}

func TestEnqueueDequeueRecordingUpload(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	payload := RecordingUploadPayload{RecordingID: uuid.New(), SessionID: uuid.New(), OriginalURL: "https://cdn.example.com/r.mp4"}

	require.NoError(t, q.EnqueueRecordingUpload(ctx, payload))
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeRecordingUpload, job.Type)
	assert.Equal(t, 0, job.Attempt)

	var got RecordingUploadPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestRetryDeadLettersAfterMaxRetries(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.EnqueueRecordingUpload(ctx, RecordingUploadPayload{RecordingID: uuid.New()}))

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		dead, err := q.Retry(ctx, job)
		require.NoError(t, err)
		assert.Equal(t, attempt == MaxRetries, dead, "attempt %d", attempt)
	}

	n, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
