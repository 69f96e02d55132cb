package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/pkg/redis"
	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	JobID string `json:"job_id"`
}

func TestQueue_Push(t *testing.T) {
	redisDB, mock := redismock.NewClientMock()
	q := New(&redis.Client{Client: redisDB})

	mock.ExpectRPush(InputQueueKey, `{"job_id":"job-1"}`).SetVal(1)

	err := q.Push(context.Background(), InputQueueKey, samplePayload{JobID: "job-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_Pop_Success(t *testing.T) {
	redisDB, mock := redismock.NewClientMock()
	q := New(&redis.Client{Client: redisDB})

	mock.ExpectBLPop(5*time.Second, InputQueueKey).SetVal([]string{InputQueueKey, `{"job_id":"job-1"}`})

	var out samplePayload
	popped, err := q.Pop(context.Background(), InputQueueKey, &out)
	require.NoError(t, err)
	assert.True(t, popped)
	assert.Equal(t, "job-1", out.JobID)
}

func TestQueue_Pop_TimeoutReturnsFalse(t *testing.T) {
	redisDB, mock := redismock.NewClientMock()
	q := New(&redis.Client{Client: redisDB})

	mock.ExpectBLPop(5*time.Second, InputQueueKey).SetErr(goredis.Nil)

	var out samplePayload
	popped, err := q.Pop(context.Background(), InputQueueKey, &out)
	require.NoError(t, err)
	assert.False(t, popped)
}
