package validator

import (
	"context"
	"testing"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/queue"
	"github.com/alexberardi/jarvis-ocr-service/pkg/redis"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Enqueue_PushesToValidatorQueue(t *testing.T) {
	redisDB, mock := redismock.NewClientMock()
	q := queue.New(&redis.Client{Client: redisDB})
	client := NewClient(q, "https://ocr.internal/internal/validation/callback", "llm_local_light")

	mock.Regexp().ExpectRPush(queue.ValidatorQueueKey, `.*"correlation_id":"corr-1".*`).SetVal(1)

	err := client.Enqueue(context.Background(), "corr-1", "some candidate text", "en")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_Enqueue_CarriesModelHint(t *testing.T) {
	redisDB, mock := redismock.NewClientMock()
	q := queue.New(&redis.Client{Client: redisDB})
	client := NewClient(q, "https://ocr.internal/internal/validation/callback", "llm_local_light")

	mock.Regexp().ExpectRPush(queue.ValidatorQueueKey, `.*"model_hint":"llm_local_light".*`).SetVal(1)

	err := client.Enqueue(context.Background(), "corr-2", "more text", "en")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewCorrelationID_ReturnsDistinctValues(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
