// Package queue wraps the Redis-backed FIFO list the input queue, the
// caller-supplied reply queues, and the validator's job queue all share.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

// InputQueueKey is the list key jobs are popped from.
const InputQueueKey = "jarvis.ocr.jobs"

// ValidatorQueueKey is the list key validation requests are pushed to.
const ValidatorQueueKey = "jarvis.validator.jobs"

// popTimeout bounds each BLPOP call so the worker loop can still observe
// context cancellation between polls.
const popTimeout = 5 * time.Second

// Queue is a durable, Redis-list-backed FIFO: RPUSH at the tail, BLPOP from
// the head.
type Queue struct {
	client redis.ClientInterface
}

func New(client redis.ClientInterface) *Queue {
	return &Queue{client: client}
}

// Push serializes v as JSON and appends it to the tail of key.
func (q *Queue) Push(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}
	return q.client.RPush(ctx, key, data)
}

// Pop blocks (in popTimeout-sized increments, to stay responsive to ctx
// cancellation) until an item is available at the head of key, then
// unmarshals it into out. It returns (false, nil) on a polling timeout with
// nothing popped, so callers should loop.
func (q *Queue) Pop(ctx context.Context, key string, out interface{}) (bool, error) {
	result, err := q.client.BLPop(ctx, popTimeout, key)
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}
	if len(result) < 2 {
		return false, nil
	}
	if err := json.Unmarshal([]byte(result[1]), out); err != nil {
		return false, fmt.Errorf("unmarshal queue payload: %w", err)
	}
	return true, nil
}
