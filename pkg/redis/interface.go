package redis

import (
	"context"
	"time"
)

// ClientInterface defines the interface for Redis operations relied on by
// the queue, state store, and validator collaborators. Keeping this
// narrower than *Client lets tests substitute a fake without dragging in
// every go-redis method.
type ClientInterface interface {
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNXWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error

	// List operations backing the durable FIFO queues.
	RPush(ctx context.Context, key string, values ...interface{}) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error)

	// Eval runs a Lua script, used by the state store's atomic
	// load-then-delete.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)

	// Expiration
	Expire(ctx context.Context, key string, expiration time.Duration) error

	// Sorted-set operations backing the state store's TTL-sweep deadline
	// index.
	ZAdd(ctx context.Context, key string, member string, score float64) error
	ZRangeByScore(ctx context.Context, key string, min, max string) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)
