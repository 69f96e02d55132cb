// Package statestore persists the suspended per-job cursor (Pending
// Validation State) under a correlation key in Redis, enforcing
// single-writer semantics on resumption.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/pkg/logger"
	"github.com/alexberardi/jarvis-ocr-service/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL is the lifetime of a Pending Validation State entry absent any
// callback, per spec.md §4.4.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "jarvis.ocr.pending:"

// deadlineIndexKey names the sorted set indexing every live correlation id
// by its deadline (unix seconds), so the TTL sweep can discover what
// expired without scanning Redis keys directly.
const deadlineIndexKey = "jarvis.ocr.pending.deadlines"

// loadAndDeleteScript atomically reads and removes the value at KEYS[1],
// returning it (or false if the key was already gone) so only the first
// caller to race a given correlation id resumes the job.
const loadAndDeleteScript = `
local v = redis.call("GET", KEYS[1])
if v == false then
  return false
end
redis.call("DEL", KEYS[1])
return v
`

// Store is the correlation-keyed Pending Validation State table.
type Store struct {
	client redis.ClientInterface
	ttl    time.Duration
	now    func() time.Time
}

func New(client redis.ClientInterface) *Store {
	return &Store{client: client, ttl: DefaultTTL, now: time.Now}
}

// WithTTL overrides the default TTL; used by tests and by config wiring,
// which passes OCR_PENDING_STATE_TTL_SECONDS (default 600).
func (s *Store) WithTTL(ttl time.Duration) *Store {
	s.ttl = ttl
	return s
}

func key(correlationID string) string {
	return keyPrefix + correlationID
}

// Save persists state under correlationID with the store's configured TTL.
// It uses SETNX semantics so a duplicate enqueue for the same correlation
// id never silently clobbers an in-flight state.
func (s *Store) Save(ctx context.Context, correlationID string, state *envelope.PendingValidationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal pending validation state: %w", err)
	}

	ok, err := s.client.SetNXWithExpiration(ctx, key(correlationID), data, s.ttl)
	if err != nil {
		return fmt.Errorf("save pending validation state: %w", err)
	}
	if !ok {
		return fmt.Errorf("pending validation state already exists for correlation id %q", correlationID)
	}

	deadline := float64(s.now().Add(s.ttl).Unix())
	if err := s.client.ZAdd(ctx, deadlineIndexKey, correlationID, deadline); err != nil {
		// The Redis key's own TTL still protects against a stuck job
		// forever; losing this index entry only means the sweep won't find
		// it and the job relies on a late callback to resume.
		logger.Get().Warn("failed to index pending validation deadline",
			zap.String("correlation_id", correlationID), zap.Error(err))
	}
	return nil
}

// LoadAndDelete atomically reads and removes the state for correlationID.
// It returns (nil, nil) if no state exists — the caller should treat this
// as "already resumed by another worker" or "expired", never an error.
func (s *Store) LoadAndDelete(ctx context.Context, correlationID string) (*envelope.PendingValidationState, error) {
	result, err := s.client.Eval(ctx, loadAndDeleteScript, []string{key(correlationID)})
	if errors.Is(err, goredis.Nil) {
		// Lua `false` surfaces through go-redis as a redis.Nil error.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending validation state: %w", err)
	}

	raw, ok := result.(string)
	if !ok {
		// A nil reply also means no state exists.
		return nil, nil
	}

	if err := s.client.ZRem(ctx, deadlineIndexKey, correlationID); err != nil {
		logger.Get().Warn("failed to remove resumed correlation id from deadline index",
			zap.String("correlation_id", correlationID), zap.Error(err))
	}

	var state envelope.PendingValidationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal pending validation state: %w", err)
	}
	return &state, nil
}

// Expired returns the correlation ids whose deadline has passed as of now,
// for the TTL sweep to reclaim as abandoned.
func (s *Store) Expired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, deadlineIndexKey, "0", strconv.FormatInt(now.Unix(), 10))
	if err != nil {
		return nil, fmt.Errorf("list expired pending validation states: %w", err)
	}
	return ids, nil
}

// Forget removes correlationID from the deadline index without touching its
// state, so a sweep that already handled (or found nothing for) it doesn't
// keep rediscovering it on every tick.
func (s *Store) Forget(ctx context.Context, correlationID string) error {
	return s.client.ZRem(ctx, deadlineIndexKey, correlationID)
}
