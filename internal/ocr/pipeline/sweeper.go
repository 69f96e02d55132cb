package pipeline

import (
	"context"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/statestore"
	"github.com/alexberardi/jarvis-ocr-service/pkg/logger"
	"go.uber.org/zap"
)

// defaultSweepInterval is used when the caller doesn't override it.
const defaultSweepInterval = 30 * time.Second

// Sweeper periodically reclaims Pending Validation States abandoned by the
// validator: a suspension point whose TTL elapsed with no callback. Without
// it, a job that never hears back would simply vanish once its Redis key
// expired, per the abandonment policy in spec.md §5.
type Sweeper struct {
	driver   *Driver
	store    *statestore.Store
	interval time.Duration
}

// NewSweeper builds a Sweeper ticking every interval (falling back to
// defaultSweepInterval when <= 0).
func NewSweeper(driver *Driver, store *statestore.Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{driver: driver, store: store, interval: interval}
}

// Run ticks until ctx is cancelled, reclaiming expired correlation ids on
// every tick. It never returns an error: individual reclaim failures are
// logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	ids, err := s.store.Expired(ctx, nowUTC())
	if err != nil {
		logger.Get().Warn("ttl sweep failed to list expired correlation ids", zap.Error(err))
		return
	}

	for _, correlationID := range ids {
		if err := s.driver.handleExpired(ctx, correlationID); err != nil {
			logger.Get().Error("ttl sweep failed to reclaim correlation id",
				zap.String("correlation_id", correlationID), zap.Error(err))
		}
	}
}
