// Package worker drains the durable input queue and fans jobs out across a
// bounded pool of goroutines, each driving one job through the pipeline.
package worker

import (
	"context"
	"sync"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/queue"
	"github.com/alexberardi/jarvis-ocr-service/pkg/logger"
	"go.uber.org/zap"
)

// JobHandler drives one popped job to completion or suspension.
// pipeline.Driver.HandleJob satisfies this.
type JobHandler interface {
	HandleJob(ctx context.Context, job *envelope.JobEnvelope) error
}

// Config bounds the pool's concurrency.
type Config struct {
	WorkerCount int
	QueueKey    string
}

// Pool is a dispatcher goroutine (BLPOP loop against the input queue) plus N
// worker goroutines pulling from a bounded internal channel, each worker
// handling whole jobs. Per-tier call limits are enforced separately by
// providers.Registry, not by this pool.
type Pool struct {
	q       *queue.Queue
	handler JobHandler
	cfg     Config

	work chan *envelope.JobEnvelope
	wg   sync.WaitGroup
}

// NewPool builds a Pool. A zero or negative WorkerCount falls back to 4.
func NewPool(q *queue.Queue, handler JobHandler, cfg Config) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.QueueKey == "" {
		cfg.QueueKey = queue.InputQueueKey
	}

	return &Pool{
		q:       q,
		handler: handler,
		cfg:     cfg,
		work:    make(chan *envelope.JobEnvelope, cfg.WorkerCount),
	}
}

// Run starts the dispatcher and worker goroutines, blocking until ctx is
// cancelled, then waits for in-flight jobs to drain.
func (p *Pool) Run(ctx context.Context) {
	logger.Get().Info("ocr worker pool starting",
		zap.Int("workers", p.cfg.WorkerCount),
		zap.String("queue", p.cfg.QueueKey),
	)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.dispatch(ctx)

	close(p.work)
	p.wg.Wait()

	logger.Get().Info("ocr worker pool stopped")
}

// dispatch owns the BLPOP loop against the durable input queue, handing
// popped jobs to the bounded work channel. Blocking here (rather than in
// each worker) keeps pop ordering deterministic: exactly one dispatcher
// ever issues BLPOP against this queue key.
func (p *Pool) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var job envelope.JobEnvelope
		ok, err := p.q.Pop(ctx, p.cfg.QueueKey, &job)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Get().Error("failed to pop job from input queue", zap.Error(err))
			continue
		}
		if !ok {
			continue // pop timed out with nothing waiting; loop and retry
		}

		select {
		case p.work <- &job:
		case <-ctx.Done():
			return
		}
	}
}

// worker executes handed-off jobs until the work channel is closed.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.work {
		if err := p.handler.HandleJob(ctx, job); err != nil {
			logger.Get().Error("job handling failed",
				zap.Int("worker", id),
				zap.String("job_id", job.JobID),
				zap.Error(err),
			)
		}
	}
}
