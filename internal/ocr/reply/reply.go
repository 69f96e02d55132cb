// Package reply serializes and emits Completion Envelopes to the
// caller-specified reply queue.
package reply

import (
	"context"
	"fmt"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/queue"
)

// Emitter pushes completion envelopes to their reply queue.
type Emitter struct {
	q *queue.Queue
}

func NewEmitter(q *queue.Queue) *Emitter {
	return &Emitter{q: q}
}

// Emit stamps created_at and source at emit time and pushes the envelope to
// replyTo; trace.parent_job_id is left as envelope.NewCompletionEnvelope
// seeded it. Exactly-once delivery is not guaranteed;
// consumers must be idempotent on (job_id, workflow_id).
func (e *Emitter) Emit(ctx context.Context, replyTo string, completion *envelope.CompletionEnvelope, now time.Time) error {
	completion.CreatedAt = now
	completion.Source = envelope.ServiceSource

	if err := e.q.Push(ctx, replyTo, completion); err != nil {
		return fmt.Errorf("emit completion envelope to %q: %w", replyTo, err)
	}
	return nil
}
