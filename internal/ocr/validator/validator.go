// Package validator enqueues candidate OCR text for asynchronous
// validation by the external LLM proxy and correlates the eventual
// callback back to the suspended job.
package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/queue"
	"github.com/alexberardi/jarvis-ocr-service/pkg/resilience"
	"github.com/google/uuid"
)

// Request is the payload enqueued onto the validator's job queue.
type Request struct {
	CorrelationID string `json:"correlation_id"`
	CandidateText string `json:"candidate_text"`
	CallbackURL   string `json:"callback_url"`
	Language      string `json:"language,omitempty"`
	ModelHint     string `json:"model_hint,omitempty"`
}

// Verdict is the shape the validator eventually POSTs back.
type Verdict struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Client enqueues validation requests; CorrelationID doubles as an
// idempotency key, so a retried enqueue for the same candidate never
// produces two distinct pending states.
type Client struct {
	q           *queue.Queue
	callbackURL string
	modelHint   string
	retryConfig resilience.RetryConfig
}

func NewClient(q *queue.Queue, callbackURL, modelHint string) *Client {
	return &Client{
		q:           q,
		callbackURL: callbackURL,
		modelHint:   modelHint,
		retryConfig: resilience.ConservativeRetryConfig(),
	}
}

// NewCorrelationID mints a fresh correlation id for a new suspension point.
func NewCorrelationID() string {
	return uuid.New().String()
}

// Enqueue submits candidateText for validation under correlationID. Enqueue
// failure is job-level transient, per spec.md §4.3.
func (c *Client) Enqueue(ctx context.Context, correlationID, candidateText, language string) error {
	req := Request{
		CorrelationID: correlationID,
		CandidateText: candidateText,
		CallbackURL:   c.callbackURL,
		Language:      language,
		ModelHint:     c.modelHint,
	}

	_, err := resilience.RetryWithName(ctx, c.retryConfig, func(ctx context.Context) (interface{}, error) {
		return nil, c.q.Push(ctx, queue.ValidatorQueueKey, req)
	}, "validator.enqueue")
	if err != nil {
		return fmt.Errorf("enqueue validation request: %w", err)
	}
	return nil
}

// pollInterval documents the cadence a validator-side worker would drain
// this queue at; kept here since it's this package's contract to describe,
// even though this service is only the producer side.
const pollInterval = 2 * time.Second
