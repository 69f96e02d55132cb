// Package pipeline implements the Resumer: the per-job, per-image state
// machine that walks the tier cascade, suspends pending validation, and
// resumes from the callback.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/ocrerr"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/providers"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/queue"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/reply"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/resolver"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/statestore"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/validator"
	"github.com/alexberardi/jarvis-ocr-service/pkg/async"
	"github.com/alexberardi/jarvis-ocr-service/pkg/eventbus"
	"github.com/alexberardi/jarvis-ocr-service/pkg/logger"
	"github.com/alexberardi/jarvis-ocr-service/pkg/resilience"
	"github.com/alexberardi/jarvis-ocr-service/pkg/validation"
	"go.uber.org/zap"
)

// EventPublisher is the narrow slice of eventbus.Bus the pipeline needs to
// emit best-effort lifecycle notifications. *eventbus.Bus satisfies this.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// Config bounds the tier cascade and retry policy.
type Config struct {
	EnabledTiers  []string
	MaxTextBytes  int
	MaxAttempts   int
	MinConfidence *float64
}

// Driver is the central state machine described in spec.md §4.6: it pops
// validated jobs, drives the tier cascade per image, suspends on validator
// enqueue, and resumes on callback.
type Driver struct {
	registry   *providers.Registry
	resolver   *resolver.MultiResolver
	validator  *validator.Client
	stateStore *statestore.Store
	replyer    *reply.Emitter
	inputQueue *queue.Queue
	cfg        Config

	stateStoreBreaker *resilience.CircuitBreaker
	validatorBreaker  *resilience.CircuitBreaker

	events EventPublisher
}

func NewDriver(
	registry *providers.Registry,
	res *resolver.MultiResolver,
	validatorClient *validator.Client,
	stateStore *statestore.Store,
	replyer *reply.Emitter,
	inputQueue *queue.Queue,
	cfg Config,
	stateStoreBreaker *resilience.CircuitBreaker,
	validatorBreaker *resilience.CircuitBreaker,
) *Driver {
	return &Driver{
		registry:          registry,
		resolver:          res,
		validator:         validatorClient,
		stateStore:        stateStore,
		replyer:           replyer,
		inputQueue:        inputQueue,
		cfg:               cfg,
		stateStoreBreaker: stateStoreBreaker,
		validatorBreaker:  validatorBreaker,
	}
}

// SetEventPublisher wires a best-effort lifecycle event sink. Left nil, the
// driver runs exactly as before — publishing is purely observational and
// never gates job processing.
func (d *Driver) SetEventPublisher(pub EventPublisher) {
	d.events = pub
}

// HandleJob is the entry point from the worker loop for a freshly popped
// job.
func (d *Driver) HandleJob(ctx context.Context, job *envelope.JobEnvelope) error {
	if err := validation.ValidateStruct(job); err != nil {
		return d.failFast(ctx, job, ocrerr.New(ocrerr.CodeBadRequest, err.Error()))
	}
	if job.ReplyTo == "" {
		return d.failFast(ctx, job, ocrerr.New(ocrerr.CodeBadRequest, "reply_to is required"))
	}

	if job.Attempt <= 1 {
		d.publishAccepted(ctx, job)
	}

	results := make([]envelope.ImageResult, 0, len(job.Payload.ImageRefs))
	return d.advanceImage(ctx, job, results, 0, job.Attempt)
}

// failFast drops a schema-invalid job without retry, emitting a failed
// completion when a reply target is known.
func (d *Driver) failFast(ctx context.Context, job *envelope.JobEnvelope, failure *ocrerr.Error) error {
	logger.Get().Warn("dropping job that failed fast validation",
		zap.String("job_id", job.JobID),
		zap.String("code", string(failure.Code)),
		zap.String("message", failure.Message),
	)

	if job.ReplyTo == "" {
		return nil
	}

	completion := envelope.NewCompletionEnvelope(job, nowUTC())
	completion.Payload = envelope.CompletionPayload{
		Status: envelope.StatusFailed,
		Error:  &envelope.CompletionError{Code: string(failure.Code), Message: failure.Message},
	}
	d.publishFailed(ctx, job, failure.Message)
	return d.replyer.Emit(ctx, job.ReplyTo, completion, nowUTC())
}

// advanceImage processes images sequentially starting at imageIndex, tier 0.
func (d *Driver) advanceImage(ctx context.Context, job *envelope.JobEnvelope, results []envelope.ImageResult, imageIndex, attempt int) error {
	if imageIndex >= len(job.Payload.ImageRefs) {
		return d.complete(ctx, job, results, attempt)
	}
	return d.runTierCascade(ctx, job, results, imageIndex, 0, false, attempt)
}

// runTierCascade walks active tiers for job.Payload.ImageRefs[imageIndex]
// starting at tierIndex. candidateSeen records whether any tier has already
// produced candidate text for this image in its lifetime (true whenever
// this call is a resumption after a rejected validation, since reaching
// that point requires an earlier tier to have produced a candidate).
func (d *Driver) runTierCascade(ctx context.Context, job *envelope.JobEnvelope, results []envelope.ImageResult, imageIndex, tierIndex int, candidateSeen bool, attempt int) error {
	active := d.registry.ActiveTiers(ctx, d.cfg.EnabledTiers)
	ref := job.Payload.ImageRefs[imageIndex]

	resolved, err := d.resolver.Resolve(ctx, ref)
	if err != nil {
		if jobLevelTransient(err) {
			return d.requeue(ctx, job, results, attempt, err)
		}
		results = finalizeImageError(results, ref.Index, ocrerr.AsCode(err), err.Error(), "")
		return d.advanceImage(ctx, job, results, imageIndex+1, attempt)
	}

	for k := tierIndex; k < len(active); k++ {
		tier := active[k]

		out, err := d.registry.Extract(ctx, tier, resolved.Bytes, job.Payload.LanguageHint)
		if err != nil {
			if !candidateSeen && !isDriverErrorTransient(err) {
				results = finalizeImageError(results, ref.Index, ocrerr.CodeOCREngineError, err.Error(), string(tier))
				return d.advanceImage(ctx, job, results, imageIndex+1, attempt)
			}
			continue
		}

		candidateSeen = true
		return d.suspendForValidation(ctx, job, results, imageIndex, k, tier, out, attempt)
	}

	// Every remaining tier was attempted (or skipped as unregistered) without
	// ever producing an acceptable outcome.
	lastTier := ""
	if len(active) > 0 {
		lastTier = string(active[len(active)-1])
	}
	results = finalizeImageError(results, ref.Index, ocrerr.CodeOCRNoValidOutput, "no tier produced a valid result", lastTier)
	return d.advanceImage(ctx, job, results, imageIndex+1, attempt)
}

// suspendForValidation persists the Pending Validation State and enqueues
// the validator call, suspending execution of this job until the callback
// arrives.
func (d *Driver) suspendForValidation(
	ctx context.Context,
	job *envelope.JobEnvelope,
	results []envelope.ImageResult,
	imageIndex, tierIndex int,
	tier providers.Tier,
	out providers.Result,
	attempt int,
) error {
	emitText, truncated := truncateUTF8(out.CandidateText, d.cfg.MaxTextBytes)

	correlationID := validator.NewCorrelationID()
	state := &envelope.PendingValidationState{
		Job:               job,
		CurrentImageIndex: imageIndex,
		CurrentTierIndex:  tierIndex,
		CandidateText:     emitText,
		Truncated:         truncated,
		OriginalTextLen:   len(out.CandidateText),
		CandidateTier:     string(tier),
		Results:           results,
		Attempt:           attempt,
		CreatedAt:         nowUTC(),
	}
	if out.NativeConfidence != nil {
		state.CandidateConfidence = *out.NativeConfidence
	}

	saveErr := d.withStateStoreBreaker(ctx, func(ctx context.Context) error {
		return d.stateStore.Save(ctx, correlationID, state)
	})
	if saveErr != nil {
		return d.requeue(ctx, job, results, attempt, saveErr)
	}

	lang := ""
	if job.Payload.LanguageHint != nil {
		lang = *job.Payload.LanguageHint
	}

	enqueueErr := d.withValidatorBreaker(ctx, func(ctx context.Context) error {
		return d.validator.Enqueue(ctx, correlationID, emitText, lang)
	})
	if enqueueErr != nil {
		return d.requeue(ctx, job, results, attempt, enqueueErr)
	}

	return nil
}

// HandleCallback resumes a suspended job from the validator's verdict. A
// nil return with no state found means the correlation id was already
// resumed by another worker, or its state expired — the caller (the
// callback HTTP handler) is expected to treat that as a 404.
func (d *Driver) HandleCallback(ctx context.Context, correlationID string, verdict envelope.ValidatorVerdict) (bool, error) {
	var state *envelope.PendingValidationState
	err := d.withStateStoreBreaker(ctx, func(ctx context.Context) error {
		var loadErr error
		state, loadErr = d.stateStore.LoadAndDelete(ctx, correlationID)
		return loadErr
	})
	if err != nil {
		return false, fmt.Errorf("load pending validation state: %w", err)
	}
	if state == nil {
		return false, nil
	}

	job := state.Job
	ref := job.Payload.ImageRefs[state.CurrentImageIndex]
	active := d.registry.ActiveTiers(ctx, d.cfg.EnabledTiers)

	accepted := verdict.IsValid
	if accepted && d.cfg.MinConfidence != nil && verdict.Confidence < *d.cfg.MinConfidence {
		accepted = false
	}

	if accepted {
		confidence := resolveConfidence(state, verdict)
		var reason *string
		if verdict.Reason != "" {
			r := verdict.Reason
			reason = &r
		}
		// Pending Validation State only carries the already-truncated
		// candidate text, so Truncated can't be recomputed here; it was
		// already applied to CandidateText in suspendForValidation.
		result := envelope.ImageResult{
			Index:     ref.Index,
			OCRText:   state.CandidateText,
			Truncated: state.Truncated,
			Meta: envelope.ResultMeta{
				Language:        job.Payload.LanguageHint,
				Confidence:      confidence,
				TextLen:         state.OriginalTextLen,
				IsValid:         true,
				Tier:            state.CandidateTier,
				ValidatorReason: reason,
			},
		}
		results := append(state.Results, result)
		return true, d.advanceImage(ctx, job, results, state.CurrentImageIndex+1, state.Attempt)
	}

	nextTier := state.CurrentTierIndex + 1
	if nextTier >= len(active) {
		results := finalizeImageError(state.Results, ref.Index, ocrerr.CodeOCRNoValidOutput, "validator rejected every tier's output", state.CandidateTier)
		return true, d.advanceImage(ctx, job, results, state.CurrentImageIndex+1, state.Attempt)
	}

	return true, d.runTierCascade(ctx, job, state.Results, state.CurrentImageIndex, nextTier, true, state.Attempt)
}

// complete computes the final status and emits the Completion Envelope.
func (d *Driver) complete(ctx context.Context, job *envelope.JobEnvelope, results []envelope.ImageResult, attempt int) error {
	ordered := orderByIndex(results, len(job.Payload.ImageRefs))

	status := envelope.StatusFailed
	for _, r := range ordered {
		if r.Meta.IsValid {
			status = envelope.StatusSuccess
			break
		}
	}

	completion := envelope.NewCompletionEnvelope(job, nowUTC())
	completion.Attempt = attempt
	completion.Payload = envelope.CompletionPayload{
		Status:  status,
		Results: ordered,
	}
	if status == envelope.StatusFailed {
		completion.Payload.Error = &envelope.CompletionError{
			Code:    string(ocrerr.CodeAllImagesFailed),
			Message: "no image produced a validated result",
		}
		d.publishFailed(ctx, job, "no image produced a validated result")
	} else {
		d.publishCompleted(ctx, job, ordered)
	}

	return d.replyer.Emit(ctx, job.ReplyTo, completion, nowUTC())
}

// requeue implements the job-level transient retry policy: push the job
// back to the tail of the input queue with attempt+1, up to MaxAttempts;
// beyond that, emit a failed completion with exhausted_retries.
func (d *Driver) requeue(ctx context.Context, job *envelope.JobEnvelope, results []envelope.ImageResult, attempt int, cause error) error {
	logger.Get().Warn("job-level transient failure",
		zap.String("job_id", job.JobID),
		zap.Int("attempt", attempt),
		zap.Error(cause),
	)

	if attempt >= d.cfg.MaxAttempts {
		completion := envelope.NewCompletionEnvelope(job, nowUTC())
		completion.Attempt = attempt
		completion.Payload = envelope.CompletionPayload{
			Status: envelope.StatusFailed,
			Error: &envelope.CompletionError{
				Code:    string(ocrerr.CodeExhaustedRetries),
				Message: cause.Error(),
			},
		}
		d.publishFailed(ctx, job, cause.Error())
		return d.replyer.Emit(ctx, job.ReplyTo, completion, nowUTC())
	}

	retried := *job
	retried.Attempt = attempt + 1
	return d.inputQueue.Push(ctx, queue.InputQueueKey, &retried)
}

// handleExpired reclaims a Pending Validation State whose TTL elapsed with
// no callback: per spec.md §5, the job is considered abandoned and either
// re-queued (attempt+1) or, once attempts are exhausted, failed — the same
// policy requeue already applies to any other job-level transient cause.
func (d *Driver) handleExpired(ctx context.Context, correlationID string) error {
	var state *envelope.PendingValidationState
	err := d.withStateStoreBreaker(ctx, func(ctx context.Context) error {
		var loadErr error
		state, loadErr = d.stateStore.LoadAndDelete(ctx, correlationID)
		return loadErr
	})
	if err != nil {
		// Left in the deadline index so the next sweep retries it.
		return fmt.Errorf("load expired pending validation state: %w", err)
	}

	defer func() {
		if err := d.stateStore.Forget(ctx, correlationID); err != nil {
			logger.Get().Warn("failed to forget swept correlation id",
				zap.String("correlation_id", correlationID), zap.Error(err))
		}
	}()

	if state == nil {
		// Already resumed by a late callback, or swept by another worker.
		return nil
	}

	cause := ocrerr.New(ocrerr.CodeValidatorTimeout,
		fmt.Sprintf("validator did not respond for correlation id %s before its deadline", correlationID))
	return d.requeue(ctx, state.Job, state.Results, state.Attempt, cause)
}

func (d *Driver) withStateStoreBreaker(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := d.stateStoreBreaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, op(ctx)
	})
	return err
}

func (d *Driver) withValidatorBreaker(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := d.validatorBreaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, op(ctx)
	})
	return err
}

func resolveConfidence(state *envelope.PendingValidationState, verdict envelope.ValidatorVerdict) float64 {
	if state.CandidateConfidence > 0 {
		return state.CandidateConfidence
	}
	if verdict.Confidence > 0 {
		return verdict.Confidence
	}
	heuristic := float64(len(state.CandidateText)) / 200.0
	if heuristic > 1.0 {
		heuristic = 1.0
	}
	return heuristic
}

func finalizeImageError(results []envelope.ImageResult, index int, code ocrerr.Code, message, tier string) []envelope.ImageResult {
	return append(results, envelope.ImageResult{
		Index: index,
		Meta: envelope.ResultMeta{
			IsValid: false,
			Tier:    tier,
		},
		Error: &envelope.ResultError{Code: string(code), Message: message},
	})
}

// orderByIndex sorts accumulated results into ascending index order,
// guaranteeing exactly one entry per requested image.
func orderByIndex(results []envelope.ImageResult, count int) []envelope.ImageResult {
	ordered := make([]envelope.ImageResult, count)
	for _, r := range results {
		if r.Index >= 0 && r.Index < count {
			ordered[r.Index] = r
		}
	}
	return ordered
}

// jobLevelTransient reports whether an image-resolve error should bubble up
// as a job-level retry rather than a per-image failure — reserved for
// infrastructure errors the resolver explicitly marks as such.
func jobLevelTransient(err error) bool {
	return ocrerr.AsCode(err) == ocrerr.CodeInternal
}

// isDriverErrorTransient classifies a driver error by its ocrerr code: an
// error carrying a non-transient code (e.g. ocr_engine_error) is a hard
// failure, while an error with no ocrerr code counts as internal_error and
// is therefore treated as transient, so the cascade moves on to the next
// tier.
func isDriverErrorTransient(err error) bool {
	return ocrerr.IsTransient(ocrerr.AsCode(err))
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// publishAccepted emits ocr.job.accepted once a job has passed validation
// and entered the tier cascade for the first time.
func (d *Driver) publishAccepted(ctx context.Context, job *envelope.JobEnvelope) {
	lang := ""
	if job.Payload.LanguageHint != nil {
		lang = *job.Payload.LanguageHint
	}
	kind := ""
	if len(job.Payload.ImageRefs) > 0 {
		kind = string(job.Payload.ImageRefs[0].Kind)
	}
	d.publishEvent(ctx, eventbus.SubjectOCRJobAccepted, job.JobID, eventbus.OCRJobAcceptedData{
		JobID:      job.JobID,
		ImageCount: job.Payload.ImageCount,
		Kind:       kind,
		Language:   lang,
		AcceptedAt: nowUTC(),
	})
}

// publishCompleted emits ocr.job.completed once every image has reached a
// terminal result, summarizing the same counts carried in the completion
// envelope.
func (d *Driver) publishCompleted(ctx context.Context, job *envelope.JobEnvelope, ordered []envelope.ImageResult) {
	succeeded, failed := 0, 0
	highestTier := ""
	for _, r := range ordered {
		if r.Meta.IsValid {
			succeeded++
		} else {
			failed++
		}
		if r.Meta.Tier != "" {
			highestTier = r.Meta.Tier
		}
	}
	d.publishEvent(ctx, eventbus.SubjectOCRJobCompleted, job.JobID, eventbus.OCRJobCompletedData{
		JobID:          job.JobID,
		ImageCount:     len(ordered),
		SucceededCount: succeeded,
		FailedCount:    failed,
		HighestTier:    highestTier,
		DurationMillis: nowUTC().Sub(job.CreatedAt).Milliseconds(),
		CompletedAt:    nowUTC(),
	})
}

// publishFailed emits ocr.job.failed when a job is abandoned before
// completion: fail-fast validation, exhausted retries, or every image
// ending without a validated result.
func (d *Driver) publishFailed(ctx context.Context, job *envelope.JobEnvelope, reason string) {
	d.publishEvent(ctx, eventbus.SubjectOCRJobFailed, job.JobID, eventbus.OCRJobFailedData{
		JobID:    job.JobID,
		Reason:   reason,
		FailedAt: nowUTC(),
	})
}

// publishEvent is best-effort and fire-and-forget: it never blocks the job
// it describes on NATS I/O, and a publish failure never fails that job —
// only logged.
func (d *Driver) publishEvent(ctx context.Context, subject, jobID string, data interface{}) {
	if d.events == nil {
		return
	}

	event, err := eventbus.NewEvent(subject, "ocr-worker", data)
	if err != nil {
		logger.Get().Warn("failed to build lifecycle event", zap.String("subject", subject), zap.Error(err))
		return
	}

	async.GoWithTimeout(ctx, "publish-"+subject, 5*time.Second, func(taskCtx context.Context) {
		if err := d.events.Publish(taskCtx, subject, event); err != nil {
			logger.Get().Warn("failed to publish lifecycle event",
				zap.String("subject", subject), zap.String("job_id", jobID), zap.Error(err))
		}
	})
}
