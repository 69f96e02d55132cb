package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/ocrerr"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/providers"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/queue"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/reply"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/resolver"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/statestore"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/validator"
	"github.com/alexberardi/jarvis-ocr-service/pkg/eventbus"
	"github.com/alexberardi/jarvis-ocr-service/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is a minimal in-memory stand-in for redis.ClientInterface,
// enough to drive queue.Queue and statestore.Store deterministically without
// a real Redis server.
type fakeRedis struct {
	mu    sync.Mutex
	kv    map[string]string
	lists map[string][]string
	zsets map[string]map[string]float64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{kv: map[string]string{}, lists: map[string][]string{}, zsets: map[string]map[string]float64{}}
}

func (f *fakeRedis) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeRedis) SetNXWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.kv[key]; exists {
		return false, nil
	}
	f.kv[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (f *fakeRedis) GetString(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return "", fmt.Errorf("not found")
	}
	return v, nil
}

func (f *fakeRedis) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
	}
	return nil
}

func (f *fakeRedis) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.kv[key]
	return ok, nil
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) RPush(ctx context.Context, key string, values ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		switch t := v.(type) {
		case []byte:
			f.lists[key] = append(f.lists[key], string(t))
		default:
			data, _ := json.Marshal(v)
			f.lists[key] = append(f.lists[key], string(data))
		}
	}
	return nil
}

func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[key], nil
}

func (f *fakeRedis) BLPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error) {
	return nil, fmt.Errorf("not used in pipeline tests")
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) error { return nil }

func (f *fakeRedis) ZAdd(ctx context.Context, key string, member string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.zsets[key] == nil {
		f.zsets[key] = map[string]float64{}
	}
	f.zsets[key][member] = score
	return nil
}

func (f *fakeRedis) ZRangeByScore(ctx context.Context, key string, min, max string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lo, _ := strconv.ParseFloat(min, 64)
	hi, _ := strconv.ParseFloat(max, 64)
	var out []string
	for member, score := range f.zsets[key] {
		if score >= lo && score <= hi {
			out = append(out, member)
		}
	}
	return out, nil
}

func (f *fakeRedis) ZRem(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.zsets[key], m)
	}
	return nil
}

// Eval emulates the load-and-delete Lua script used by statestore.Store
// without a Lua interpreter: GET-then-DEL on keys[0].
func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[keys[0]]
	if !ok {
		return nil, nil
	}
	delete(f.kv, keys[0])
	return v, nil
}

// fakeOCRDriver is a scripted providers.Driver for test scenarios.
type fakeOCRDriver struct {
	tier      providers.Tier
	available bool
	text      string
	err       error
}

func (f *fakeOCRDriver) Tier() providers.Tier { return f.tier }
func (f *fakeOCRDriver) Available(ctx context.Context) bool { return f.available }
func (f *fakeOCRDriver) Extract(ctx context.Context, b []byte, lang *string) (providers.Result, error) {
	if f.err != nil {
		return providers.Result{}, f.err
	}
	return providers.Result{CandidateText: f.text}, nil
}

type fakeResolver struct{ bytes []byte }

func (r *fakeResolver) Kind() envelope.ImageReferenceKind { return envelope.KindLocalPath }
func (r *fakeResolver) Resolve(ctx context.Context, ref envelope.ImageReference) (resolver.Resolved, error) {
	return resolver.Resolved{Bytes: r.bytes, MediaType: "image/png"}, nil
}

var pngMagic = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
var pdfMagic = []byte("%PDF-1.4\n...")

// byValueResolver returns different bytes per reference value, letting a
// single test job mix a rejected reference (e.g. a PDF) with a valid one.
type byValueResolver struct{ bytesByValue map[string][]byte }

func (r *byValueResolver) Kind() envelope.ImageReferenceKind { return envelope.KindLocalPath }
func (r *byValueResolver) Resolve(ctx context.Context, ref envelope.ImageReference) (resolver.Resolved, error) {
	return resolver.Resolved{Bytes: r.bytesByValue[ref.Value]}, nil
}

func testDriver(t *testing.T, tiers ...providers.Driver) (*Driver, *fakeRedis) {
	t.Helper()
	res := resolver.NewMultiResolver(&fakeResolver{bytes: pngMagic})
	return testDriverWithResolver(t, res, tiers...)
}

func testDriverWithResolver(t *testing.T, res *resolver.MultiResolver, tiers ...providers.Driver) (*Driver, *fakeRedis) {
	t.Helper()
	fr := newFakeRedis()
	q := queue.New(fr)
	ss := statestore.New(fr)
	vc := validator.NewClient(q, "https://ocr.internal/cb", "llm_local_light")
	emitter := reply.NewEmitter(q)
	reg := providers.NewRegistry(2, tiers...)

	cfg := Config{
		EnabledTiers: tierNames(tiers),
		MaxTextBytes: 51200,
		MaxAttempts:  3,
	}

	noopBreaker := resilience.NewCircuitBreaker(resilience.Settings{Name: "test"}, nil)
	d := NewDriver(reg, res, vc, ss, emitter, q, cfg, noopBreaker, noopBreaker)
	return d, fr
}

func tierNames(drivers []providers.Driver) []string {
	names := make([]string, len(drivers))
	for i, d := range drivers {
		names[i] = string(d.Tier())
	}
	return names
}

func sampleJob() *envelope.JobEnvelope {
	return &envelope.JobEnvelope{
		SchemaVersion: envelope.SchemaVersion,
		JobID:         "job-1",
		WorkflowID:    "wf-1",
		JobType:       envelope.JobTypeOCRRequest,
		Source:        "recipe-ingester",
		CreatedAt:     time.Now(),
		Attempt:       1,
		ReplyTo:       "recipe-ingester.replies",
		Payload: envelope.Payload{
			ImageCount: 1,
			ImageRefs: []envelope.ImageReference{
				{Kind: envelope.KindLocalPath, Value: "a.png", Index: 0},
			},
		},
	}
}

func TestHandleJob_SuspendsOnFirstTierCandidate(t *testing.T) {
	d, fr := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "hello world"})

	err := d.HandleJob(context.Background(), sampleJob())
	require.NoError(t, err)

	fr.mu.Lock()
	defer fr.mu.Unlock()
	assert.Len(t, fr.kv, 1, "one pending validation state should be persisted")
	assert.Len(t, fr.lists[validatorQueueKeyForTest()], 1, "one validator request should be enqueued")
}

func validatorQueueKeyForTest() string { return queue.ValidatorQueueKey }

func TestHandleJob_BadRequestEmitsFailedCompletionNoRetry(t *testing.T) {
	d, fr := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "x"})

	job := sampleJob()
	job.Payload.ImageCount = 9 // mismatches len(ImageRefs): fails image_count_matches

	err := d.HandleJob(context.Background(), job)
	require.NoError(t, err)

	fr.mu.Lock()
	defer fr.mu.Unlock()
	replies := fr.lists[job.ReplyTo]
	require.Len(t, replies, 1)

	var completion envelope.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(replies[0]), &completion))
	assert.Equal(t, envelope.StatusFailed, completion.Payload.Status)
	assert.Equal(t, "bad_request", completion.Payload.Error.Code)
}

func TestHandleJob_DuplicateIndexEmitsFailedCompletionNoRetry(t *testing.T) {
	d, fr := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "x"})

	job := sampleJob()
	job.Payload.ImageCount = 2
	job.Payload.ImageRefs = []envelope.ImageReference{
		{Kind: envelope.KindLocalPath, Value: "a.png", Index: 0},
		{Kind: envelope.KindLocalPath, Value: "b.png", Index: 0},
	}

	err := d.HandleJob(context.Background(), job)
	require.NoError(t, err)

	fr.mu.Lock()
	defer fr.mu.Unlock()
	replies := fr.lists[job.ReplyTo]
	require.Len(t, replies, 1)

	var completion envelope.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(replies[0]), &completion))
	assert.Equal(t, envelope.StatusFailed, completion.Payload.Status)
	assert.Equal(t, "bad_request", completion.Payload.Error.Code)
}

func TestHandleJob_OutOfRangeIndexEmitsFailedCompletionNoRetry(t *testing.T) {
	d, fr := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "x"})

	job := sampleJob()
	job.Payload.ImageCount = 1
	job.Payload.ImageRefs = []envelope.ImageReference{
		{Kind: envelope.KindLocalPath, Value: "a.png", Index: 5},
	}

	err := d.HandleJob(context.Background(), job)
	require.NoError(t, err)

	fr.mu.Lock()
	defer fr.mu.Unlock()
	replies := fr.lists[job.ReplyTo]
	require.Len(t, replies, 1)

	var completion envelope.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(replies[0]), &completion))
	assert.Equal(t, envelope.StatusFailed, completion.Payload.Status)
	assert.Equal(t, "bad_request", completion.Payload.Error.Code)
}

func TestHandleCallback_AcceptedAdvancesAndCompletes(t *testing.T) {
	d, fr := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "hello world"})

	job := sampleJob()
	require.NoError(t, d.HandleJob(context.Background(), job))

	var correlationID string
	fr.mu.Lock()
	for k := range fr.kv {
		correlationID = k[len("jarvis.ocr.pending:"):]
	}
	fr.mu.Unlock()
	require.NotEmpty(t, correlationID)

	resumed, err := d.HandleCallback(context.Background(), correlationID, envelope.ValidatorVerdict{IsValid: true, Confidence: 0.9, Reason: "looks right"})
	require.NoError(t, err)
	assert.True(t, resumed)

	fr.mu.Lock()
	defer fr.mu.Unlock()
	replies := fr.lists[job.ReplyTo]
	require.Len(t, replies, 1)

	var completion envelope.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(replies[0]), &completion))
	assert.Equal(t, envelope.StatusSuccess, completion.Payload.Status)
	require.Len(t, completion.Payload.Results, 1)
	assert.True(t, completion.Payload.Results[0].Meta.IsValid)
	assert.Equal(t, "hello world", completion.Payload.Results[0].OCRText)
}

func TestHandleCallback_RejectedAdvancesToNextTier(t *testing.T) {
	d, fr := testDriver(t,
		&fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "first guess"},
		&fakeOCRDriver{tier: providers.TierEasyOCR, available: true, text: "second guess"},
	)

	job := sampleJob()
	require.NoError(t, d.HandleJob(context.Background(), job))

	var correlationID string
	fr.mu.Lock()
	for k := range fr.kv {
		correlationID = k[len("jarvis.ocr.pending:"):]
	}
	fr.mu.Unlock()

	resumed, err := d.HandleCallback(context.Background(), correlationID, envelope.ValidatorVerdict{IsValid: false, Reason: "nonsense"})
	require.NoError(t, err)
	assert.True(t, resumed)

	// Second tier's candidate should now be pending validation.
	fr.mu.Lock()
	defer fr.mu.Unlock()
	assert.Len(t, fr.kv, 1)
}

func TestHandleCallback_UnknownCorrelationIDReturnsFalse(t *testing.T) {
	d, _ := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "x"})

	resumed, err := d.HandleCallback(context.Background(), "does-not-exist", envelope.ValidatorVerdict{IsValid: true})
	require.NoError(t, err)
	assert.False(t, resumed)
}

func TestHandleJob_EngineErrorOnOnlyTierYieldsOCREngineError(t *testing.T) {
	d, fr := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, err: ocrerr.New(ocrerr.CodeOCREngineError, "decode failed")})

	job := sampleJob()
	require.NoError(t, d.HandleJob(context.Background(), job))

	fr.mu.Lock()
	defer fr.mu.Unlock()
	replies := fr.lists[job.ReplyTo]
	require.Len(t, replies, 1)

	var completion envelope.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(replies[0]), &completion))
	assert.Equal(t, envelope.StatusFailed, completion.Payload.Status)
	require.Len(t, completion.Payload.Results, 1)
	assert.Equal(t, "ocr_engine_error", completion.Payload.Results[0].Error.Code)
}

type fakeEventPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeEventPublisher) Publish(ctx context.Context, subject string, event *eventbus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeEventPublisher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

// publishEvent fires the actual bus call in its own goroutine (fire and
// forget), so assertions on what got published have to tolerate a short
// delivery delay instead of checking immediately after HandleJob returns.
func waitForSubjects(t *testing.T, pub *fakeEventPublisher, want []string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if assert.ObjectsAreEqual(want, pub.snapshot()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, want, pub.snapshot())
}

func TestHandleJob_PublishesAcceptedEvent(t *testing.T) {
	d, _ := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "hello world"})
	pub := &fakeEventPublisher{}
	d.SetEventPublisher(pub)

	job := sampleJob()
	require.NoError(t, d.HandleJob(context.Background(), job))

	waitForSubjects(t, pub, []string{eventbus.SubjectOCRJobAccepted})
}

func TestHandleCallback_AcceptedVerdictPublishesCompletedEvent(t *testing.T) {
	d, fr := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "hello world"})
	pub := &fakeEventPublisher{}
	d.SetEventPublisher(pub)

	job := sampleJob()
	require.NoError(t, d.HandleJob(context.Background(), job))
	waitForSubjects(t, pub, []string{eventbus.SubjectOCRJobAccepted})

	var correlationID string
	fr.mu.Lock()
	for k := range fr.kv {
		correlationID = k[len("jarvis.ocr.pending:"):]
	}
	fr.mu.Unlock()
	require.NotEmpty(t, correlationID)

	resumed, err := d.HandleCallback(context.Background(), correlationID, envelope.ValidatorVerdict{IsValid: true, Confidence: 0.9})
	require.NoError(t, err)
	assert.True(t, resumed)

	waitForSubjects(t, pub, []string{eventbus.SubjectOCRJobAccepted, eventbus.SubjectOCRJobCompleted})
}

func TestHandleJob_NilEventPublisherIsSafe(t *testing.T) {
	d, _ := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "hello world"})
	require.NoError(t, d.HandleJob(context.Background(), sampleJob()))
}

// TestHandleJob_PDFReferenceFailsWhileValidImageSucceeds exercises a job
// carrying one rejected reference (a PDF, unsupported media) alongside one
// valid image: the PDF's slot gets a per-image error but the job still
// reaches a success completion carrying the other image's validated result.
func TestHandleJob_PDFReferenceFailsWhileValidImageSucceeds(t *testing.T) {
	res := resolver.NewMultiResolver(&byValueResolver{bytesByValue: map[string][]byte{
		"doc.pdf": pdfMagic,
		"img.png": pngMagic,
	}})
	d, fr := testDriverWithResolver(t, res, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "hello world"})

	job := sampleJob()
	job.Payload.ImageCount = 2
	job.Payload.ImageRefs = []envelope.ImageReference{
		{Kind: envelope.KindLocalPath, Value: "doc.pdf", Index: 0},
		{Kind: envelope.KindLocalPath, Value: "img.png", Index: 1},
	}

	require.NoError(t, d.HandleJob(context.Background(), job))

	var correlationID string
	fr.mu.Lock()
	for k := range fr.kv {
		correlationID = k[len("jarvis.ocr.pending:"):]
	}
	fr.mu.Unlock()
	require.NotEmpty(t, correlationID, "the valid image should have reached pending validation")

	resumed, err := d.HandleCallback(context.Background(), correlationID, envelope.ValidatorVerdict{IsValid: true, Confidence: 0.9})
	require.NoError(t, err)
	assert.True(t, resumed)

	fr.mu.Lock()
	defer fr.mu.Unlock()
	replies := fr.lists[job.ReplyTo]
	require.Len(t, replies, 1)

	var completion envelope.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(replies[0]), &completion))
	assert.Equal(t, envelope.StatusSuccess, completion.Payload.Status)
	require.Len(t, completion.Payload.Results, 2)
	assert.False(t, completion.Payload.Results[0].Meta.IsValid)
	assert.Equal(t, "unsupported_media", completion.Payload.Results[0].Error.Code)
	assert.True(t, completion.Payload.Results[1].Meta.IsValid)
	assert.Equal(t, "hello world", completion.Payload.Results[1].OCRText)
}

// TestHandleCallback_DuplicateCallbackOnlyResumesOnce asserts that replaying
// the same correlation id never emits a second completion: the first call
// consumes the Pending Validation State (single-writer via LoadAndDelete),
// the second finds nothing and reports resumed=false.
func TestHandleCallback_DuplicateCallbackOnlyResumesOnce(t *testing.T) {
	d, fr := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "hello world"})

	job := sampleJob()
	require.NoError(t, d.HandleJob(context.Background(), job))

	var correlationID string
	fr.mu.Lock()
	for k := range fr.kv {
		correlationID = k[len("jarvis.ocr.pending:"):]
	}
	fr.mu.Unlock()
	require.NotEmpty(t, correlationID)

	verdict := envelope.ValidatorVerdict{IsValid: true, Confidence: 0.9}

	first, err := d.HandleCallback(context.Background(), correlationID, verdict)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := d.HandleCallback(context.Background(), correlationID, verdict)
	require.NoError(t, err)
	assert.False(t, second, "a replayed callback must not resume a job twice")

	fr.mu.Lock()
	defer fr.mu.Unlock()
	assert.Len(t, fr.lists[job.ReplyTo], 1, "exactly one completion must ever be emitted")
}

// TestSuspendForValidation_TruncatesOversizedCandidateText exercises the
// 60000-byte candidate against the default 51200-byte cap: the Pending
// Validation State and the emitted validator request must carry the
// truncated text, with Truncated recorded so the eventual result reflects
// it.
func TestSuspendForValidation_TruncatesOversizedCandidateText(t *testing.T) {
	oversized := strings.Repeat("a", 60000)
	d, fr := testDriver(t, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: oversized})

	job := sampleJob()
	require.NoError(t, d.HandleJob(context.Background(), job))

	fr.mu.Lock()
	defer fr.mu.Unlock()
	require.Len(t, fr.kv, 1)

	var state envelope.PendingValidationState
	for _, raw := range fr.kv {
		require.NoError(t, json.Unmarshal([]byte(raw), &state))
	}
	assert.True(t, state.Truncated)
	assert.Equal(t, 51200, len(state.CandidateText))
	assert.Equal(t, 60000, state.OriginalTextLen)
}

// TestSweeper_ExpiredCorrelationIDIsRequeuedThenEventuallyFailed drives
// spec.md's validator-timeout abandonment cascade directly against the
// sweeper: a suspended job whose deadline has passed is requeued with
// attempt+1 on each sweep, and once MaxAttempts is reached the final sweep
// emits a failed completion with error.code=exhausted_retries instead of a
// further requeue.
func TestSweeper_ExpiredCorrelationIDIsRequeuedThenEventuallyFailed(t *testing.T) {
	fr := newFakeRedis()
	q := queue.New(fr)
	// A negative TTL means every Save()'d deadline is already in the past,
	// so the sweep below finds it expired on its very first tick instead
	// of having to wait out a real TTL window.
	store := statestore.New(fr).WithTTL(-time.Minute)
	vc := validator.NewClient(q, "https://ocr.internal/cb", "llm_local_light")
	emitter := reply.NewEmitter(q)
	reg := providers.NewRegistry(2, &fakeOCRDriver{tier: providers.TierTesseract, available: true, text: "hello world"})
	res := resolver.NewMultiResolver(&fakeResolver{bytes: pngMagic})
	cfg := Config{EnabledTiers: []string{string(providers.TierTesseract)}, MaxTextBytes: 51200, MaxAttempts: 3}
	noopBreaker := resilience.NewCircuitBreaker(resilience.Settings{Name: "test"}, nil)
	d := NewDriver(reg, res, vc, store, emitter, q, cfg, noopBreaker, noopBreaker)

	sweeper := NewSweeper(d, store, time.Millisecond)

	job := sampleJob()
	job.Attempt = 1
	require.NoError(t, d.HandleJob(context.Background(), job))
	onlyPendingCorrelationID(t, fr) // sanity: the first attempt did suspend

	// First sweep: attempt 1 -> requeued as attempt 2, no completion yet.
	sweeper.sweepOnce(context.Background())

	fr.mu.Lock()
	require.Empty(t, fr.lists[job.ReplyTo], "an exhausted-but-not-yet-final attempt must not emit a completion")
	requeued := fr.lists[queue.InputQueueKey]
	require.Len(t, requeued, 1)
	var retriedJob envelope.JobEnvelope
	require.NoError(t, json.Unmarshal([]byte(requeued[0]), &retriedJob))
	fr.mu.Unlock()
	assert.Equal(t, 2, retriedJob.Attempt)
	assert.Empty(t, fr.zsets[deadlineIndexKeyForTest()], "the swept correlation id must be dropped from the deadline index")

	// Simulate the requeued attempt reaching the cascade again and
	// suspending once more, now at attempt 2.
	require.NoError(t, d.HandleJob(context.Background(), &retriedJob))
	onlyPendingCorrelationID(t, fr)
	sweeper.sweepOnce(context.Background())

	fr.mu.Lock()
	requeued = fr.lists[queue.InputQueueKey]
	require.NoError(t, json.Unmarshal([]byte(requeued[len(requeued)-1]), &retriedJob))
	fr.mu.Unlock()
	assert.Equal(t, 3, retriedJob.Attempt)

	// Final attempt: suspend once more at attempt 3 (== MaxAttempts), sweep
	// expires it, and this time it must fail out instead of requeue again.
	require.NoError(t, d.HandleJob(context.Background(), &retriedJob))
	onlyPendingCorrelationID(t, fr)
	sweeper.sweepOnce(context.Background())

	fr.mu.Lock()
	defer fr.mu.Unlock()
	replies := fr.lists[job.ReplyTo]
	require.Len(t, replies, 1)
	var completion envelope.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(replies[0]), &completion))
	assert.Equal(t, envelope.StatusFailed, completion.Payload.Status)
	assert.Equal(t, "exhausted_retries", completion.Payload.Error.Code)
}

func onlyPendingCorrelationID(t *testing.T, fr *fakeRedis) string {
	t.Helper()
	fr.mu.Lock()
	defer fr.mu.Unlock()
	var correlationID string
	for k := range fr.kv {
		correlationID = k[len("jarvis.ocr.pending:"):]
	}
	require.NotEmpty(t, correlationID)
	return correlationID
}

func deadlineIndexKeyForTest() string { return "jarvis.ocr.pending.deadlines" }
