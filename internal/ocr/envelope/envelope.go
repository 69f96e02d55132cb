// Package envelope defines the wire shapes that flow across the input
// queue, the pending-validation state store, and the reply queue.
package envelope

import "time"

// SchemaVersion is the only schema version this service accepts on the
// input queue.
const SchemaVersion = 1

// JobTypeOCRRequest is the discriminator value required on incoming jobs.
const JobTypeOCRRequest = "ocr.requested"

// JobTypeOCRCompleted is the discriminator value set on outgoing completion
// envelopes.
const JobTypeOCRCompleted = "ocr.completed"

// ServiceSource identifies this service as the origin of emitted envelopes.
const ServiceSource = "jarvis-ocr-service"

// ImageReferenceKind is the closed set of origins an Image Reference may
// carry.
type ImageReferenceKind string

const (
	KindLocalPath ImageReferenceKind = "local_path"
	KindS3        ImageReferenceKind = "s3"
	KindMinio     ImageReferenceKind = "minio"
	KindDB        ImageReferenceKind = "db"
)

// ImageReference points at a single image to be OCR'd. Ownership is
// borrowed: nothing downstream mutates it.
type ImageReference struct {
	Kind  ImageReferenceKind `json:"kind" validate:"required,kind_enum"`
	Value string             `json:"value" validate:"required"`
	Index int                `json:"index" validate:"gte=0"`
}

// Trace carries optional lineage identifiers, threaded through request and
// reply envelopes alike.
type Trace struct {
	RequestID   *string `json:"request_id"`
	ParentJobID *string `json:"parent_job_id"`
}

// Payload is the OCR-specific body of a Job Envelope.
type Payload struct {
	ImageCount   int              `json:"image_count" validate:"image_count_matches"`
	ImageRefs    []ImageReference `json:"image_refs" validate:"required,min=1,max=8,unique_indices,dive"`
	LanguageHint *string          `json:"language_hint"`
}

// JobEnvelope is the incoming request shape popped from the input queue.
type JobEnvelope struct {
	SchemaVersion int       `json:"schema_version" validate:"required,eq=1"`
	JobID         string    `json:"job_id" validate:"required"`
	WorkflowID    string    `json:"workflow_id" validate:"required"`
	JobType       string    `json:"job_type" validate:"required,eq=ocr.requested"`
	Source        string    `json:"source"`
	Target        string    `json:"target"`
	CreatedAt     time.Time `json:"created_at" validate:"required"`
	Attempt       int       `json:"attempt" validate:"required,gte=1"`
	ReplyTo       string    `json:"reply_to" validate:"required"`
	Payload       Payload   `json:"payload" validate:"required"`
	Trace         Trace     `json:"trace"`
}

// ResultError is the per-image failure slot; nil on success.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultMeta carries the per-image quality signals attached to a result.
type ResultMeta struct {
	Language         *string `json:"language"`
	Confidence       float64 `json:"confidence"`
	TextLen          int     `json:"text_len"`
	IsValid          bool    `json:"is_valid"`
	Tier             string  `json:"tier"`
	ValidatorReason  *string `json:"validator_reason,omitempty"`
}

// ImageResult is the per-image outcome slot in a Completion Envelope, and
// also the accumulator entry held in Pending Validation State while a job
// is still in flight.
type ImageResult struct {
	Index     int          `json:"index"`
	OCRText   string       `json:"ocr_text"`
	Truncated bool         `json:"truncated"`
	Meta      ResultMeta   `json:"meta"`
	Error     *ResultError `json:"error"`
}

// CompletionStatus is the closed set of terminal outcomes for a job.
type CompletionStatus string

const (
	StatusSuccess CompletionStatus = "success"
	StatusFailed  CompletionStatus = "failed"
)

// CompletionError is the top-level failure slot on a Completion Envelope;
// non-nil iff Status == StatusFailed.
type CompletionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CompletionPayload is the OCR-specific body of a Completion Envelope.
type CompletionPayload struct {
	Status  CompletionStatus `json:"status"`
	Results []ImageResult    `json:"results"`
	Error   *CompletionError `json:"error,omitempty"`
}

// CompletionEnvelope is the outgoing shape pushed to reply_to.
type CompletionEnvelope struct {
	SchemaVersion int               `json:"schema_version"`
	JobID         string            `json:"job_id"`
	WorkflowID    string            `json:"workflow_id"`
	JobType       string            `json:"job_type"`
	Source        string            `json:"source"`
	Target        string            `json:"target"`
	CreatedAt     time.Time         `json:"created_at"`
	Attempt       int               `json:"attempt"`
	Payload       CompletionPayload `json:"payload"`
	Trace         Trace             `json:"trace"`
}

// NewCompletionEnvelope seeds a Completion Envelope from the originating
// job, leaving Payload for the caller to fill in.
func NewCompletionEnvelope(job *JobEnvelope, now time.Time) *CompletionEnvelope {
	jobID := job.JobID
	return &CompletionEnvelope{
		SchemaVersion: SchemaVersion,
		JobID:         job.JobID,
		WorkflowID:    job.WorkflowID,
		JobType:       JobTypeOCRCompleted,
		Source:        ServiceSource,
		Target:        job.Source,
		CreatedAt:     now,
		Attempt:       job.Attempt,
		Trace: Trace{
			RequestID:   job.Trace.RequestID,
			ParentJobID: &jobID,
		},
	}
}

// PendingValidationState is the suspended cursor persisted under a
// correlation key while a validation request is in flight.
type PendingValidationState struct {
	Job                *JobEnvelope  `json:"job"`
	CurrentImageIndex  int           `json:"current_image_index"`
	CurrentTierIndex   int           `json:"current_tier_index"`
	CandidateText      string        `json:"candidate_text"`
	Truncated          bool          `json:"truncated"`
	OriginalTextLen    int           `json:"original_text_len"`
	CandidateTier      string        `json:"candidate_tier"`
	CandidateConfidence float64      `json:"candidate_confidence"`
	Results            []ImageResult `json:"results"`
	Attempt            int           `json:"attempt"`
	CreatedAt          time.Time     `json:"created_at"`
}

// ValidatorVerdict is the shape the external LLM validator POSTs back to
// the callback endpoint.
type ValidatorVerdict struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Reason     string  `json:"reason" validate:"max=200"`
}

// CallbackRequest is the body of POST /internal/validation/callback.
type CallbackRequest struct {
	CorrelationID string           `json:"correlation_id" validate:"required"`
	Verdict       ValidatorVerdict `json:"verdict" validate:"required"`
}
