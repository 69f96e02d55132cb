package eventbus

import (
	"time"
)

// OCRJobAcceptedData is emitted once a job envelope has passed validation
// and been pushed onto the tier cascade, before any provider has run.
type OCRJobAcceptedData struct {
	JobID      string    `json:"job_id"`
	ImageCount int       `json:"image_count"`
	Kind       string    `json:"kind"`
	Language   string    `json:"language"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// OCRJobCompletedData is emitted once every image in a job has reached a
// terminal per-image result, carrying the same summary fields as the
// completion envelope delivered on the reply queue.
type OCRJobCompletedData struct {
	JobID          string    `json:"job_id"`
	ImageCount     int       `json:"image_count"`
	SucceededCount int       `json:"succeeded_count"`
	FailedCount    int       `json:"failed_count"`
	HighestTier    string    `json:"highest_tier_reached"`
	DurationMillis int64     `json:"duration_millis"`
	CompletedAt    time.Time `json:"completed_at"`
}

// OCRJobFailedData is emitted when a job is abandoned before completion,
// e.g. every image exhausted its tier cascade or the envelope failed
// validation after acceptance.
type OCRJobFailedData struct {
	JobID    string    `json:"job_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}
