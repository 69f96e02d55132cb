package envelope

import (
	"testing"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJob() *JobEnvelope {
	lang := "en"
	return &JobEnvelope{
		SchemaVersion: SchemaVersion,
		JobID:         "job-1",
		WorkflowID:    "wf-1",
		JobType:       JobTypeOCRRequest,
		Source:        "recipe-ingester",
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Attempt:       1,
		ReplyTo:       "recipe-ingester.replies",
		Payload: Payload{
			ImageCount: 2,
			ImageRefs: []ImageReference{
				{Kind: KindLocalPath, Value: "a.jpg", Index: 0},
				{Kind: KindS3, Value: "s3://bucket/b.jpg", Index: 1},
			},
			LanguageHint: &lang,
		},
	}
}

func TestJobEnvelope_ValidPasses(t *testing.T) {
	job := validJob()
	assert.NoError(t, validation.ValidateStruct(job))
}

func TestJobEnvelope_ImageCountMismatchFails(t *testing.T) {
	job := validJob()
	job.Payload.ImageCount = 3
	assert.Error(t, validation.ValidateStruct(job))
}

func TestJobEnvelope_MissingReplyToFails(t *testing.T) {
	job := validJob()
	job.ReplyTo = ""
	assert.Error(t, validation.ValidateStruct(job))
}

func TestJobEnvelope_BadKindFails(t *testing.T) {
	job := validJob()
	job.Payload.ImageRefs[0].Kind = "ftp"
	assert.Error(t, validation.ValidateStruct(job))
}

func TestJobEnvelope_WrongSchemaVersionFails(t *testing.T) {
	job := validJob()
	job.SchemaVersion = 2
	assert.Error(t, validation.ValidateStruct(job))
}

func TestNewCompletionEnvelope_SeedsFromJob(t *testing.T) {
	job := validJob()
	now := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)

	completion := NewCompletionEnvelope(job, now)

	require.NotNil(t, completion)
	assert.Equal(t, job.JobID, completion.JobID)
	assert.Equal(t, job.WorkflowID, completion.WorkflowID)
	assert.Equal(t, JobTypeOCRCompleted, completion.JobType)
	assert.Equal(t, ServiceSource, completion.Source)
	assert.Equal(t, now, completion.CreatedAt)
	require.NotNil(t, completion.Trace.ParentJobID)
	assert.Equal(t, job.JobID, *completion.Trace.ParentJobID)
}
