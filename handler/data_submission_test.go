package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
	"gorm.io/datatypes"
)

func newDataSubmissionJob(diff []byte) *entity.Job {
	return &entity.Job{
		ID:         uuid.New(),
		Type:       entity.JobTypeDataSubmission,
		Status:     entity.JobStatusProcessing,
		InternalID: "batch-42",
		Metadata: datatypes.JSONMap{
			MetaStateDiff: base64.StdEncoding.EncodeToString(diff),
		},
		MaxAttempts: 3,
	}
}

func TestDataSubmissionPublishes(t *testing.T) {
	da := infra.NewMockDAClient()
	h := NewDataSubmissionHandler(da, 3)
	job := newDataSubmissionJob([]byte("diff-bytes"))

	outcome := h.Process(context.Background(), job)

	require.Equal(t, OutcomeAwaitingExternal, outcome.Kind)
	assert.NotEmpty(t, outcome.ExternalID)
	assert.Equal(t, 1, da.PublishCalls())
}

func TestDataSubmissionNeverPublishesTwice(t *testing.T) {
	da := infra.NewMockDAClient()
	h := NewDataSubmissionHandler(da, 3)
	job := newDataSubmissionJob([]byte("diff-bytes"))
	job.ExternalID = `{"height":"12"}`

	// A retried job that already holds a submission handle must park on the
	// existing handle instead of publishing the blob again.
	outcome := h.Process(context.Background(), job)

	require.Equal(t, OutcomeAwaitingExternal, outcome.Kind)
	assert.Equal(t, job.ExternalID, outcome.ExternalID)
	assert.Equal(t, 0, da.PublishCalls())
}

func TestDataSubmissionMissingDiffIsFatal(t *testing.T) {
	h := NewDataSubmissionHandler(infra.NewMockDAClient(), 3)
	job := newDataSubmissionJob(nil)
	job.Metadata = datatypes.JSONMap{}

	outcome := h.Process(context.Background(), job)
	assert.Equal(t, OutcomeFatal, outcome.Kind)
}

func TestDataSubmissionBadBase64IsFatal(t *testing.T) {
	h := NewDataSubmissionHandler(infra.NewMockDAClient(), 3)
	job := newDataSubmissionJob(nil)
	job.Metadata = datatypes.JSONMap{MetaStateDiff: "!!not-base64!!"}

	outcome := h.Process(context.Background(), job)
	assert.Equal(t, OutcomeFatal, outcome.Kind)
}

func TestDataSubmissionTransientErrorRetries(t *testing.T) {
	da := infra.NewMockDAClient()
	da.PublishErr = context.DeadlineExceeded
	h := NewDataSubmissionHandler(da, 3)

	outcome := h.Process(context.Background(), newDataSubmissionJob([]byte("x")))
	assert.Equal(t, OutcomeRetry, outcome.Kind)
}

func TestDataSubmissionPermanentErrorIsFatal(t *testing.T) {
	da := infra.NewMockDAClient()
	da.PublishErr = errors.New("namespace rejected")
	h := NewDataSubmissionHandler(da, 3)

	outcome := h.Process(context.Background(), newDataSubmissionJob([]byte("x")))
	assert.Equal(t, OutcomeFatal, outcome.Kind)
}

func TestDataSubmissionVerify(t *testing.T) {
	da := infra.NewMockDAClient()
	da.IncludeAfter = 1
	h := NewDataSubmissionHandler(da, 3)
	job := newDataSubmissionJob([]byte("diff-bytes"))

	outcome := h.Process(context.Background(), job)
	require.Equal(t, OutcomeAwaitingExternal, outcome.Kind)
	job.ExternalID = outcome.ExternalID

	state, err := h.Verify(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, VerifyPending, state)

	state, err = h.Verify(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, VerifyConfirmed, state)
}

func TestDataSubmissionVerifyRejected(t *testing.T) {
	da := infra.NewMockDAClient()
	h := NewDataSubmissionHandler(da, 3)
	job := newDataSubmissionJob(nil)
	job.ExternalID = "unknown-handle"

	state, err := h.Verify(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, VerifyRejected, state)
}
