package handler

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
)

// DataSubmissionHandler publishes a batch's state diff to the DA layer and
// tracks its inclusion.
type DataSubmissionHandler struct {
	da          infra.DAClient
	maxAttempts int
}

func NewDataSubmissionHandler(da infra.DAClient, maxAttempts int) *DataSubmissionHandler {
	return &DataSubmissionHandler{da: da, maxAttempts: maxAttempts}
}

func (h *DataSubmissionHandler) Type() entity.JobType {
	return entity.JobTypeDataSubmission
}

func (h *DataSubmissionHandler) Process(ctx context.Context, job *entity.Job) Outcome {
	// A prior attempt already published; never issue a second submission while
	// the first may still land. Park and let verification polling resolve it.
	if job.ExternalID != "" {
		return AwaitingExternal(nil, job.ExternalID)
	}

	encoded := job.MetadataString(MetaStateDiff)
	if encoded == "" {
		return Fatal("job metadata is missing the state diff payload")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Fatal(fmt.Sprintf("state diff payload is not valid base64: %v", err))
	}

	handle, err := h.da.Publish(ctx, data, job.ID)
	if err != nil {
		if infra.IsTransient(err) {
			return Retry(fmt.Sprintf("da publish failed: %v", err))
		}
		return Fatal(fmt.Sprintf("da rejected payload: %v", err))
	}

	return AwaitingExternal(nil, string(handle))
}

func (h *DataSubmissionHandler) Verify(ctx context.Context, job *entity.Job) (VerifyState, error) {
	state, err := h.da.CheckInclusion(ctx, infra.SubmissionHandle(job.ExternalID))
	if err != nil {
		return VerifyPending, err
	}
	switch state {
	case infra.InclusionIncluded:
		return VerifyConfirmed, nil
	case infra.InclusionRejected:
		return VerifyRejected, nil
	default:
		return VerifyPending, nil
	}
}

func (h *DataSubmissionHandler) MaxAttempts() int {
	return h.maxAttempts
}

var _ JobHandler = (*DataSubmissionHandler)(nil)
