package handler

import (
	"context"
	"fmt"

	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
)

// InclusionVerificationHandler independently re-checks that a previously
// published blob is still available on the DA layer. Deployments that want a
// confirmation pass after settlement schedule this as the final pipeline stage.
type InclusionVerificationHandler struct {
	da          infra.DAClient
	maxAttempts int
}

func NewInclusionVerificationHandler(da infra.DAClient, maxAttempts int) *InclusionVerificationHandler {
	return &InclusionVerificationHandler{da: da, maxAttempts: maxAttempts}
}

func (h *InclusionVerificationHandler) Type() entity.JobType {
	return entity.JobTypeInclusionVerification
}

func (h *InclusionVerificationHandler) Process(ctx context.Context, job *entity.Job) Outcome {
	daRef := job.MetadataString(MetaDARef)
	if daRef == "" {
		return Fatal("job metadata is missing the DA reference to verify")
	}

	state, err := h.da.CheckInclusion(ctx, infra.SubmissionHandle(daRef))
	if err != nil {
		if infra.IsTransient(err) {
			return Retry(fmt.Sprintf("da inclusion check failed: %v", err))
		}
		return Fatal(fmt.Sprintf("da inclusion check rejected: %v", err))
	}

	switch state {
	case infra.InclusionIncluded:
		return Done(nil)
	case infra.InclusionRejected:
		return Fatal("blob is no longer available on the DA layer")
	default:
		// Not yet included; park the job and let verification polling finish it.
		return AwaitingExternal(nil, daRef)
	}
}

func (h *InclusionVerificationHandler) Verify(ctx context.Context, job *entity.Job) (VerifyState, error) {
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

func (h *InclusionVerificationHandler) MaxAttempts() int {
	return h.maxAttempts
}

var _ JobHandler = (*InclusionVerificationHandler)(nil)
