package handler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
)

// StateUpdateHandler submits the batch's state transition to the settlement
// layer. The orchestrator only creates a state update job once the batch's
// data submission job is Completed, so the DA reference in the metadata is
// always a durably available blob by the time this handler runs.
type StateUpdateHandler struct {
	settlement  infra.SettlementClient
	maxAttempts int
}

func NewStateUpdateHandler(settlement infra.SettlementClient, maxAttempts int) *StateUpdateHandler {
	return &StateUpdateHandler{settlement: settlement, maxAttempts: maxAttempts}
}

func (h *StateUpdateHandler) Type() entity.JobType {
	return entity.JobTypeStateUpdate
}

func (h *StateUpdateHandler) Process(ctx context.Context, job *entity.Job) Outcome {
	// Same rule as data submission: one in-flight submission per job, ever.
	if job.ExternalID != "" {
		return AwaitingExternal(nil, job.ExternalID)
	}

	daRef := job.MetadataString(MetaDARef)
	if daRef == "" {
		return Fatal("job metadata is missing the DA reference; state update scheduled before data submission completed")
	}

	diff := infra.StateDiff{
		InternalID: job.InternalID,
		StateRoot:  job.MetadataString(MetaStateRoot),
		ProofRef:   job.MetadataString(MetaProofRef),
		DARef:      daRef,
	}
	if v := job.MetadataString(MetaBlockStart); v != "" {
		diff.BlockStart, _ = strconv.ParseUint(v, 10, 64)
	}
	if v := job.MetadataString(MetaBlockEnd); v != "" {
		diff.BlockEnd, _ = strconv.ParseUint(v, 10, 64)
	}

	handle, err := h.settlement.SubmitStateUpdate(ctx, diff, job.ID)
	if err != nil {
		if infra.IsTransient(err) {
			return Retry(fmt.Sprintf("settlement submit failed: %v", err))
		}
		return Fatal(fmt.Sprintf("settlement rejected state update: %v", err))
	}

	return AwaitingExternal(nil, string(handle))
}

func (h *StateUpdateHandler) Verify(ctx context.Context, job *entity.Job) (VerifyState, error) {
	state, err := h.settlement.CheckConfirmation(ctx, infra.SubmissionHandle(job.ExternalID))
	if err != nil {
		return VerifyPending, err
	}
	switch state {
	case infra.ConfirmationConfirmed:
		return VerifyConfirmed, nil
	case infra.ConfirmationReverted:
		return VerifyRejected, nil
	default:
		return VerifyPending, nil
	}
}

func (h *StateUpdateHandler) MaxAttempts() int {
	return h.maxAttempts
}

var _ JobHandler = (*StateUpdateHandler)(nil)
