package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
)

// ProofGenerationHandler runs the opaque prover for a batch and records the
// proof reference. Proof jobs complete synchronously; they never park in
// pending_verification.
type ProofGenerationHandler struct {
	prover      infra.ProverClient
	maxAttempts int
}

func NewProofGenerationHandler(prover infra.ProverClient, maxAttempts int) *ProofGenerationHandler {
	return &ProofGenerationHandler{prover: prover, maxAttempts: maxAttempts}
}

func (h *ProofGenerationHandler) Type() entity.JobType {
	return entity.JobTypeProofGeneration
}

func (h *ProofGenerationHandler) Process(ctx context.Context, job *entity.Job) Outcome {
	payload := make(map[string]string, len(job.Metadata))
	for k := range job.Metadata {
		payload[k] = job.MetadataString(k)
	}

	proofRef, err := h.prover.GenerateProof(ctx, job.InternalID, payload)
	if err != nil {
		if infra.IsTransient(err) {
			return Retry(fmt.Sprintf("prover unavailable: %v", err))
		}
		return Fatal(fmt.Sprintf("proof generation rejected: %v", err))
	}

	return Done(map[string]interface{}{
		MetaProofRef: proofRef,
	})
}

func (h *ProofGenerationHandler) Verify(ctx context.Context, job *entity.Job) (VerifyState, error) {
	return VerifyPending, errors.New("proof generation jobs do not await external verification")
}

func (h *ProofGenerationHandler) MaxAttempts() int {
	return h.maxAttempts
}

var _ JobHandler = (*ProofGenerationHandler)(nil)
