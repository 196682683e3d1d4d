package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
	"gorm.io/datatypes"
)

func TestProofGenerationCompletes(t *testing.T) {
	h := NewProofGenerationHandler(infra.NewMockProverClient(), 3)
	job := &entity.Job{
		ID:         uuid.New(),
		Type:       entity.JobTypeProofGeneration,
		InternalID: "batch-7",
		Metadata:   datatypes.JSONMap{MetaStateRoot: "0xroot"},
	}

	outcome := h.Process(context.Background(), job)

	require.Equal(t, OutcomeDone, outcome.Kind)
	assert.Equal(t, "proof://batch-7/1", outcome.Fields[MetaProofRef])
}

func TestProofGenerationTransientErrorRetries(t *testing.T) {
	prover := infra.NewMockProverClient()
	prover.Err = context.DeadlineExceeded
	h := NewProofGenerationHandler(prover, 3)

	outcome := h.Process(context.Background(), &entity.Job{InternalID: "batch-7"})
	assert.Equal(t, OutcomeRetry, outcome.Kind)
}

func TestProofGenerationPermanentErrorIsFatal(t *testing.T) {
	prover := infra.NewMockProverClient()
	prover.Err = errors.New("unsatisfiable circuit")
	h := NewProofGenerationHandler(prover, 3)

	outcome := h.Process(context.Background(), &entity.Job{InternalID: "batch-7"})
	assert.Equal(t, OutcomeFatal, outcome.Kind)
}

func TestProofGenerationVerifyIsAnError(t *testing.T) {
	h := NewProofGenerationHandler(infra.NewMockProverClient(), 3)
	_, err := h.Verify(context.Background(), &entity.Job{})
	assert.Error(t, err)
}

func TestInclusionVerificationProcess(t *testing.T) {
	da := infra.NewMockDAClient()
	handle, err := da.Publish(context.Background(), []byte("blob"), uuid.New())
	require.NoError(t, err)

	h := NewInclusionVerificationHandler(da, 3)
	job := &entity.Job{
		ID:       uuid.New(),
		Type:     entity.JobTypeInclusionVerification,
		Metadata: datatypes.JSONMap{MetaDARef: string(handle)},
	}

	outcome := h.Process(context.Background(), job)
	assert.Equal(t, OutcomeDone, outcome.Kind)
}

func TestInclusionVerificationParksWhilePending(t *testing.T) {
	da := infra.NewMockDAClient()
	da.IncludeAfter = 5
	handle, err := da.Publish(context.Background(), []byte("blob"), uuid.New())
	require.NoError(t, err)

	h := NewInclusionVerificationHandler(da, 3)
	job := &entity.Job{
		ID:       uuid.New(),
		Metadata: datatypes.JSONMap{MetaDARef: string(handle)},
	}

	outcome := h.Process(context.Background(), job)
	require.Equal(t, OutcomeAwaitingExternal, outcome.Kind)
	assert.Equal(t, string(handle), outcome.ExternalID)
}

func TestInclusionVerificationUnavailableBlobIsFatal(t *testing.T) {
	h := NewInclusionVerificationHandler(infra.NewMockDAClient(), 3)
	job := &entity.Job{
		ID:       uuid.New(),
		Metadata: datatypes.JSONMap{MetaDARef: "gone"},
	}

	outcome := h.Process(context.Background(), job)
	assert.Equal(t, OutcomeFatal, outcome.Kind)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewProofGenerationHandler(infra.NewMockProverClient(), 3))

	h, err := registry.Get(entity.JobTypeProofGeneration)
	require.NoError(t, err)
	assert.Equal(t, entity.JobTypeProofGeneration, h.Type())

	_, err = registry.Get(entity.JobTypeStateUpdate)
	assert.Error(t, err)

	assert.Panics(t, func() {
		registry.Register(NewProofGenerationHandler(infra.NewMockProverClient(), 3))
	})
}
