package infra

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-rollup-orchestrator/config"
)

type ConfirmationState string

const (
	ConfirmationPending   ConfirmationState = "pending"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationReverted  ConfirmationState = "reverted"
)

// StateDiff is the state transition submitted to the settlement layer.
type StateDiff struct {
	InternalID string `json:"internal_id"`
	StateRoot  string `json:"state_root"`
	BlockStart uint64 `json:"block_start"`
	BlockEnd   uint64 `json:"block_end"`
	ProofRef   string `json:"proof_ref"`
	DARef      string `json:"da_ref"`
}

// SettlementClient submits state updates to a settlement layer and reports
// confirmation. SubmitStateUpdate must be idempotent with respect to the
// correlation id on the backend side; the orchestrator guarantees it never
// issues a second submission while a prior one for the same job is pending.
type SettlementClient interface {
	SubmitStateUpdate(ctx context.Context, diff StateDiff, correlation uuid.UUID) (SubmissionHandle, error)
	CheckConfirmation(ctx context.Context, handle SubmissionHandle) (ConfirmationState, error)
}

func InitSettlementClient(cfg *config.EnvConfig) SettlementClient {
	switch cfg.Settlement.Backend {
	case "http":
		return InitHTTPSettlementClient(cfg)
	case "mock":
		return NewMockSettlementClient()
	default:
		panic(fmt.Sprintf("unknown settlement backend: %q", cfg.Settlement.Backend))
	}
}
