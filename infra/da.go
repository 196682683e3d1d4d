package infra

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-rollup-orchestrator/config"
)

// SubmissionHandle is the opaque reference a DA or settlement backend returns
// for a submission. Backends encode whatever they need to re-locate the
// submission (typically as JSON); the orchestration core never inspects it.
type SubmissionHandle string

type InclusionState string

const (
	InclusionPending  InclusionState = "pending"
	InclusionIncluded InclusionState = "included"
	InclusionRejected InclusionState = "rejected"
)

// DAClient publishes rollup state data to a data-availability layer and
// reports inclusion. Publish may be slow; callers bound it with a context
// deadline. CheckInclusion never blocks waiting for finality, it reports the
// current state and callers poll.
type DAClient interface {
	Publish(ctx context.Context, data []byte, correlation uuid.UUID) (SubmissionHandle, error)
	CheckInclusion(ctx context.Context, handle SubmissionHandle) (InclusionState, error)
}

// InitDAClient selects the DA backend at startup from configuration. Adding a
// backend means adding a case here and an implementation of DAClient; nothing
// in the orchestration core changes.
func InitDAClient(cfg *config.EnvConfig) DAClient {
	switch cfg.DA.Backend {
	case "celestia":
		return InitCelestiaDAClient(cfg)
	case "objectstore":
		return InitObjectStoreDAClient(cfg)
	case "mock":
		return NewMockDAClient()
	default:
		panic(fmt.Sprintf("unknown DA backend: %q", cfg.DA.Backend))
	}
}
