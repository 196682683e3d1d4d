// Package handler contains the per-job-type processing logic invoked by
// workers. Handlers are pure with respect to orchestration state: every
// external side effect goes through the DA, settlement or prover capability
// interfaces, so each handler is testable against mock backends.
package handler

import (
	"context"

	"github.com/tnqbao/gau-rollup-orchestrator/entity"
)

// Metadata keys shared between handlers and the orchestrator.
const (
	MetaStateDiff  = "state_diff" // base64-encoded state diff payload
	MetaStateRoot  = "state_root"
	MetaBlockStart = "block_start"
	MetaBlockEnd   = "block_end"
	MetaProofRef   = "proof_ref"
	MetaDARef      = "da_external_id"
)

type OutcomeKind int

const (
	// OutcomeDone completes the job.
	OutcomeDone OutcomeKind = iota
	// OutcomeAwaitingExternal parks the job in pending_verification with the
	// backend submission handle recorded as external_id.
	OutcomeAwaitingExternal
	// OutcomeRetry re-queues the job if attempts remain, else fails it.
	OutcomeRetry
	// OutcomeFatal fails the job immediately regardless of remaining attempts.
	OutcomeFatal
)

type Outcome struct {
	Kind       OutcomeKind
	Fields     map[string]interface{}
	ExternalID string
	Reason     string
}

func Done(fields map[string]interface{}) Outcome {
	return Outcome{Kind: OutcomeDone, Fields: fields}
}

func AwaitingExternal(fields map[string]interface{}, externalID string) Outcome {
	return Outcome{Kind: OutcomeAwaitingExternal, Fields: fields, ExternalID: externalID}
}

func Retry(reason string) Outcome {
	return Outcome{Kind: OutcomeRetry, Reason: reason}
}

func Fatal(reason string) Outcome {
	return Outcome{Kind: OutcomeFatal, Reason: reason}
}

// VerifyState is the result of polling an external backend for a job parked in
// pending_verification.
type VerifyState string

const (
	VerifyPending   VerifyState = "pending"
	VerifyConfirmed VerifyState = "confirmed"
	VerifyRejected  VerifyState = "rejected"
)

// JobHandler is the uniform contract every job type implements. Process runs
// under a worker's lease; Verify is polled by the orchestrator for jobs in
// pending_verification.
type JobHandler interface {
	Type() entity.JobType
	Process(ctx context.Context, job *entity.Job) Outcome
	Verify(ctx context.Context, job *entity.Job) (VerifyState, error)
	MaxAttempts() int
}
