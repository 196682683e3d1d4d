package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/handler"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
	"github.com/tnqbao/gau-rollup-orchestrator/repository/mock"
)

func newScenarioOrchestrator(ledger *mock.Ledger, registry *handler.Registry, stages ...entity.JobType) (*Orchestrator, *fakePublisher) {
	pub := &fakePublisher{}
	orch := &Orchestrator{
		ledger:        ledger,
		registry:      registry,
		publisher:     pub,
		logger:        infra.NewStdoutLogger(),
		instanceID:    uuid.New(),
		pipeline:      stages,
		maxAttempts:   3,
		leaseTimeout:  5 * time.Minute,
		verifyTimeout: time.Second,
		scanLimit:     100,
	}
	return orch, pub
}

// claimAndProcess plays the worker's part: claim the queued job, run the
// handler, and commit the outcome back to the ledger.
func claimAndProcess(t *testing.T, ledger *mock.Ledger, h handler.JobHandler, jobID uuid.UUID) handler.Outcome {
	t.Helper()
	ctx := context.Background()

	job, err := ledger.FindByID(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusQueued, job.Status)

	job, err = ledger.UpdateStatus(ctx, job.ID, job.Version, entity.JobStatusProcessing, map[string]interface{}{
		"attempt_count": job.AttemptCount + 1,
	})
	require.NoError(t, err)

	outcome := h.Process(ctx, job)
	switch outcome.Kind {
	case handler.OutcomeAwaitingExternal:
		_, err = ledger.UpdateStatus(ctx, job.ID, job.Version, entity.JobStatusPendingVerification, map[string]interface{}{
			"external_id": outcome.ExternalID,
		})
	case handler.OutcomeDone:
		_, err = ledger.UpdateStatus(ctx, job.ID, job.Version, entity.JobStatusCompleted, nil)
	default:
		t.Fatalf("unexpected outcome %v", outcome.Kind)
	}
	require.NoError(t, err)
	return outcome
}

// A data submission whose blob takes two inclusion polls to land: the job
// parks in pending_verification and completes on the third poll, without a
// second publish and with the original submission handle intact.
func TestDataSubmissionEventuallyIncluded(t *testing.T) {
	ledger := mock.NewLedger()
	da := infra.NewMockDAClient()
	da.IncludeAfter = 2

	h := handler.NewDataSubmissionHandler(da, 3)
	registry := handler.NewRegistry()
	registry.Register(h)
	orch, _ := newScenarioOrchestrator(ledger, registry, entity.JobTypeDataSubmission)

	ctx := context.Background()
	require.NoError(t, orch.OnNewBatch(ctx, "batch-1", map[string]string{
		handler.MetaStateDiff: "ZGlmZg==",
		handler.MetaStateRoot: "0xroot",
	}))

	job, err := ledger.FindByTypeAndInternalID(ctx, entity.JobTypeDataSubmission, "batch-1")
	require.NoError(t, err)

	outcome := claimAndProcess(t, ledger, h, job.ID)
	require.Equal(t, handler.OutcomeAwaitingExternal, outcome.Kind)

	// Two polls come back pending.
	orch.pollPendingVerification(ctx)
	orch.pollPendingVerification(ctx)
	current, err := ledger.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusPendingVerification, current.Status)

	// The third reports inclusion.
	orch.pollPendingVerification(ctx)
	current, err = ledger.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, current.Status)
	assert.Equal(t, outcome.ExternalID, current.ExternalID)
	assert.Equal(t, 1, da.PublishCalls())
}

// A worker claims a job and dies before committing anything. The reaper
// requeues the expired lease and a second worker finishes the job, leaving
// two counted attempts and exactly one publish.
func TestCrashedWorkerLeaseIsRecovered(t *testing.T) {
	ledger := mock.NewLedger()
	da := infra.NewMockDAClient()

	h := handler.NewDataSubmissionHandler(da, 3)
	registry := handler.NewRegistry()
	registry.Register(h)
	orch, pub := newScenarioOrchestrator(ledger, registry, entity.JobTypeDataSubmission)

	ctx := context.Background()
	require.NoError(t, orch.OnNewBatch(ctx, "batch-1", map[string]string{
		handler.MetaStateDiff: "ZGlmZg==",
	}))

	job, err := ledger.FindByTypeAndInternalID(ctx, entity.JobTypeDataSubmission, "batch-1")
	require.NoError(t, err)

	// First worker claims and then crashes before reaching the backend.
	job, err = ledger.UpdateStatus(ctx, job.ID, job.Version, entity.JobStatusProcessing, map[string]interface{}{
		"attempt_count": 1,
	})
	require.NoError(t, err)
	ledger.Touch(job.ID, time.Now().Add(-10*time.Minute))

	orch.reapStale(ctx)

	current, err := ledger.FindByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusQueued, current.Status)
	require.Equal(t, 2, pub.count(), "enqueue plus requeue each signal once")

	// Second worker picks the signal up and succeeds.
	outcome := claimAndProcess(t, ledger, h, job.ID)
	require.Equal(t, handler.OutcomeAwaitingExternal, outcome.Kind)

	final, err := ledger.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusPendingVerification, final.Status)
	assert.Equal(t, 2, final.AttemptCount)
	assert.Equal(t, 1, da.PublishCalls())
	assert.Equal(t,
		[]entity.JobStatus{
			entity.JobStatusCreated,
			entity.JobStatusQueued,
			entity.JobStatusProcessing,
			entity.JobStatusTimedOut,
			entity.JobStatusQueued,
			entity.JobStatusProcessing,
			entity.JobStatusPendingVerification,
		},
		ledger.History(job.ID))
}
