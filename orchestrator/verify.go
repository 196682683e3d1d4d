package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/handler"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
)

// pollPendingVerification re-checks every job parked in pending_verification
// against its backend and finishes the ones whose submission resolved.
func (o *Orchestrator) pollPendingVerification(ctx context.Context) {
	jobs, err := o.ledger.FindByStatus(ctx, entity.JobStatusPendingVerification, o.scanLimit)
	if err != nil {
		o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to scan pending verification jobs")
		return
	}

	for i := range jobs {
		job := &jobs[i]

		hdl, err := o.registry.Get(job.Type)
		if err != nil {
			o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] No handler to verify job %s", job.ID)
			continue
		}

		vctx, cancel := context.WithTimeout(ctx, o.verifyTimeout)
		state, err := hdl.Verify(vctx, job)
		cancel()
		if err != nil {
			if infra.IsTransient(err) {
				// Backend unavailable or timed out; the submission stays
				// pending and gets re-checked on the next tick.
				o.logger.WarningWithContextf(ctx, "[Orchestrator] Verification of job %s failed: %v", job.ID, err)
				continue
			}
			// The backend rejected the check itself, so re-polling can never
			// resolve this submission.
			o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Verification of job %s failed permanently", job.ID)
			o.finishVerification(ctx, job, entity.JobStatusFailed, map[string]interface{}{
				"failure_reason": fmt.Sprintf("verification failed: %v", err),
			})
			continue
		}

		switch state {
		case handler.VerifyConfirmed:
			o.finishVerification(ctx, job, entity.JobStatusCompleted, nil)
		case handler.VerifyRejected:
			o.finishVerification(ctx, job, entity.JobStatusFailed, map[string]interface{}{
				"failure_reason": "external submission rejected",
			})
		case handler.VerifyPending:
			// Keep polling.
		}
	}
}

func (o *Orchestrator) finishVerification(ctx context.Context, job *entity.Job, status entity.JobStatus, fields map[string]interface{}) {
	updated, err := o.ledger.UpdateStatus(ctx, job.ID, job.Version, status, fields)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return
		}
		o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to finish verification of job %s", job.ID)
		return
	}
	o.recordTransition(ctx, updated.Type, entity.JobStatusPendingVerification, status)
	o.logger.InfoWithContextf(ctx, "[Orchestrator] Job %s (%s, batch %s) verified -> %s", updated.ID, updated.Type, updated.InternalID, status)
}
