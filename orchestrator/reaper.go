package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
)

// reapStale recovers jobs whose worker died mid-lease: Processing jobs older
// than the lease timeout move to TimedOut, then back to Queued if attempts
// remain, else to Failed. The worker itself never has to release anything.
func (o *Orchestrator) reapStale(ctx context.Context) {
	cutoff := time.Now().Add(-o.leaseTimeout)
	stale, err := o.ledger.FindStale(ctx, entity.JobStatusProcessing, cutoff)
	if err != nil {
		o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to scan stale processing jobs")
		return
	}

	for i := range stale {
		job := &stale[i]

		timedOut, err := o.ledger.UpdateStatus(ctx, job.ID, job.Version, entity.JobStatusTimedOut, nil)
		if err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				// The worker finished after all, or another reaper got here first.
				continue
			}
			o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to time out job %s", job.ID)
			continue
		}
		o.recordTransition(ctx, timedOut.Type, entity.JobStatusProcessing, entity.JobStatusTimedOut)
		o.logger.WarningWithContextf(ctx, "[Orchestrator] Lease expired for job %s (%s, batch %s), attempt %d/%d", timedOut.ID, timedOut.Type, timedOut.InternalID, timedOut.AttemptCount, timedOut.MaxAttempts)

		if timedOut.AttemptCount < timedOut.MaxAttempts {
			requeued, err := o.ledger.UpdateStatus(ctx, timedOut.ID, timedOut.Version, entity.JobStatusQueued, nil)
			if err != nil {
				o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to requeue timed out job %s", timedOut.ID)
				continue
			}
			o.recordTransition(ctx, requeued.Type, entity.JobStatusTimedOut, entity.JobStatusQueued)
			if err := o.publisher.PublishJobSignal(ctx, requeued.ID); err != nil {
				o.logger.WarningWithContextf(ctx, "[Orchestrator] Failed to re-signal job %s: %v", requeued.ID, err)
			}
		} else {
			failed, err := o.ledger.UpdateStatus(ctx, timedOut.ID, timedOut.Version, entity.JobStatusFailed, map[string]interface{}{
				"failure_reason": "lease expired and attempts exhausted",
			})
			if err != nil {
				o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to fail timed out job %s", timedOut.ID)
				continue
			}
			o.recordTransition(ctx, failed.Type, entity.JobStatusTimedOut, entity.JobStatusFailed)
		}
	}
}

// resignalStaleQueued republishes work signals for Queued jobs nothing has
// claimed in a lease-timeout's worth of time. This covers signals lost to a
// failed publish; a duplicate signal is harmless under at-least-once delivery.
func (o *Orchestrator) resignalStaleQueued(ctx context.Context) {
	cutoff := time.Now().Add(-o.leaseTimeout)
	stale, err := o.ledger.FindStale(ctx, entity.JobStatusQueued, cutoff)
	if err != nil {
		o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to scan stale queued jobs")
		return
	}

	for i := range stale {
		if err := o.publisher.PublishJobSignal(ctx, stale[i].ID); err != nil {
			o.logger.WarningWithContextf(ctx, "[Orchestrator] Failed to re-signal queued job %s: %v", stale[i].ID, err)
		}
	}
}
