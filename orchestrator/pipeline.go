package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/handler"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
	"gorm.io/datatypes"
)

// advancePipeline creates the next stage's job for every completed stage whose
// successor does not exist yet. Keeping the dependency rule here, not in the
// handlers, means a state update job simply cannot exist before its batch's
// data submission completed.
//
// Handled completions are flagged advanced so the scan window only ever holds
// jobs still waiting on a successor. Terminal jobs are retained forever, so
// scanning all completed jobs would stall once the oldest scanLimit of them
// were all handled.
func (o *Orchestrator) advancePipeline(ctx context.Context) {
	completed, err := o.ledger.FindUnadvanced(ctx, o.scanLimit)
	if err != nil {
		o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to scan completed jobs")
		return
	}

	for i := range completed {
		job := &completed[i]
		next, ok := o.nextStage(job.Type)
		if !ok {
			// Final stage, nothing to create.
			o.markAdvanced(ctx, job)
			continue
		}

		_, err := o.ledger.FindByTypeAndInternalID(ctx, next, job.InternalID)
		if err == nil {
			// Successor already exists.
			o.markAdvanced(ctx, job)
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to look up %s job for batch %s", next, job.InternalID)
			continue
		}

		if err := o.createSuccessor(ctx, job, next); err != nil {
			// Left unflagged, the job is retried on the next tick.
			o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to advance batch %s to %s", job.InternalID, next)
			continue
		}
		o.markAdvanced(ctx, job)
	}
}

func (o *Orchestrator) markAdvanced(ctx context.Context, job *entity.Job) {
	if err := o.ledger.MarkAdvanced(ctx, job.ID); err != nil {
		o.logger.ErrorWithContextf(ctx, err, "[Orchestrator] Failed to mark job %s as advanced", job.ID)
	}
}

// nextStage returns the pipeline stage following jobType, if any.
func (o *Orchestrator) nextStage(jobType entity.JobType) (entity.JobType, bool) {
	for i, stage := range o.pipeline {
		if stage == jobType && i+1 < len(o.pipeline) {
			return o.pipeline[i+1], true
		}
	}
	return "", false
}

func (o *Orchestrator) createSuccessor(ctx context.Context, parent *entity.Job, next entity.JobType) error {
	// The successor inherits the batch metadata accumulated so far, plus the
	// parent's external handle where the next stage needs it.
	metadata := datatypes.JSONMap{}
	for k, v := range parent.Metadata {
		metadata[k] = v
	}
	if parent.Type == entity.JobTypeDataSubmission && parent.ExternalID != "" {
		metadata[handler.MetaDARef] = parent.ExternalID
	}

	job := &entity.Job{
		ID:          uuid.New(),
		Type:        next,
		Status:      entity.JobStatusCreated,
		InternalID:  parent.InternalID,
		Metadata:    metadata,
		MaxAttempts: o.maxAttempts,
	}

	if err := o.ledger.Create(ctx, job); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveJob) {
			return nil
		}
		return err
	}

	if o.telemetry != nil {
		o.telemetry.RecordJobCreated(ctx, next)
	}
	o.logger.InfoWithContextf(ctx, "[Orchestrator] Created %s job %s for batch %s (follows %s)", next, job.ID, job.InternalID, parent.Type)

	return o.enqueueJob(ctx, job)
}
