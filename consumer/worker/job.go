package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-rollup-orchestrator/config"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/handler"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
	"github.com/tnqbao/gau-rollup-orchestrator/infra/produce"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
	"gorm.io/datatypes"
)

type signalPublisher interface {
	PublishJobSignal(ctx context.Context, jobID uuid.UUID) error
}

// JobConsumer pulls work signals and runs the matching handler under an
// exclusive lease. The lease is the optimistic-version claim on the ledger:
// whichever worker first moves the job Queued->Processing owns it, every other
// recipient of the same signal gets a version conflict and discards.
type JobConsumer struct {
	channel        *amqp.Channel
	ledger         repository.JobLedger
	registry       *handler.Registry
	publisher      signalPublisher
	logger         *infra.LoggerClient
	telemetry      *infra.TelemetryClient
	workers        int
	handlerTimeout time.Duration
}

func NewJobConsumer(channel *amqp.Channel, inf *infra.Infra, ledger repository.JobLedger, registry *handler.Registry, cfg *config.EnvConfig) *JobConsumer {
	return &JobConsumer{
		channel:        channel,
		ledger:         ledger,
		registry:       registry,
		publisher:      inf.Produce.JobService,
		logger:         inf.Logger,
		telemetry:      inf.Telemetry,
		workers:        cfg.Orchestrator.WorkerCount,
		handlerTimeout: cfg.Orchestrator.HandlerTimeout,
	}
}

func (c *JobConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		produce.JobSignalQueue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register job consumer: %w", err)
	}

	c.logger.InfoWithContextf(ctx, "[Job Consumer] Started %d workers listening on queue: %s", c.workers, produce.JobSignalQueue)

	for i := 0; i < c.workers; i++ {
		go func(worker int) {
			for {
				select {
				case <-ctx.Done():
					c.logger.InfoWithContextf(ctx, "[Job Consumer] Worker %d shutting down...", worker)
					return
				case msg, ok := <-msgs:
					if !ok {
						c.logger.WarningWithContextf(ctx, "[Job Consumer] Worker %d channel closed", worker)
						return
					}
					c.handleSignal(ctx, msg)
				}
			}
		}(i)
	}

	return nil
}

func (c *JobConsumer) handleSignal(ctx context.Context, msg amqp.Delivery) {
	var signal produce.JobSignalMessage
	if err := json.Unmarshal(msg.Body, &signal); err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[Job Consumer] Failed to unmarshal work signal")
		_ = msg.Nack(false, false)
		return
	}

	jobID, err := uuid.Parse(signal.JobID)
	if err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[Job Consumer] Invalid job ID in work signal: %s", signal.JobID)
		_ = msg.Nack(false, false)
		return
	}

	job, err := c.ledger.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.logger.WarningWithContextf(ctx, "[Job Consumer] Signal references unknown job %s, discarding", jobID)
			_ = msg.Ack(false)
			return
		}
		c.logger.ErrorWithContextf(ctx, err, "[Job Consumer] Ledger read failed for job %s", jobID)
		_ = msg.Nack(false, true)
		return
	}

	// A redelivered or duplicate signal for a job some other worker already
	// claimed (or that already finished) carries no work.
	if job.Status != entity.JobStatusQueued {
		_ = msg.Ack(false)
		return
	}

	claimed, err := c.ledger.UpdateStatus(ctx, job.ID, job.Version, entity.JobStatusProcessing, map[string]interface{}{
		"attempt_count": job.AttemptCount + 1,
	})
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// Another worker won the race for this lease.
			_ = msg.Ack(false)
			return
		}
		c.logger.ErrorWithContextf(ctx, err, "[Job Consumer] Failed to claim lease on job %s", job.ID)
		_ = msg.Nack(false, true)
		return
	}
	c.recordTransition(ctx, claimed.Type, entity.JobStatusQueued, entity.JobStatusProcessing)

	hdl, err := c.registry.Get(claimed.Type)
	if err != nil {
		c.logger.ErrorWithContextf(ctx, err, "[Job Consumer] No handler for job %s", claimed.ID)
		c.applyOutcome(ctx, msg, claimed, handler.Fatal(err.Error()))
		return
	}

	hctx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	outcome := hdl.Process(hctx, claimed)
	cancel()

	c.applyOutcome(ctx, msg, claimed, outcome)
}

// applyOutcome persists the handler result and acknowledges the signal only
// after the ledger transition committed. A crash before the ack causes a
// redelivery, which the lease claim then discards.
func (c *JobConsumer) applyOutcome(ctx context.Context, msg amqp.Delivery, job *entity.Job, outcome handler.Outcome) {
	var (
		next    entity.JobStatus
		fields  = map[string]interface{}{}
		requeue bool
	)

	if len(outcome.Fields) > 0 {
		merged := datatypes.JSONMap{}
		for k, v := range job.Metadata {
			merged[k] = v
		}
		for k, v := range outcome.Fields {
			merged[k] = v
		}
		fields["metadata"] = merged
	}

	switch outcome.Kind {
	case handler.OutcomeDone:
		next = entity.JobStatusCompleted
	case handler.OutcomeAwaitingExternal:
		next = entity.JobStatusPendingVerification
		fields["external_id"] = outcome.ExternalID
	case handler.OutcomeRetry:
		if job.AttemptCount < job.MaxAttempts {
			next = entity.JobStatusQueued
			requeue = true
		} else {
			next = entity.JobStatusFailed
			fields["failure_reason"] = fmt.Sprintf("attempts exhausted: %s", outcome.Reason)
		}
	case handler.OutcomeFatal:
		next = entity.JobStatusFailed
		fields["failure_reason"] = outcome.Reason
	default:
		next = entity.JobStatusFailed
		fields["failure_reason"] = fmt.Sprintf("unknown handler outcome %d", outcome.Kind)
	}

	updated, err := c.ledger.UpdateStatus(ctx, job.ID, job.Version, next, fields)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// The reaper (or another actor) advanced the job while the handler
			// ran; its transition wins.
			c.logger.WarningWithContextf(ctx, "[Job Consumer] Lost outcome race for job %s, discarding signal", job.ID)
			_ = msg.Ack(false)
			return
		}
		c.logger.ErrorWithContextf(ctx, err, "[Job Consumer] Failed to persist outcome for job %s", job.ID)
		_ = msg.Nack(false, true)
		return
	}
	c.recordTransition(ctx, updated.Type, entity.JobStatusProcessing, next)

	if next == entity.JobStatusFailed {
		c.logger.WarningWithContextf(ctx, "[Job Consumer] Job %s (%s, batch %s) failed: %s", updated.ID, updated.Type, updated.InternalID, updated.FailureReason)
	} else {
		c.logger.InfoWithContextf(ctx, "[Job Consumer] Job %s (%s, batch %s) -> %s", updated.ID, updated.Type, updated.InternalID, next)
	}

	if requeue {
		if err := c.publisher.PublishJobSignal(ctx, updated.ID); err != nil {
			// The job is safely Queued; the stale-queued sweep re-signals it.
			c.logger.WarningWithContextf(ctx, "[Job Consumer] Failed to re-enqueue job %s: %v", updated.ID, err)
		}
	}

	_ = msg.Ack(false)
}

func (c *JobConsumer) recordTransition(ctx context.Context, jobType entity.JobType, from, to entity.JobStatus) {
	if c.telemetry != nil {
		c.telemetry.RecordTransition(ctx, jobType, from, to)
	}
}
