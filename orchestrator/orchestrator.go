// Package orchestrator drives the settlement pipeline: it admits new rollup
// batches as jobs, advances completed stages to their successors, polls
// external backends for jobs awaiting verification, and reaps expired leases.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-rollup-orchestrator/config"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/handler"
	"github.com/tnqbao/gau-rollup-orchestrator/infra"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
	"gorm.io/datatypes"
)

const leaderLockKey = "orchestrator:leader"

type signalPublisher interface {
	PublishJobSignal(ctx context.Context, jobID uuid.UUID) error
}

// leaderStore is the slice of the Redis client the advisory leader lock needs.
type leaderStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string, dest interface{}) error
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Orchestrator struct {
	ledger    repository.JobLedger
	registry  *handler.Registry
	publisher signalPublisher
	logger    *infra.LoggerClient
	telemetry *infra.TelemetryClient
	redis     leaderStore

	instanceID      uuid.UUID
	pipeline        []entity.JobType
	maxAttempts     int
	leaseTimeout    time.Duration
	verifyTimeout   time.Duration
	verifyInterval  time.Duration
	reapInterval    time.Duration
	advanceInterval time.Duration
	scanLimit       int
}

func New(inf *infra.Infra, ledger repository.JobLedger, registry *handler.Registry, cfg *config.EnvConfig) (*Orchestrator, error) {
	pipeline := make([]entity.JobType, 0, len(cfg.Orchestrator.PipelineStages))
	for _, stage := range cfg.Orchestrator.PipelineStages {
		jobType := entity.JobType(stage)
		if _, err := registry.Get(jobType); err != nil {
			return nil, fmt.Errorf("pipeline stage %q has no registered handler", stage)
		}
		pipeline = append(pipeline, jobType)
	}
	if len(pipeline) == 0 {
		return nil, errors.New("pipeline has no stages")
	}

	var lock leaderStore
	if inf.Redis != nil {
		lock = inf.Redis
	}

	return &Orchestrator{
		ledger:          ledger,
		registry:        registry,
		publisher:       inf.Produce.JobService,
		logger:          inf.Logger,
		telemetry:       inf.Telemetry,
		redis:           lock,
		instanceID:      uuid.New(),
		pipeline:        pipeline,
		maxAttempts:     cfg.Orchestrator.MaxAttempts,
		leaseTimeout:    cfg.Orchestrator.LeaseTimeout,
		verifyTimeout:   cfg.Orchestrator.HandlerTimeout,
		verifyInterval:  cfg.Orchestrator.VerifyInterval,
		reapInterval:    cfg.Orchestrator.ReapInterval,
		advanceInterval: cfg.Orchestrator.AdvanceInterval,
		scanLimit:       cfg.Orchestrator.ScanLimit,
	}, nil
}

// OnNewBatch is the single inbound trigger interface: it creates the first
// pipeline stage's job for the batch and enqueues it. Re-delivery of the same
// batch is a no-op thanks to the ledger's (type, internal_id) idempotency.
func (o *Orchestrator) OnNewBatch(ctx context.Context, internalID string, payload map[string]string) error {
	metadata := datatypes.JSONMap{}
	for k, v := range payload {
		metadata[k] = v
	}

	job := &entity.Job{
		ID:          uuid.New(),
		Type:        o.pipeline[0],
		Status:      entity.JobStatusCreated,
		InternalID:  internalID,
		Metadata:    metadata,
		MaxAttempts: o.maxAttempts,
	}

	if err := o.ledger.Create(ctx, job); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveJob) {
			o.logger.InfoWithContextf(ctx, "[Orchestrator] Batch %s already admitted, skipping", internalID)
			return nil
		}
		return fmt.Errorf("failed to create %s job for batch %s: %w", job.Type, internalID, err)
	}

	if o.telemetry != nil {
		o.telemetry.RecordJobCreated(ctx, job.Type)
	}
	o.logger.InfoWithContextf(ctx, "[Orchestrator] Created %s job %s for batch %s", job.Type, job.ID, internalID)

	return o.enqueueJob(ctx, job)
}

// enqueueJob moves a Created job to Queued and publishes its work signal. The
// signal goes out only after the transition committed.
func (o *Orchestrator) enqueueJob(ctx context.Context, job *entity.Job) error {
	queued, err := o.ledger.UpdateStatus(ctx, job.ID, job.Version, entity.JobStatusQueued, nil)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil
		}
		return fmt.Errorf("failed to queue job %s: %w", job.ID, err)
	}
	o.recordTransition(ctx, queued.Type, entity.JobStatusCreated, entity.JobStatusQueued)

	if err := o.publisher.PublishJobSignal(ctx, queued.ID); err != nil {
		// The job stays Queued; the stale-queued sweep re-signals it.
		o.logger.WarningWithContextf(ctx, "[Orchestrator] Failed to publish work signal for job %s: %v", queued.ID, err)
	}
	return nil
}

// Run blocks executing the periodic control loops until ctx is cancelled.
// A Redis advisory lock keeps a second orchestrator instance passive until the
// active one dies and its lock expires.
func (o *Orchestrator) Run(ctx context.Context) {
	if !o.acquireLeadership(ctx) {
		return
	}

	o.logger.InfoWithContextf(ctx, "[Orchestrator] Instance %s active, pipeline: %v", o.instanceID, o.pipeline)

	advanceTicker := time.NewTicker(o.advanceInterval)
	verifyTicker := time.NewTicker(o.verifyInterval)
	reapTicker := time.NewTicker(o.reapInterval)
	leaseTicker := time.NewTicker(o.leaseTimeout / 3)
	defer advanceTicker.Stop()
	defer verifyTicker.Stop()
	defer reapTicker.Stop()
	defer leaseTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.releaseLeadership()
			return
		case <-advanceTicker.C:
			o.advancePipeline(ctx)
		case <-verifyTicker.C:
			o.pollPendingVerification(ctx)
		case <-reapTicker.C:
			o.reapStale(ctx)
			o.resignalStaleQueued(ctx)
		case <-leaseTicker.C:
			if !o.refreshLeadership(ctx) {
				// Another instance holds the lock now; this one must not keep
				// running its loops, and the lock is not ours to delete.
				o.logger.WarningWithContextf(ctx, "[Orchestrator] Instance %s lost the leader lock, stopping", o.instanceID)
				return
			}
		}
	}
}

func (o *Orchestrator) acquireLeadership(ctx context.Context) bool {
	if o.redis == nil {
		return true
	}
	for {
		ok, err := o.redis.SetNX(ctx, leaderLockKey, o.instanceID.String(), o.leaseTimeout)
		if err != nil {
			o.logger.WarningWithContextf(ctx, "[Orchestrator] Leader lock attempt failed: %v", err)
		}
		if ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(5 * time.Second):
		}
	}
}

// refreshLeadership extends the leader lock only after confirming this
// instance still holds it. A stalled leader whose lock expired and was taken
// over must step down rather than extend the new leader's key.
func (o *Orchestrator) refreshLeadership(ctx context.Context) bool {
	if o.redis == nil {
		return true
	}

	var holder string
	err := o.redis.Get(ctx, leaderLockKey, &holder)
	switch {
	case err == nil && holder == o.instanceID.String():
		if err := o.redis.Expire(ctx, leaderLockKey, o.leaseTimeout); err != nil {
			o.logger.WarningWithContextf(ctx, "[Orchestrator] Failed to refresh leader lock: %v", err)
		}
		return true
	case err == nil:
		return false
	default:
		// The lock expired without a takeover, or Redis is unreachable. Retake
		// it if possible; if not, yield rather than run unlocked.
		ok, setErr := o.redis.SetNX(ctx, leaderLockKey, o.instanceID.String(), o.leaseTimeout)
		if setErr != nil {
			o.logger.WarningWithContextf(ctx, "[Orchestrator] Failed to retake leader lock: %v", setErr)
		}
		return ok
	}
}

func (o *Orchestrator) releaseLeadership() {
	if o.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.redis.Delete(ctx, leaderLockKey)
}

func (o *Orchestrator) recordTransition(ctx context.Context, jobType entity.JobType, from, to entity.JobStatus) {
	if o.telemetry != nil {
		o.telemetry.RecordTransition(ctx, jobType, from, to)
	}
}
