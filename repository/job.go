package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("job not found")
	ErrDuplicateActiveJob = errors.New("an active job already exists for this internal id")
	ErrVersionConflict    = errors.New("job version conflict")
	ErrInvalidTransition  = errors.New("invalid job status transition")
)

// JobLedger is the durable source of truth for job existence and status. All
// mutation goes through UpdateStatus, which enforces optimistic concurrency on
// the version column: exactly one caller wins a racing update, the rest get
// ErrVersionConflict.
type JobLedger interface {
	Create(ctx context.Context, job *entity.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	FindByTypeAndInternalID(ctx context.Context, jobType entity.JobType, internalID string) (*entity.Job, error)
	FindByStatus(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error)
	FindUnadvanced(ctx context.Context, limit int) ([]entity.Job, error)
	FindStale(ctx context.Context, status entity.JobStatus, olderThan time.Time) ([]entity.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status entity.JobStatus, fields map[string]interface{}) (*entity.Job, error)
	MarkAdvanced(ctx context.Context, id uuid.UUID) error
}

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts the job unless a non-Failed job already exists for the same
// (type, internal_id) pair, in which case it returns ErrDuplicateActiveJob.
// The existence check is only a fast path: two concurrent creators can both
// pass it under READ COMMITTED, so the partial unique index on active
// (type, internal_id) pairs is what actually enforces the invariant. A
// unique violation on insert maps to the same sentinel.
func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = entity.JobStatusCreated
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&entity.Job{}).
			Where("type = ? AND internal_id = ? AND status <> ?", job.Type, job.InternalID, entity.JobStatusFailed).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateActiveJob
		}
		if err := tx.Create(job).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateActiveJob
			}
			return err
		}
		return nil
	})
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	var job entity.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) FindByTypeAndInternalID(ctx context.Context, jobType entity.JobType, internalID string) (*entity.Job, error) {
	var job entity.Job
	err := r.db.WithContext(ctx).
		Where("type = ? AND internal_id = ?", jobType, internalID).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) FindByStatus(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error) {
	var jobs []entity.Job
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// FindUnadvanced returns completed jobs whose pipeline successor has not been
// handled yet, oldest first. The advancement scan windows over these instead
// of all completed jobs, so retained terminal records never push new
// completions out of the window.
func (r *JobRepository) FindUnadvanced(ctx context.Context, limit int) ([]entity.Job, error) {
	var jobs []entity.Job
	q := r.db.WithContext(ctx).
		Where("status = ? AND advanced = ?", entity.JobStatusCompleted, false).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// MarkAdvanced flags a completed job as handled by pipeline advancement. The
// status is terminal, so no version bump is needed; the flag only moves the
// scan window forward and setting it twice is harmless.
func (r *JobRepository) MarkAdvanced(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ?", id).
		Update("advanced", true).Error
}

// FindByInternalID returns every job recorded for a batch, oldest first. This
// is the read model for batch status: one job per pipeline stage reached so far.
func (r *JobRepository) FindByInternalID(ctx context.Context, internalID string) ([]entity.Job, error) {
	var jobs []entity.Job
	err := r.db.WithContext(ctx).
		Where("internal_id = ?", internalID).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// List returns jobs filtered by the optional status and type, newest first.
func (r *JobRepository) List(ctx context.Context, status entity.JobStatus, jobType entity.JobType, limit int) ([]entity.Job, error) {
	q := r.db.WithContext(ctx).Model(&entity.Job{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if jobType != "" {
		q = q.Where("type = ?", jobType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var jobs []entity.Job
	err := q.Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

// FindStale returns jobs stuck in the given status since before olderThan. Used
// by the reaper to detect leases whose worker died without releasing them.
func (r *JobRepository) FindStale(ctx context.Context, status entity.JobStatus, olderThan time.Time) ([]entity.Job, error) {
	var jobs []entity.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, olderThan).
		Order("updated_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// UpdateStatus advances the job to status if expectedVersion still matches the
// stored version and the transition is legal. The update is a single conditional
// UPDATE ... WHERE version = ?, so two racing callers cannot both succeed.
// Extra columns (external_id, failure_reason, attempt_count, metadata) go in
// fields.
func (r *JobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status entity.JobStatus, fields map[string]interface{}) (*entity.Job, error) {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	if !current.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	updates := map[string]interface{}{
		"status":     status,
		"version":    expectedVersion + 1,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Someone else advanced the job between the read and the update.
		return nil, ErrVersionConflict
	}

	return r.FindByID(ctx, id)
}

var _ JobLedger = (*JobRepository)(nil)
