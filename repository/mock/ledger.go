// Package mock provides an in-memory JobLedger for worker and orchestrator
// tests. It mirrors the Postgres repository's semantics, including optimistic
// versioning and transition validation.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
	"gorm.io/datatypes"
)

type Ledger struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*entity.Job
	history map[uuid.UUID][]entity.JobStatus
}

func NewLedger() *Ledger {
	return &Ledger{
		jobs:    make(map[uuid.UUID]*entity.Job),
		history: make(map[uuid.UUID][]entity.JobStatus),
	}
}

func (l *Ledger) Create(ctx context.Context, job *entity.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = entity.JobStatusCreated
	}
	for _, existing := range l.jobs {
		if existing.Type == job.Type && existing.InternalID == job.InternalID && existing.IsActive() {
			return repository.ErrDuplicateActiveJob
		}
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	l.jobs[job.ID] = &cp
	l.history[job.ID] = []entity.JobStatus{job.Status}
	return nil
}

func (l *Ledger) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (l *Ledger) FindByTypeAndInternalID(ctx context.Context, jobType entity.JobType, internalID string) (*entity.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var latest *entity.Job
	for _, job := range l.jobs {
		if job.Type == jobType && job.InternalID == internalID {
			if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
				latest = job
			}
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (l *Ledger) FindByStatus(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []entity.Job
	for _, job := range l.jobs {
		if job.Status == status {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) FindUnadvanced(ctx context.Context, limit int) ([]entity.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []entity.Job
	for _, job := range l.jobs {
		if job.Status == entity.JobStatusCompleted && !job.Advanced {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) MarkAdvanced(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	job.Advanced = true
	return nil
}

func (l *Ledger) FindStale(ctx context.Context, status entity.JobStatus, olderThan time.Time) ([]entity.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []entity.Job
	for _, job := range l.jobs {
		if job.Status == status && job.UpdatedAt.Before(olderThan) {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (l *Ledger) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status entity.JobStatus, fields map[string]interface{}) (*entity.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if job.Version != expectedVersion {
		return nil, repository.ErrVersionConflict
	}
	if !job.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, job.Status, status)
	}

	job.Status = status
	job.Version = expectedVersion + 1
	job.UpdatedAt = time.Now()
	for k, v := range fields {
		switch k {
		case "external_id":
			job.ExternalID, _ = v.(string)
		case "failure_reason":
			job.FailureReason, _ = v.(string)
		case "attempt_count":
			if n, ok := v.(int); ok {
				job.AttemptCount = n
			}
		case "metadata":
			if m, ok := v.(datatypes.JSONMap); ok {
				job.Metadata = m
			}
		}
	}
	l.history[id] = append(l.history[id], status)
	cp := *job
	return &cp, nil
}

// History returns the ordered status sequence the job has moved through,
// starting with its creation status.
func (l *Ledger) History(id uuid.UUID) []entity.JobStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]entity.JobStatus, len(l.history[id]))
	copy(out, l.history[id])
	return out
}

// Touch backdates updated_at so reaper tests can age a lease.
func (l *Ledger) Touch(id uuid.UUID, updatedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if job, ok := l.jobs[id]; ok {
		job.UpdatedAt = updatedAt
	}
}

var _ repository.JobLedger = (*Ledger)(nil)
