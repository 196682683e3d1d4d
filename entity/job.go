package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobType string

const (
	JobTypeProofGeneration       JobType = "proof_generation"
	JobTypeDataSubmission        JobType = "data_submission"
	JobTypeStateUpdate           JobType = "state_update"
	JobTypeInclusionVerification JobType = "inclusion_verification"
)

type JobStatus string

const (
	JobStatusCreated             JobStatus = "created"
	JobStatusQueued              JobStatus = "queued"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusPendingVerification JobStatus = "pending_verification"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusFailed              JobStatus = "failed"
	JobStatusTimedOut            JobStatus = "timed_out"
)

// Job is the unit of work tracked by the ledger. InternalID ties the job to the
// rollup batch it settles; ExternalID is the backend submission handle and stays
// empty until the job first reaches pending_verification. Advanced marks a
// completed job whose pipeline successor has already been handled, so the
// advancement scan can skip it.
type Job struct {
	ID            uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	Type          JobType           `json:"type" gorm:"not null;index;index:idx_jobs_type_internal_id"`
	Status        JobStatus         `json:"status" gorm:"not null;index"`
	InternalID    string            `json:"internal_id" gorm:"not null;index:idx_jobs_type_internal_id"`
	ExternalID    string            `json:"external_id"`
	Metadata      datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	FailureReason string            `json:"failure_reason" gorm:"type:text"`
	AttemptCount  int               `json:"attempt_count" gorm:"not null;default:0"`
	MaxAttempts   int               `json:"max_attempts" gorm:"not null;default:3"`
	Advanced      bool              `json:"advanced" gorm:"not null;default:false;index"`
	Version       int               `json:"version" gorm:"not null;default:0"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"index"`
}

// jobTransitions is the full set of legal status transitions. Queued is reachable
// from Processing (handler asked for a retry) and from TimedOut (reaper requeue).
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusCreated:             {JobStatusQueued},
	JobStatusQueued:              {JobStatusProcessing},
	JobStatusProcessing:          {JobStatusCompleted, JobStatusPendingVerification, JobStatusFailed, JobStatusTimedOut, JobStatusQueued},
	JobStatusPendingVerification: {JobStatusCompleted, JobStatusFailed},
	JobStatusTimedOut:            {JobStatusQueued, JobStatusFailed},
	JobStatusCompleted:           {},
	JobStatusFailed:              {},
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the job blocks creation of another job for the same
// (type, internal_id) pair. Everything except Failed does: a Completed job must
// keep later duplicate triggers idempotent.
func (j *Job) IsActive() bool {
	return j.Status != JobStatusFailed
}

// MetadataString returns the string value stored under key, or "" when absent.
func (j *Job) MetadataString(key string) string {
	if j.Metadata == nil {
		return ""
	}
	if v, ok := j.Metadata[key].(string); ok {
		return v
	}
	return ""
}
