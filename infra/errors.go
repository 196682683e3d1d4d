package infra

import (
	"context"
	"errors"
	"fmt"
)

// BackendError wraps a failure from a DA, settlement or prover backend.
// Transient failures (network errors, timeouts, 5xx) are retried by the
// orchestration layer; permanent failures (payload rejected, 4xx) fail the job.
type BackendError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *BackendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s backend error: %v", e.Op, kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func transientErr(op string, err error) error {
	return &BackendError{Op: op, Transient: true, Err: err}
}

func permanentErr(op string, err error) error {
	return &BackendError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err should be retried. Deadline expiry and
// cancellation count as transient: a timed-out call must never be assumed to
// have failed permanently (nor to have succeeded).
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient
	}
	return false
}
