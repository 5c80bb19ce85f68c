// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrFlowNotFound indicates no flow definition exists for the given ID.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowImmutable indicates an attempt to modify a published flow version.
	ErrFlowImmutable = errors.New("published flow version is immutable")

	// ErrRunNotFound indicates no run instance exists for the given ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrDuplicateActiveRun indicates an active run already occupies the
	// (contact, flow group) slot.
	ErrDuplicateActiveRun = errors.New("active run already exists for contact and flow group")

	// ErrVersionConflict indicates a compare-and-swap update lost the race
	// against a newer transition.
	ErrVersionConflict = errors.New("run version conflict")

	// ErrLeaseHeld indicates another worker holds the run's lease.
	ErrLeaseHeld = errors.New("run lease held by another worker")

	// ErrWakeNotFound indicates no scheduled wake exists for the given ID.
	ErrWakeNotFound = errors.New("wake not found")

	// ErrWakeConsumed indicates the wake has already fired.
	ErrWakeConsumed = errors.New("wake already consumed")
)

// RunError wraps run-related storage errors with operation context.
type RunError struct {
	Op    string // Operation being performed (e.g., "Update", "AcquireLease")
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a run storage error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// IsVersionConflict checks if an error indicates a lost compare-and-swap.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsLeaseHeld checks if an error indicates a lease owned by another worker.
func IsLeaseHeld(err error) bool {
	return errors.Is(err, ErrLeaseHeld)
}

// IsNotFound checks if an error indicates a missing flow, run or wake.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrWakeNotFound)
}
