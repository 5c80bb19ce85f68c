package models

import "time"

// RunStatus is the lifecycle state of one contact's traversal of a flow
// version.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusWaiting   RunStatus = "waiting"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Active reports whether the run still occupies its (contact, flow group)
// slot. At most one active run may exist per contact and flow group.
func (s RunStatus) Active() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusWaiting:
		return true
	default:
		return false
	}
}

// Terminal reports whether the run can never execute another step.
func (s RunStatus) Terminal() bool {
	return !s.Active()
}

// StepOutcome records how a single step execution ended.
type StepOutcome string

const (
	OutcomeAdvanced  StepOutcome = "advanced"
	OutcomeBranched  StepOutcome = "branched"
	OutcomeSuspended StepOutcome = "suspended"
	OutcomeFailed    StepOutcome = "failed"
)

// StepExecutionRecord is one append-only history entry. Records are
// monotonic in time within a run.
type StepExecutionRecord struct {
	StepID      string      `json:"step_id"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Outcome     StepOutcome `json:"outcome"`
	Branch      string      `json:"branch,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// RunInstance is the durable execution record of one contact moving
// through one flow version. It is mutated only by the step executor while
// holding the run's lease, and every update is guarded by a
// compare-and-swap on Version so a stale wake or duplicate event can
// never overwrite a newer transition.
type RunInstance struct {
	ID            string                `json:"id"`
	FlowID        string                `json:"flow_id"`       // Flow version the run is pinned to
	FlowGroupID   string                `json:"flow_group_id"` // Flow family, for the one-active-run rule
	ContactID     string                `json:"contact_id"`
	Status        RunStatus             `json:"status"`
	CurrentStepID string                `json:"current_step_id"`
	Context       map[string]any        `json:"context,omitempty"`
	History       []StepExecutionRecord `json:"history,omitempty"`
	Version       int64                 `json:"version"`
	FailedStepID  string                `json:"failed_step_id,omitempty"`
	Error         string                `json:"error,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	WaitingSince  *time.Time            `json:"waiting_since,omitempty"`
}

// Attempts counts how many times the given step has already been started
// in this run. It seeds the attempt generation of idempotency tokens, so
// a re-delivered execution after a crash reuses the same token.
func (r *RunInstance) Attempts(stepID string) int {
	count := 0

	for _, record := range r.History {
		if record.StepID == stepID {
			count++
		}
	}

	return count
}
