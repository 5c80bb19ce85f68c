// Package executor is the state-machine core of the flow engine: it
// executes a run's current step, advances or suspends the run, and
// records every transition durably.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/agenciapixel/connectflow/pkg/eventbus"
	"github.com/agenciapixel/connectflow/pkg/gateway"
	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

// ErrCorruptRunState marks an invariant violation in a stored run, e.g.
// a current step that no longer resolves in its flow version. Such runs
// are failed and surfaced for operator action, never silently dropped.
var ErrCorruptRunState = errors.New("corrupt run state")

const defaultLeaseTTL = 30 * time.Second

// Executor advances runs through their flow graph. All mutation happens
// under the run's lease and through version-checked updates, so a
// duplicate wake or a late event can never double-execute a step.
type Executor struct {
	persistence persistence.Persistence
	gateway     gateway.Gateway
	registry    *eventbus.Registry
	clock       clockwork.Clock
	logger      *slog.Logger
	workerID    string
	leaseTTL    time.Duration
}

type Option func(*Executor)

// WithClock overrides the time source, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Executor) { e.clock = clock }
}

// WithWorkerID sets the lease owner identity of this process.
func WithWorkerID(id string) Option {
	return func(e *Executor) { e.workerID = id }
}

// WithLeaseTTL overrides how long a run lease is held per execution
// burst.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(e *Executor) { e.leaseTTL = ttl }
}

func NewExecutor(p persistence.Persistence, gw gateway.Gateway, registry *eventbus.Registry, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		persistence: p,
		gateway:     gw,
		registry:    registry,
		clock:       clockwork.NewRealClock(),
		logger:      logger.With("component", "executor"),
		workerID:    "executor-" + uuid.New().String()[:8],
		leaseTTL:    defaultLeaseTTL,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start executes a newly enrolled run until it suspends, completes or
// fails.
func (e *Executor) Start(ctx context.Context, runID string) error {
	return e.withLease(ctx, runID, func(ctx context.Context) error {
		return e.advance(ctx, runID)
	})
}

// withLease runs fn while holding the run's lease. A lease held by
// another worker surfaces as persistence.ErrLeaseHeld; callers back off
// and re-poll instead of escalating.
func (e *Executor) withLease(ctx context.Context, runID string, fn func(context.Context) error) error {
	if err := e.persistence.Runs().AcquireLease(ctx, runID, e.workerID, e.leaseTTL); err != nil {
		return err
	}

	defer func() {
		if err := e.persistence.Runs().ReleaseLease(ctx, runID, e.workerID); err != nil {
			e.logger.WarnContext(ctx, "Failed to release run lease", "run_id", runID, "error", err)
		}
	}()

	return fn(ctx)
}

// advance executes steps in flow-graph order until the run suspends or
// reaches a terminal state. Cancellation is checked before every step.
func (e *Executor) advance(ctx context.Context, runID string) error {
	for {
		run, err := e.persistence.Runs().ByID(ctx, runID)
		if err != nil {
			return err
		}

		if run.Status == models.RunStatusWaiting || run.Status.Terminal() {
			return nil
		}

		flow, err := e.persistence.Flows().ByID(ctx, run.FlowID)
		if err != nil {
			return e.failCorrupt(ctx, run, fmt.Errorf("flow version %s not found: %w", run.FlowID, err))
		}

		step, ok := flow.StepByID(run.CurrentStepID)
		if !ok {
			return e.failCorrupt(ctx, run, fmt.Errorf("current step %s not in flow version %s", run.CurrentStepID, run.FlowID))
		}

		logger := e.logger.With("run_id", run.ID, "step_id", step.ID, "step_type", step.Type)
		logger.InfoContext(ctx, "Executing step")

		tr := e.executeStep(ctx, run, flow, step)

		proceed, err := e.applyTransition(ctx, run, tr)
		if err != nil {
			return err
		}

		if !proceed {
			return nil
		}
	}
}

// transition is the outcome of executing one step.
type transition struct {
	record         models.StepExecutionRecord
	next           string                // next step ID; empty means terminal
	wake           *models.ScheduledWake // set when the run suspends on a timer
	correlationKey string                // set when the run suspends on an inbound event
	failure        error                 // permanent failure at this step
}

// applyTransition persists the step outcome. It returns whether the
// advance loop should keep executing. A version conflict against a
// concurrent cancel is respected, not retried.
func (e *Executor) applyTransition(ctx context.Context, run *models.RunInstance, tr transition) (bool, error) {
	now := e.clock.Now().UTC()

	run.History = append(run.History, tr.record)

	switch {
	case tr.failure != nil:
		run.Status = models.RunStatusFailed
		run.FailedStepID = tr.record.StepID
		run.Error = tr.failure.Error()
	case tr.wake != nil || tr.correlationKey != "":
		run.Status = models.RunStatusWaiting
		run.WaitingSince = &now
	case tr.next == "":
		run.Status = models.RunStatusCompleted
	default:
		run.Status = models.RunStatusRunning
		run.CurrentStepID = tr.next
	}

	if run.Status == models.RunStatusWaiting && tr.wake != nil {
		if err := e.persistence.Wakes().Save(ctx, tr.wake); err != nil {
			return false, fmt.Errorf("failed to save wake for run %s: %w", run.ID, err)
		}
	}

	if err := e.persistence.Runs().Update(ctx, run, run.Version); err != nil {
		if persistence.IsVersionConflict(err) {
			return false, e.onUpdateConflict(ctx, run, tr)
		}

		return false, err
	}

	// Correlation registration happens after the durable transition so an
	// event can never resolve a run that is not yet recorded as waiting.
	if run.Status == models.RunStatusWaiting && tr.correlationKey != "" {
		e.registry.Register(tr.correlationKey, run.ID)
	}

	if run.Status == models.RunStatusFailed {
		e.logger.ErrorContext(ctx, "Run failed at step",
			"run_id", run.ID, "step_id", run.FailedStepID, "error", run.Error)
	}

	return run.Status == models.RunStatusRunning, nil
}

// onUpdateConflict resolves a lost compare-and-swap. The only legitimate
// writer besides the lease holder is Cancel; anything else is an
// invariant violation.
func (e *Executor) onUpdateConflict(ctx context.Context, run *models.RunInstance, tr transition) error {
	current, err := e.persistence.Runs().ByID(ctx, run.ID)
	if err != nil {
		return err
	}

	if current.Status == models.RunStatusCancelled {
		e.logger.InfoContext(ctx, "Run cancelled while step was in flight",
			"run_id", run.ID, "step_id", tr.record.StepID)

		// The step's side effect already happened; keep its record so
		// history stays a faithful log of what executed. Losing this
		// best-effort write loses only the record, never a state change.
		current.History = append(current.History, tr.record)
		if err := e.persistence.Runs().Update(ctx, current, current.Version); err != nil {
			e.logger.WarnContext(ctx, "Failed to record in-flight step on cancelled run",
				"run_id", run.ID, "step_id", tr.record.StepID, "error", err)
		}

		if tr.wake != nil {
			if err := e.persistence.Wakes().CancelByRun(ctx, run.ID); err != nil {
				e.logger.WarnContext(ctx, "Failed to cancel wakes of cancelled run", "run_id", run.ID, "error", err)
			}
		}

		return nil
	}

	return fmt.Errorf("%w: run %s changed version outside its lease", ErrCorruptRunState, run.ID)
}

// failCorrupt escalates an invariant violation: the run is failed and an
// operator alert is logged.
func (e *Executor) failCorrupt(ctx context.Context, run *models.RunInstance, cause error) error {
	e.logger.ErrorContext(ctx, "ALERT: corrupt run state",
		"run_id", run.ID, "contact_id", run.ContactID, "error", cause)

	run.Status = models.RunStatusFailed
	run.FailedStepID = run.CurrentStepID
	run.Error = fmt.Errorf("%w: %v", ErrCorruptRunState, cause).Error()

	if err := e.persistence.Runs().Update(ctx, run, run.Version); err != nil {
		return fmt.Errorf("failed to persist corrupt-state failure for run %s: %w", run.ID, err)
	}

	return nil
}
