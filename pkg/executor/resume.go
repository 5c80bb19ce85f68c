package executor

import (
	"context"
	"fmt"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

const cancelRetries = 3

// Resume handles a claimed wake. A stale wake — the run moved on, was
// resolved by an inbound event first, or is no longer active — is a
// no-op; the scheduler consumes the wake either way, so it fires at most
// once.
func (e *Executor) Resume(ctx context.Context, wake *models.ScheduledWake) error {
	return e.withLease(ctx, wake.RunID, func(ctx context.Context) error {
		run, err := e.persistence.Runs().ByID(ctx, wake.RunID)
		if err != nil {
			return err
		}

		if run.Status != models.RunStatusWaiting || run.CurrentStepID != wake.StepID {
			e.logger.InfoContext(ctx, "Ignoring stale wake",
				"run_id", wake.RunID, "wake_id", wake.ID, "reason", wake.Reason)

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

		var tr transition

		now := e.clock.Now().UTC()

		switch wake.Reason {
		case models.WakeReasonDelay:
			tr = transition{
				record: models.StepExecutionRecord{
					StepID: step.ID, StartedAt: now, CompletedAt: now,
					Outcome: models.OutcomeAdvanced,
				},
				next: step.Next,
			}

		case models.WakeReasonWaitTimeout:
			// The timer won the race: drop the correlation registration so
			// a late reply is discarded instead of resolving a moved-on run.
			config, _ := step.Config.(*models.WaitForResponseConfig)
			channel := waitChannel(config, flow)
			e.registry.Deregister(models.CorrelationKey(run.ContactID, channel), run.ID)

			tr = transition{
				record: models.StepExecutionRecord{
					StepID: step.ID, StartedAt: now, CompletedAt: now,
					Outcome: models.OutcomeBranched, Branch: models.BranchTimeout,
				},
				next: step.Branches[models.BranchTimeout],
			}

		default:
			return e.failCorrupt(ctx, run, fmt.Errorf("wake %s has unknown reason %q", wake.ID, wake.Reason))
		}

		run.WaitingSince = nil

		proceed, err := e.applyTransition(ctx, run, tr)
		if err != nil {
			return err
		}

		if !proceed {
			return nil
		}

		return e.advance(ctx, run.ID)
	})
}

// ResumeOnEvent handles an inbound event already claimed from the
// correlation registry. The event won the race against the timeout: the
// pending wake is cancelled and the run advances along the replied
// branch. A stale claim returns nil so the bus does not re-register it.
func (e *Executor) ResumeOnEvent(ctx context.Context, runID string, event models.InboundEvent) error {
	return e.withLease(ctx, runID, func(ctx context.Context) error {
		run, err := e.persistence.Runs().ByID(ctx, runID)
		if err != nil {
			return err
		}

		if run.Status != models.RunStatusWaiting {
			e.logger.InfoContext(ctx, "Ignoring event for run no longer waiting", "run_id", runID)

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

		if step.Type != models.StepTypeWaitForResponse {
			e.logger.InfoContext(ctx, "Ignoring event, run is not waiting for a response",
				"run_id", runID, "step_id", step.ID)

			return nil
		}

		// The reply won: the pending timeout wake must become a no-op.
		if err := e.persistence.Wakes().CancelByRun(ctx, run.ID); err != nil {
			return fmt.Errorf("failed to cancel timeout wake for run %s: %w", run.ID, err)
		}

		if run.Context == nil {
			run.Context = make(map[string]any)
		}

		run.Context["last_reply"] = event.Payload
		run.Context["last_reply_at"] = event.ReceivedAt

		now := e.clock.Now().UTC()
		run.WaitingSince = nil

		tr := transition{
			record: models.StepExecutionRecord{
				StepID: step.ID, StartedAt: now, CompletedAt: now,
				Outcome: models.OutcomeBranched, Branch: models.BranchReplied,
			},
			next: step.Branches[models.BranchReplied],
		}

		proceed, err := e.applyTransition(ctx, run, tr)
		if err != nil {
			return err
		}

		if !proceed {
			return nil
		}

		return e.advance(ctx, run.ID)
	})
}

// Cancel requests cooperative cancellation: the run's status flips to
// cancelled, pending wakes and correlations are cleaned up, and the
// executor observes the new status before its next step. A step already
// in flight completes its current side effect.
func (e *Executor) Cancel(ctx context.Context, runID string) error {
	for attempt := 0; ; attempt++ {
		run, err := e.persistence.Runs().ByID(ctx, runID)
		if err != nil {
			return err
		}

		if run.Status.Terminal() {
			return nil
		}

		wasWaiting := run.Status == models.RunStatusWaiting

		run.Status = models.RunStatusCancelled
		run.WaitingSince = nil

		err = e.persistence.Runs().Update(ctx, run, run.Version)
		if err == nil {
			e.cleanupSuspension(ctx, run, wasWaiting)

			return nil
		}

		if !persistence.IsVersionConflict(err) || attempt >= cancelRetries {
			return err
		}
	}
}

// cleanupSuspension drops the cancelled run's pending wake and
// correlation registration.
func (e *Executor) cleanupSuspension(ctx context.Context, run *models.RunInstance, wasWaiting bool) {
	if err := e.persistence.Wakes().CancelByRun(ctx, run.ID); err != nil {
		e.logger.WarnContext(ctx, "Failed to cancel wakes of cancelled run", "run_id", run.ID, "error", err)
	}

	if !wasWaiting {
		return
	}

	flow, err := e.persistence.Flows().ByID(ctx, run.FlowID)
	if err != nil {
		return
	}

	step, ok := flow.StepByID(run.CurrentStepID)
	if !ok || step.Type != models.StepTypeWaitForResponse {
		return
	}

	config, _ := step.Config.(*models.WaitForResponseConfig)
	channel := waitChannel(config, flow)
	e.registry.Deregister(models.CorrelationKey(run.ContactID, channel), run.ID)
}

// RehydrateCorrelations rebuilds the in-memory correlation registry from
// durable run state after a process restart, so waiting runs keep
// receiving their replies.
func (e *Executor) RehydrateCorrelations(ctx context.Context) error {
	waiting, err := e.persistence.Runs().ListWaiting(ctx)
	if err != nil {
		return fmt.Errorf("failed to list waiting runs: %w", err)
	}

	for _, run := range waiting {
		flow, err := e.persistence.Flows().ByID(ctx, run.FlowID)
		if err != nil {
			e.logger.WarnContext(ctx, "Waiting run references missing flow version",
				"run_id", run.ID, "flow_id", run.FlowID)

			continue
		}

		step, ok := flow.StepByID(run.CurrentStepID)
		if !ok || step.Type != models.StepTypeWaitForResponse {
			continue
		}

		config, _ := step.Config.(*models.WaitForResponseConfig)
		e.registry.Register(models.CorrelationKey(run.ContactID, waitChannel(config, flow)), run.ID)
	}

	return nil
}

func waitChannel(config *models.WaitForResponseConfig, flow *models.FlowDefinition) string {
	if config != nil && config.Channel != "" {
		return config.Channel
	}

	return string(flow.ChannelType)
}
