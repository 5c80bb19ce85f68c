package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agenciapixel/connectflow/pkg/gateway"
	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/template"
)

// executeStep performs one step's semantics and describes the resulting
// transition. Side-effect steps go through the gateway, which owns the
// retry policy; by the time an error comes back here it is permanent.
func (e *Executor) executeStep(ctx context.Context, run *models.RunInstance, flow *models.FlowDefinition, step models.Step) transition {
	started := e.clock.Now().UTC()

	record := func(outcome models.StepOutcome, branch string, err error) models.StepExecutionRecord {
		rec := models.StepExecutionRecord{
			StepID:      step.ID,
			StartedAt:   started,
			CompletedAt: e.clock.Now().UTC(),
			Outcome:     outcome,
			Branch:      branch,
		}
		if err != nil {
			rec.Error = err.Error()
		}

		return rec
	}

	fail := func(err error) transition {
		return transition{record: record(models.OutcomeFailed, "", err), failure: err}
	}

	switch config := step.Config.(type) {
	case *models.MessageConfig:
		body, err := template.Render(config.Template, run.Context)
		if err != nil {
			return fail(gateway.Permanent(err))
		}

		channel := config.Channel
		if channel == "" {
			channel = string(flow.ChannelType)
		}

		op := gateway.SendOperation{ContactID: run.ContactID, Channel: channel, Body: body}

		return e.sideEffect(ctx, run, step, op, record)

	case *models.DelayConfig:
		duration, err := config.Duration()
		if err != nil {
			return fail(err)
		}

		wake := &models.ScheduledWake{
			ID:     uuid.New().String(),
			RunID:  run.ID,
			StepID: step.ID,
			DueAt:  e.clock.Now().UTC().Add(duration),
			Reason: models.WakeReasonDelay,
		}

		return transition{record: record(models.OutcomeSuspended, "", nil), wake: wake}

	case *models.WaitForResponseConfig:
		channel := config.Channel
		if channel == "" {
			channel = string(flow.ChannelType)
		}

		wake := &models.ScheduledWake{
			ID:     uuid.New().String(),
			RunID:  run.ID,
			StepID: step.ID,
			DueAt:  e.clock.Now().UTC().Add(config.Timeout()),
			Reason: models.WakeReasonWaitTimeout,
		}

		return transition{
			record:         record(models.OutcomeSuspended, "", nil),
			wake:           wake,
			correlationKey: models.CorrelationKey(run.ContactID, channel),
		}

	case *models.ConditionConfig:
		result, err := evalCondition(config.Expression, run)
		if err != nil {
			return fail(err)
		}

		branch := models.BranchFalse
		if result {
			branch = models.BranchTrue
		}

		return transition{
			record: record(models.OutcomeBranched, branch, nil),
			next:   step.Branches[branch],
		}

	case *models.SplitConfig:
		branch := splitBranch(config, step.Branches, run.ContactID, run.FlowID)

		return transition{
			record: record(models.OutcomeBranched, branch, nil),
			next:   step.Branches[branch],
		}

	case *models.MergeConfig:
		// The run-level lease guarantees a single writer, so the first
		// branch to arrive advances and re-entry cannot happen within one
		// run.
		return transition{record: record(models.OutcomeAdvanced, "", nil), next: step.Next}

	case *models.WebhookConfig:
		op := gateway.HTTPOperation{
			URL:     config.URL,
			Method:  config.Method,
			Headers: config.Headers,
			Payload: run.Context,
		}

		return e.sideEffect(ctx, run, step, op, record)

	case *models.TagConfig:
		op := gateway.TagOperation{ContactID: run.ContactID, Operation: config.Operation, Tags: config.Tags}

		return e.sideEffect(ctx, run, step, op, record)

	case *models.NotificationConfig:
		message, err := template.Render(config.Message, run.Context)
		if err != nil {
			return fail(gateway.Permanent(err))
		}

		op := gateway.NotifyOperation{Target: config.Target, Message: message}

		return e.sideEffect(ctx, run, step, op, record)

	case *models.SurveyConfig:
		question, err := template.Render(config.Question, run.Context)
		if err != nil {
			return fail(gateway.Permanent(err))
		}

		op := gateway.SendOperation{
			ContactID: run.ContactID,
			Channel:   string(flow.ChannelType),
			Body:      question,
		}

		return e.sideEffect(ctx, run, step, op, record)

	case *models.CalendarConfig:
		op := gateway.SendOperation{
			ContactID: run.ContactID,
			Channel:   string(flow.ChannelType),
			Body:      fmt.Sprintf("calendar invite: %s", config.Title),
		}

		return e.sideEffect(ctx, run, step, op, record)

	case *models.LocationConfig:
		op := gateway.SendOperation{
			ContactID: run.ContactID,
			Channel:   string(flow.ChannelType),
			Body:      fmt.Sprintf("location pin: %s (%f, %f)", config.Label, config.Latitude, config.Longitude),
		}

		return e.sideEffect(ctx, run, step, op, record)

	case *models.ActionConfig:
		op := gateway.NotifyOperation{Target: config.Kind, Message: fmt.Sprint(config.Params)}

		return e.sideEffect(ctx, run, step, op, record)

	default:
		return fail(gateway.Permanentf("no handler for step type %q", step.Type))
	}
}

// sideEffect routes an operation through the gateway with the step's
// idempotency token and turns the ack into an advance transition.
func (e *Executor) sideEffect(
	ctx context.Context,
	run *models.RunInstance,
	step models.Step,
	op gateway.Operation,
	record func(models.StepOutcome, string, error) models.StepExecutionRecord,
) transition {
	token := gateway.Token{
		RunID:   run.ID,
		StepID:  step.ID,
		Attempt: run.Attempts(step.ID) * attemptGenerationStride,
	}

	ack, err := e.gateway.Execute(ctx, op, token)
	if err != nil {
		return transition{record: record(models.OutcomeFailed, "", err), failure: err}
	}

	if ack != nil && len(ack.Detail) > 0 {
		if run.Context == nil {
			run.Context = make(map[string]any)
		}

		run.Context[step.ID] = ack.Detail
	}

	return transition{record: record(models.OutcomeAdvanced, "", nil), next: step.Next}
}

// attemptGenerationStride spaces the attempt generations of successive
// executions of one step, leaving room for the gateway's internal retry
// attempts in between.
const attemptGenerationStride = 100
