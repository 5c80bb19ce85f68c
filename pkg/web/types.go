// Package web provides HTTP request and response types for the flow API.
package web

import (
	"time"

	"github.com/agenciapixel/connectflow/pkg/models"
)

// ValidateFlowRequest carries a draft flow definition to be checked
// without publishing it.
type ValidateFlowRequest struct {
	Name        string        `json:"name"         validate:"required,min=3"`
	ChannelType string        `json:"channel_type" validate:"required,oneof=whatsapp sms email"`
	FlowGroupID string        `json:"flow_group_id,omitempty"`
	Steps       []models.Step `json:"steps"        validate:"required,min=1"`
}

// PublishFlowRequest carries a draft to be frozen into the next
// immutable version of its flow group.
type PublishFlowRequest = ValidateFlowRequest

// EnrollRequest puts a contact into a published flow version.
type EnrollRequest struct {
	ContactID string `json:"contact_id" validate:"required"`
	FlowID    string `json:"flow_id"    validate:"required"`
}

// InboundEventRequest is the webhook body channel providers post when a
// contact replies.
type InboundEventRequest struct {
	ContactID string         `json:"contact_id" validate:"required"`
	Channel   string         `json:"channel"    validate:"required,oneof=whatsapp sms email"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ValidationResultResponse lists every authoring problem found in a
// draft.
type ValidationResultResponse struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one draft problem, attributed to a step when the
// problem is step-local.
type ValidationIssue struct {
	StepID  string `json:"step_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// RunResponse is the externally visible state of a run instance.
type RunResponse struct {
	ID            string                       `json:"id"`
	FlowID        string                       `json:"flow_id"`
	FlowGroupID   string                       `json:"flow_group_id"`
	ContactID     string                       `json:"contact_id"`
	Status        string                       `json:"status"`
	CurrentStepID string                       `json:"current_step_id,omitempty"`
	FailedStepID  string                       `json:"failed_step_id,omitempty"`
	Error         string                       `json:"error,omitempty"`
	WaitingSince  *time.Time                   `json:"waiting_since,omitempty"`
	History       []models.StepExecutionRecord `json:"history"`
}

// TransformRunResponse maps a run instance into its API shape.
func TransformRunResponse(run *models.RunInstance) RunResponse {
	return RunResponse{
		ID:            run.ID,
		FlowID:        run.FlowID,
		FlowGroupID:   run.FlowGroupID,
		ContactID:     run.ContactID,
		Status:        string(run.Status),
		CurrentStepID: run.CurrentStepID,
		FailedStepID:  run.FailedStepID,
		Error:         run.Error,
		WaitingSince:  run.WaitingSince,
		History:       run.History,
	}
}

func (r ValidateFlowRequest) toDraft() *models.FlowDefinition {
	return &models.FlowDefinition{
		Name:        r.Name,
		ChannelType: models.ChannelType(r.ChannelType),
		FlowGroupID: r.FlowGroupID,
		Status:      models.FlowStatusDraft,
		Steps:       r.Steps,
	}
}
