// Package enrollment creates run instances for contacts entering a flow.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

// Starter kicks off execution of a freshly created run. The step
// executor implements it.
type Starter interface {
	Start(ctx context.Context, runID string) error
}

// Manager enrolls contacts into published flow versions. Enrollment is
// idempotent per (contact, flow group): repeated triggers return the
// already-active run instead of spawning a duplicate, so a contact never
// receives the same sequence twice concurrently — not even across flow
// versions of the same family.
type Manager struct {
	persistence persistence.Persistence
	starter     Starter
	logger      *slog.Logger
}

func NewManager(p persistence.Persistence, starter Starter, logger *slog.Logger) *Manager {
	return &Manager{
		persistence: p,
		starter:     starter,
		logger:      logger.With("component", "enrollment"),
	}
}

// Enroll creates a pending run for the contact at the flow's start step
// and hands it to the executor. If an active run already exists for the
// contact and flow group, that run is returned unchanged.
func (m *Manager) Enroll(ctx context.Context, contactID, flowVersionID string) (*models.RunInstance, error) {
	flow, err := m.persistence.Flows().ByID(ctx, flowVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow version %s: %w", flowVersionID, err)
	}

	if flow.Status != models.FlowStatusPublished {
		return nil, fmt.Errorf("flow version %s is not published", flowVersionID)
	}

	start, ok := flow.StartStep()
	if !ok {
		return nil, fmt.Errorf("flow version %s has no steps", flowVersionID)
	}

	if existing, err := m.persistence.Runs().ActiveByContactAndGroup(ctx, contactID, flow.FlowGroupID); err == nil {
		m.logger.InfoContext(ctx, "Contact already has an active run, returning it",
			"contact_id", contactID, "flow_group_id", flow.FlowGroupID, "run_id", existing.ID)

		return existing, nil
	} else if !errors.Is(err, persistence.ErrRunNotFound) {
		return nil, err
	}

	run := &models.RunInstance{
		ID:            "run-" + uuid.New().String()[:8],
		FlowID:        flow.ID,
		FlowGroupID:   flow.FlowGroupID,
		ContactID:     contactID,
		Status:        models.RunStatusPending,
		CurrentStepID: start.ID,
		Context: map[string]any{
			"contact_id": contactID,
			"channel":    string(flow.ChannelType),
			"flow_id":    flow.ID,
		},
	}

	if err := m.persistence.Runs().Create(ctx, run); err != nil {
		// A concurrent enrollment won the slot; return its run.
		if errors.Is(err, persistence.ErrDuplicateActiveRun) {
			return m.persistence.Runs().ActiveByContactAndGroup(ctx, contactID, flow.FlowGroupID)
		}

		return nil, err
	}

	m.logger.InfoContext(ctx, "Enrolled contact into flow",
		"contact_id", contactID, "flow_id", flow.ID, "run_id", run.ID)

	if err := m.starter.Start(ctx, run.ID); err != nil {
		return nil, fmt.Errorf("failed to start run %s: %w", run.ID, err)
	}

	return m.persistence.Runs().ByID(ctx, run.ID)
}
