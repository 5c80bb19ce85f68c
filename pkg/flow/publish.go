package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

// PublishingService freezes validated drafts into immutable, versioned
// flow definitions. Runs always reference the version active at
// enrollment time, so publishing a new version never changes the
// behavior of runs already underway.
type PublishingService struct {
	persistence persistence.Persistence
	validator   *Validator
}

func NewPublishingService(p persistence.Persistence) *PublishingService {
	return &PublishingService{
		persistence: p,
		validator:   NewValidator(),
	}
}

// Validate surfaces every authoring problem in the draft without
// publishing it.
func (s *PublishingService) Validate(draft *models.FlowDefinition) []ValidationError {
	return s.validator.Validate(draft.Steps)
}

// Publish validates the draft and, if clean, stores a frozen copy with
// the next monotonic version for the draft's flow group. The stored copy
// is never mutated afterwards.
func (s *PublishingService) Publish(ctx context.Context, draft *models.FlowDefinition) (*models.FlowDefinition, error) {
	if errs := s.validator.Validate(draft.Steps); len(errs) > 0 {
		return nil, &ValidationFailedError{Errors: errs}
	}

	groupID := draft.FlowGroupID
	if groupID == "" {
		groupID = uuid.New().String()
	}

	latest, err := s.persistence.Flows().LatestVersion(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve latest version for group %s: %w", groupID, err)
	}

	now := time.Now().UTC()

	published := &models.FlowDefinition{
		ID:          uuid.New().String(),
		FlowGroupID: groupID,
		Name:        draft.Name,
		ChannelType: draft.ChannelType,
		Version:     latest + 1,
		Status:      models.FlowStatusPublished,
		Steps:       append([]models.Step(nil), draft.Steps...),
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: &now,
	}

	if err := s.persistence.Flows().Save(ctx, published); err != nil {
		return nil, fmt.Errorf("failed to save published flow: %w", err)
	}

	return published, nil
}

// PublishedVersion loads a published flow version, rejecting drafts.
func (s *PublishingService) PublishedVersion(ctx context.Context, id string) (*models.FlowDefinition, error) {
	flow, err := s.persistence.Flows().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if flow.Status != models.FlowStatusPublished {
		return nil, fmt.Errorf("flow %s is not a published version", id)
	}

	return flow, nil
}
