package memory

import (
	"context"
	"sort"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

type flowRepository Persistence

func (r *flowRepository) Save(_ context.Context, flow *models.FlowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.flows[flow.ID]; ok && existing.Status == models.FlowStatusPublished {
		return persistence.ErrFlowImmutable
	}

	stored := *flow
	stored.Steps = append([]models.Step(nil), flow.Steps...)
	r.flows[flow.ID] = &stored

	return nil
}

func (r *flowRepository) ByID(_ context.Context, id string) (*models.FlowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flow, ok := r.flows[id]
	if !ok {
		return nil, persistence.ErrFlowNotFound
	}

	copied := *flow
	copied.Steps = append([]models.Step(nil), flow.Steps...)

	return &copied, nil
}

func (r *flowRepository) ByGroup(_ context.Context, groupID string) ([]*models.FlowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flows []*models.FlowDefinition

	for _, flow := range r.flows {
		if flow.FlowGroupID == groupID {
			copied := *flow
			copied.Steps = append([]models.Step(nil), flow.Steps...)
			flows = append(flows, &copied)
		}
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].Version < flows[j].Version })

	return flows, nil
}

func (r *flowRepository) LatestVersion(_ context.Context, groupID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	latest := 0

	for _, flow := range r.flows {
		if flow.FlowGroupID == groupID && flow.Version > latest {
			latest = flow.Version
		}
	}

	return latest, nil
}
