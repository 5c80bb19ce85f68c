package memory

import (
	"context"
	"time"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

type runRepository Persistence

func (r *runRepository) Create(_ context.Context, run *models.RunInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.runs {
		if existing.ContactID == run.ContactID &&
			existing.FlowGroupID == run.FlowGroupID &&
			existing.Status.Active() {
			return persistence.NewRunError("Create", run.ID, persistence.ErrDuplicateActiveRun)
		}
	}

	now := r.now()
	run.CreatedAt = now
	run.UpdatedAt = now
	run.Version = 1

	stored := copyRun(run)
	r.runs[run.ID] = stored

	return nil
}

func (r *runRepository) ByID(_ context.Context, id string) (*models.RunInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, persistence.ErrRunNotFound
	}

	return copyRun(run), nil
}

func (r *runRepository) ActiveByContactAndGroup(_ context.Context, contactID, groupID string) (*models.RunInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, run := range r.runs {
		if run.ContactID == contactID && run.FlowGroupID == groupID && run.Status.Active() {
			return copyRun(run), nil
		}
	}

	return nil, persistence.ErrRunNotFound
}

func (r *runRepository) ListWaiting(_ context.Context) ([]*models.RunInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var waiting []*models.RunInstance

	for _, run := range r.runs {
		if run.Status == models.RunStatusWaiting {
			waiting = append(waiting, copyRun(run))
		}
	}

	return waiting, nil
}

func (r *runRepository) Update(_ context.Context, run *models.RunInstance, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.runs[run.ID]
	if !ok {
		return persistence.NewRunError("Update", run.ID, persistence.ErrRunNotFound)
	}

	if stored.Version != expectedVersion {
		return persistence.NewRunError("Update", run.ID, persistence.ErrVersionConflict)
	}

	run.Version = expectedVersion + 1
	run.UpdatedAt = r.now()
	r.runs[run.ID] = copyRun(run)

	return nil
}

func (r *runRepository) AcquireLease(_ context.Context, runID, owner string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[runID]; !ok {
		return persistence.NewRunError("AcquireLease", runID, persistence.ErrRunNotFound)
	}

	now := r.now()

	current, held := r.leases[runID]
	if held && current.owner != owner && current.until.After(now) {
		return persistence.NewRunError("AcquireLease", runID, persistence.ErrLeaseHeld)
	}

	r.leases[runID] = lease{owner: owner, until: now.Add(ttl)}

	return nil
}

func (r *runRepository) ReleaseLease(_ context.Context, runID, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, held := r.leases[runID]
	if !held || current.owner != owner {
		return nil
	}

	delete(r.leases, runID)

	return nil
}

func copyRun(run *models.RunInstance) *models.RunInstance {
	copied := *run
	copied.History = append([]models.StepExecutionRecord(nil), run.History...)

	if run.Context != nil {
		copied.Context = make(map[string]any, len(run.Context))
		for k, v := range run.Context {
			copied.Context[k] = v
		}
	}

	return &copied
}
