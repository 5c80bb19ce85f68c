package memory

import (
	"context"
	"sort"
	"time"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

type wakeRepository Persistence

func (r *wakeRepository) Save(_ context.Context, wake *models.ScheduledWake) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wake.CreatedAt.IsZero() {
		wake.CreatedAt = r.now()
	}

	copied := *wake
	r.wakes[wake.ID] = &copied

	return nil
}

func (r *wakeRepository) ByID(_ context.Context, id string) (*models.ScheduledWake, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wake, ok := r.wakes[id]
	if !ok {
		return nil, persistence.ErrWakeNotFound
	}

	copied := *wake

	return &copied, nil
}

func (r *wakeRepository) PendingByRun(_ context.Context, runID string) ([]*models.ScheduledWake, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*models.ScheduledWake

	for _, wake := range r.wakes {
		if wake.RunID == runID && !wake.Consumed {
			copied := *wake
			pending = append(pending, &copied)
		}
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].DueAt.Before(pending[j].DueAt) })

	return pending, nil
}

func (r *wakeRepository) CancelByRun(_ context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, wake := range r.wakes {
		if wake.RunID == runID && !wake.Consumed {
			delete(r.wakes, id)
		}
	}

	return nil
}

func (r *wakeRepository) ClaimDue(_ context.Context, now time.Time, owner string, leaseFor time.Duration, limit int) ([]*models.ScheduledWake, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*models.ScheduledWake

	for _, wake := range r.wakes {
		if wake.Consumed || wake.DueAt.After(now) {
			continue
		}

		// Claimed by a live lease of another worker.
		if wake.ClaimedBy != "" && wake.ClaimedBy != owner && wake.ClaimedUntil.After(now) {
			continue
		}

		due = append(due, wake)
	}

	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*models.ScheduledWake, 0, len(due))

	for _, wake := range due {
		wake.ClaimedBy = owner
		wake.ClaimedUntil = now.Add(leaseFor)

		copied := *wake
		claimed = append(claimed, &copied)
	}

	return claimed, nil
}

func (r *wakeRepository) Consume(_ context.Context, wakeID, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wake, ok := r.wakes[wakeID]
	if !ok {
		return persistence.ErrWakeNotFound
	}

	if wake.Consumed {
		return persistence.ErrWakeConsumed
	}

	if wake.ClaimedBy != "" && wake.ClaimedBy != owner {
		return persistence.ErrLeaseHeld
	}

	wake.Consumed = true

	return nil
}
