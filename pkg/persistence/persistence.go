// Package persistence provides the storage abstraction for flows, runs
// and scheduled wakes.
package persistence

import (
	"context"
	"time"

	"github.com/agenciapixel/connectflow/pkg/models"
)

type Persistence interface {
	Flows() FlowRepository
	Runs() RunRepository
	Wakes() WakeRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores flow definitions. Published versions are
// immutable: implementations reject saves of a flow whose stored status
// is already published.
type FlowRepository interface {
	Save(ctx context.Context, flow *models.FlowDefinition) error
	ByID(ctx context.Context, id string) (*models.FlowDefinition, error)
	ByGroup(ctx context.Context, groupID string) ([]*models.FlowDefinition, error)
	LatestVersion(ctx context.Context, groupID string) (int, error)
}

// RunRepository stores run instances. Create enforces the one-active-run
// rule per (contact, flow group). Update is a compare-and-swap on the run
// version: it fails with ErrVersionConflict when the stored version does
// not match expectedVersion, and bumps the version on success.
//
// The lease methods implement single-writer execution: only the worker
// holding a run's lease may execute its next step. AcquireLease fails
// with ErrLeaseHeld while another owner's unexpired lease exists;
// re-acquiring one's own lease extends it.
type RunRepository interface {
	Create(ctx context.Context, run *models.RunInstance) error
	ByID(ctx context.Context, id string) (*models.RunInstance, error)
	ActiveByContactAndGroup(ctx context.Context, contactID, groupID string) (*models.RunInstance, error)
	ListWaiting(ctx context.Context) ([]*models.RunInstance, error)
	Update(ctx context.Context, run *models.RunInstance, expectedVersion int64) error

	AcquireLease(ctx context.Context, runID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, runID, owner string) error
}

// WakeRepository stores durable one-shot timers. ClaimDue atomically
// claims up to limit unconsumed wakes with dueAt <= now under a
// time-bounded lease; a claim that expires unconsumed becomes
// reclaimable. Consume marks a wake as fired; it succeeds at most once
// per wake.
type WakeRepository interface {
	Save(ctx context.Context, wake *models.ScheduledWake) error
	ByID(ctx context.Context, id string) (*models.ScheduledWake, error)
	PendingByRun(ctx context.Context, runID string) ([]*models.ScheduledWake, error)
	CancelByRun(ctx context.Context, runID string) error
	ClaimDue(ctx context.Context, now time.Time, owner string, leaseFor time.Duration, limit int) ([]*models.ScheduledWake, error)
	Consume(ctx context.Context, wakeID, owner string) error
}
