// Package memory provides an in-process persistence implementation used
// by tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

// Persistence keeps all state in process memory behind a single mutex.
// It honors the same contracts as the durable implementations: CAS run
// updates, run leases and claim-once wake semantics.
type Persistence struct {
	mu sync.Mutex

	flows map[string]*models.FlowDefinition
	runs  map[string]*models.RunInstance
	wakes map[string]*models.ScheduledWake

	leases map[string]lease // runID -> lease

	now func() time.Time
}

type lease struct {
	owner string
	until time.Time
}

func NewPersistence() *Persistence {
	return &Persistence{
		flows:  make(map[string]*models.FlowDefinition),
		runs:   make(map[string]*models.RunInstance),
		wakes:  make(map[string]*models.ScheduledWake),
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests driving lease expiry.
func (p *Persistence) WithClock(now func() time.Time) *Persistence {
	p.now = now

	return p
}

func (p *Persistence) Flows() persistence.FlowRepository { return (*flowRepository)(p) }
func (p *Persistence) Runs() persistence.RunRepository   { return (*runRepository)(p) }
func (p *Persistence) Wakes() persistence.WakeRepository { return (*wakeRepository)(p) }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }
