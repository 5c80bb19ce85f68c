package persistence

import "context"

// composite overrides the wake storage of a base persistence layer, so
// deployments can pair SQL flows/runs with a Redis wake queue.
type composite struct {
	Persistence
	wakes WakeRepository
}

// WithWakeRepository returns base with its wake repository replaced.
func WithWakeRepository(base Persistence, wakes WakeRepository) Persistence {
	return &composite{Persistence: base, wakes: wakes}
}

func (c *composite) Wakes() WakeRepository { return c.wakes }

func (c *composite) HealthCheck(ctx context.Context) error {
	return c.Persistence.HealthCheck(ctx)
}
