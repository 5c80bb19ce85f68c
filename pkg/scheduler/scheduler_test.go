package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
	"github.com/agenciapixel/connectflow/pkg/persistence/memory"
)

type fakeResumer struct {
	resumed []string
	err     error
}

func (r *fakeResumer) Resume(_ context.Context, wake *models.ScheduledWake) error {
	if r.err != nil {
		return r.err
	}

	r.resumed = append(r.resumed, wake.ID)

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func saveWake(t *testing.T, p *memory.Persistence, id string, due time.Time) {
	t.Helper()

	require.NoError(t, p.Wakes().Save(context.Background(), &models.ScheduledWake{
		ID:     id,
		RunID:  "run-" + id,
		StepID: "pause",
		DueAt:  due,
		Reason: models.WakeReasonDelay,
	}))
}

func TestTickFiresAndConsumesDueWakes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := memory.NewPersistence().WithClock(clock.Now)
	resumer := &fakeResumer{}

	s := NewScheduler(p, resumer, testLogger(), WithClock(clock), WithWorkerID("w1"))

	saveWake(t, p, "w-due", clock.Now().Add(-time.Second))
	saveWake(t, p, "w-future", clock.Now().Add(time.Hour))

	s.Tick(context.Background())

	assert.Equal(t, []string{"w-due"}, resumer.resumed)

	// The fired wake is consumed; a second tick must not fire it again.
	s.Tick(context.Background())
	assert.Equal(t, []string{"w-due"}, resumer.resumed)

	// The future wake fires once its time arrives.
	clock.Advance(time.Hour)
	s.Tick(context.Background())
	assert.Equal(t, []string{"w-due", "w-future"}, resumer.resumed)
}

func TestTickLeavesWakeClaimedWhenRunLeaseHeld(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := memory.NewPersistence().WithClock(clock.Now)

	busy := &fakeResumer{err: persistence.ErrLeaseHeld}
	a := NewScheduler(p, busy, testLogger(), WithClock(clock), WithWorkerID("worker-a"), WithClaimLease(30*time.Second))

	idle := &fakeResumer{}
	b := NewScheduler(p, idle, testLogger(), WithClock(clock), WithWorkerID("worker-b"), WithClaimLease(30*time.Second))

	saveWake(t, p, "w1", clock.Now().Add(-time.Second))

	// Worker A claims the wake but cannot resume: the run's lease is held
	// elsewhere. The wake stays claimed, unconsumed.
	a.Tick(context.Background())
	assert.Empty(t, busy.resumed)

	// While A's claim is live, B must not steal the wake.
	clock.Advance(10 * time.Second)
	b.Tick(context.Background())
	assert.Empty(t, idle.resumed)

	// After the claim lease expires the wake becomes reclaimable and fires
	// exactly once.
	clock.Advance(30 * time.Second)
	b.Tick(context.Background())
	assert.Equal(t, []string{"w1"}, idle.resumed)

	b.Tick(context.Background())
	assert.Equal(t, []string{"w1"}, idle.resumed)
}

func TestTickIsolatesPerWakeFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := memory.NewPersistence().WithClock(clock.Now)

	failing := &fakeResumer{err: errors.New("boom")}
	s := NewScheduler(p, failing, testLogger(), WithClock(clock), WithWorkerID("w1"), WithClaimLease(5*time.Second))

	saveWake(t, p, "w1", clock.Now().Add(-time.Second))

	s.Tick(context.Background())

	// The failed wake is not consumed; once the claim expires, a healthy
	// worker picks it up.
	failing.err = nil
	clock.Advance(10 * time.Second)
	s.Tick(context.Background())

	assert.Equal(t, []string{"w1"}, failing.resumed)
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := memory.NewPersistence().WithClock(clock.Now)
	s := NewScheduler(p, &fakeResumer{}, testLogger(), WithClock(clock))

	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
