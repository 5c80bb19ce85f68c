package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

// Integration tests run only against a real Redis, e.g.
// CONNECTFLOW_TEST_REDIS_URL=redis://localhost:6379/1
func testRepository(t *testing.T) *WakeRepository {
	t.Helper()

	url := os.Getenv("CONNECTFLOW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CONNECTFLOW_TEST_REDIS_URL not set")
	}

	client, err := NewClient(url)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return NewWakeRepository(client)
}

func newWake(runID string, due time.Time) *models.ScheduledWake {
	return &models.ScheduledWake{
		ID:     uuid.New().String(),
		RunID:  runID,
		StepID: "pause",
		DueAt:  due,
		Reason: models.WakeReasonDelay,
	}
}

func TestSaveAndClaimDue(t *testing.T) {
	r := testRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	runID := "run-" + uuid.New().String()[:8]

	due := newWake(runID, now.Add(-time.Second))
	future := newWake(runID, now.Add(time.Hour))
	require.NoError(t, r.Save(ctx, due))
	require.NoError(t, r.Save(ctx, future))

	claimed, err := r.ClaimDue(ctx, now, "worker-a", 30*time.Second, 100)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, wake := range claimed {
		ids[wake.ID] = true
	}

	assert.True(t, ids[due.ID])
	assert.False(t, ids[future.ID])

	// Live claim of another worker is not stolen.
	stolen, err := r.ClaimDue(ctx, now, "worker-b", 30*time.Second, 100)
	require.NoError(t, err)

	for _, wake := range stolen {
		assert.NotEqual(t, due.ID, wake.ID)
	}

	require.NoError(t, r.Consume(ctx, due.ID, "worker-a"))
	assert.ErrorIs(t, r.Consume(ctx, due.ID, "worker-a"), persistence.ErrWakeConsumed)
}

func TestExpiredClaimIsReclaimable(t *testing.T) {
	r := testRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	runID := "run-" + uuid.New().String()[:8]

	wake := newWake(runID, now.Add(-time.Minute))
	require.NoError(t, r.Save(ctx, wake))

	_, err := r.ClaimDue(ctx, now, "worker-a", time.Second, 100)
	require.NoError(t, err)

	// After the claim window passes, another worker takes over.
	later := now.Add(5 * time.Second)
	claimed, err := r.ClaimDue(ctx, later, "worker-b", 30*time.Second, 100)
	require.NoError(t, err)

	found := false
	for _, w := range claimed {
		if w.ID == wake.ID {
			found = true
		}
	}

	assert.True(t, found)

	require.NoError(t, r.Consume(ctx, wake.ID, "worker-b"))
}

func TestCancelByRunDropsPendingWakes(t *testing.T) {
	r := testRepository(t)
	ctx := context.Background()
	runID := "run-" + uuid.New().String()[:8]

	wake := newWake(runID, time.Now().UTC().Add(time.Hour))
	require.NoError(t, r.Save(ctx, wake))

	pending, err := r.PendingByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, r.CancelByRun(ctx, runID))

	pending, err = r.PendingByRun(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = r.ByID(ctx, wake.ID)
	assert.ErrorIs(t, err, persistence.ErrWakeNotFound)
}
