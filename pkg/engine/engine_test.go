package engine_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenciapixel/connectflow/pkg/engine"
	"github.com/agenciapixel/connectflow/pkg/gateway"
	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence/memory"
)

type countingSender struct {
	mu    sync.Mutex
	sends []gateway.SendOperation
}

func (s *countingSender) Send(_ context.Context, op gateway.SendOperation, _ gateway.Token) (*gateway.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sends = append(s.sends, op)

	return &gateway.Ack{ProviderID: "msg-1"}, nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sends)
}

type noopTagger struct{}

func (noopTagger) Tag(context.Context, gateway.TagOperation, gateway.Token) (*gateway.Ack, error) {
	return &gateway.Ack{}, nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, gateway.NotifyOperation, gateway.Token) (*gateway.Ack, error) {
	return &gateway.Ack{}, nil
}

type testHarness struct {
	engine      *engine.Engine
	persistence *memory.Persistence
	sender      *countingSender
	clock       *clockwork.FakeClock
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClock()
	p := memory.NewPersistence().WithClock(clock.Now)
	sender := &countingSender{}

	retrier := &gateway.Retrier{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
	dispatcher := gateway.NewDispatcher(logger, sender, gateway.NewRestyCaller(time.Second), noopTagger{}, noopNotifier{},
		gateway.WithRetrier(retrier))

	eng := engine.New(engine.Config{
		Persistence: p,
		Gateway:     dispatcher,
		Clock:       clock,
		Logger:      logger,
		WorkerID:    "test-worker",
	})

	return &testHarness{engine: eng, persistence: p, sender: sender, clock: clock}
}

func (h *testHarness) publish(t *testing.T, steps ...models.Step) *models.FlowDefinition {
	t.Helper()

	flow, err := h.engine.PublishDraft(context.Background(), &models.FlowDefinition{
		Name:        "Drip Campaign",
		ChannelType: models.ChannelWhatsApp,
		Status:      models.FlowStatusDraft,
		Steps:       steps,
	})
	require.NoError(t, err)

	return flow
}

func (h *testHarness) runStatus(t *testing.T, runID string) *models.RunInstance {
	t.Helper()

	run, err := h.engine.RunStatus(context.Background(), runID)
	require.NoError(t, err)

	return run
}

func messageStep(id, next string) models.Step {
	return models.Step{
		ID:     id,
		Type:   models.StepTypeMessage,
		Config: &models.MessageConfig{Template: "msg " + id},
		Next:   next,
	}
}

// A drip sequence: message, one hour pause, message. The second message
// must go out after the pause and exactly once.
func TestDripSequenceResumesAfterDelay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	flow := h.publish(t,
		messageStep("m1", "pause"),
		models.Step{
			ID:     "pause",
			Type:   models.StepTypeDelay,
			Config: &models.DelayConfig{Amount: 1, Unit: "hours"},
			Next:   "m2",
		},
		messageStep("m2", ""),
	)

	run, err := h.engine.Enroll(ctx, "alice", flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusWaiting, run.Status)
	assert.Equal(t, 1, h.sender.count())

	// Too early: the wake is not due yet.
	h.clock.Advance(30 * time.Minute)
	h.engine.Tick(ctx)
	assert.Equal(t, models.RunStatusWaiting, h.runStatus(t, run.ID).Status)
	assert.Equal(t, 1, h.sender.count())

	h.clock.Advance(30 * time.Minute)
	h.engine.Tick(ctx)

	got := h.runStatus(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 2, h.sender.count(), "each message must be sent exactly once")

	// Nothing left to fire.
	h.clock.Advance(24 * time.Hour)
	h.engine.Tick(ctx)
	assert.Equal(t, 2, h.sender.count())
}

// A reply arrives well before the wait timeout: the run takes the
// replied branch and the later timer firing changes nothing.
func TestReplyBeatsWaitTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	flow := h.publish(t,
		models.Step{
			ID:     "ask",
			Type:   models.StepTypeWaitForResponse,
			Config: &models.WaitForResponseConfig{TimeoutSeconds: 3600},
			Branches: map[string]string{
				models.BranchReplied: "thanks",
				models.BranchTimeout: "nudge",
			},
		},
		messageStep("thanks", ""),
		messageStep("nudge", ""),
	)

	run, err := h.engine.Enroll(ctx, "alice", flow.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusWaiting, run.Status)

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.engine.PublishInbound(ctx, models.InboundEvent{
		ContactID:  "alice",
		Channel:    string(models.ChannelWhatsApp),
		Payload:    map[string]any{"text": "yes"},
		ReceivedAt: h.clock.Now().UTC(),
	}))

	got := h.runStatus(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, "thanks", got.History[len(got.History)-1].StepID)
	assert.Equal(t, 1, h.sender.count())

	// The original timeout moment passes; no nudge goes out.
	h.clock.Advance(2 * time.Hour)
	h.engine.Tick(ctx)

	got = h.runStatus(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, h.sender.count())
}

// A webhook target that keeps failing exhausts the retry budget and the
// run fails at that step, with the step and cause recorded.
func TestWebhookFailureExhaustsRetriesAndFailsRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var hits int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	flow := h.publish(t,
		models.Step{
			ID:     "sync-crm",
			Type:   models.StepTypeWebhook,
			Config: &models.WebhookConfig{URL: server.URL, Method: "POST"},
			Next:   "m1",
		},
		messageStep("m1", ""),
	)

	run, err := h.engine.Enroll(ctx, "bob", flow.ID)
	require.NoError(t, err)

	got := h.runStatus(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "sync-crm", got.FailedStepID)
	assert.Contains(t, got.Error, "retries exhausted")
	assert.EqualValues(t, 3, hits)

	// The step after the failure never ran.
	assert.Equal(t, 0, h.sender.count())

	wakes, err := h.persistence.Wakes().PendingByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, wakes)
}

// A restarted process must keep routing replies to runs that were
// already waiting before the restart.
func TestRestartedEngineStillRoutesReplies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	flow := h.publish(t,
		models.Step{
			ID:     "ask",
			Type:   models.StepTypeWaitForResponse,
			Config: &models.WaitForResponseConfig{TimeoutSeconds: 3600},
			Branches: map[string]string{
				models.BranchReplied: "thanks",
				models.BranchTimeout: "nudge",
			},
		},
		messageStep("thanks", ""),
		messageStep("nudge", ""),
	)

	run, err := h.engine.Enroll(ctx, "alice", flow.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusWaiting, run.Status)

	// Second engine over the same durable state, fresh in-memory registry.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	restarted := engine.New(engine.Config{
		Persistence: h.persistence,
		Gateway:     gateway.NewDispatcher(logger, h.sender, nil, noopTagger{}, noopNotifier{}),
		Clock:       h.clock,
		Logger:      logger,
		WorkerID:    "worker-2",
	})

	require.NoError(t, restarted.Start(ctx))
	defer func() { _ = restarted.Stop(ctx) }()

	require.NoError(t, restarted.PublishInbound(ctx, models.InboundEvent{
		ContactID:  "alice",
		Channel:    string(models.ChannelWhatsApp),
		Payload:    map[string]any{"text": "hello again"},
		ReceivedAt: h.clock.Now().UTC(),
	}))

	got := h.runStatus(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, "thanks", got.History[len(got.History)-1].StepID)
}
