// Package engine wires the flow engine together and exposes its entry
// points to the authoring and CRUD surfaces.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/agenciapixel/connectflow/pkg/enrollment"
	"github.com/agenciapixel/connectflow/pkg/eventbus"
	"github.com/agenciapixel/connectflow/pkg/executor"
	"github.com/agenciapixel/connectflow/pkg/flow"
	"github.com/agenciapixel/connectflow/pkg/gateway"
	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
	"github.com/agenciapixel/connectflow/pkg/scheduler"
)

// Config carries the engine's collaborators. Persistence and Gateway are
// required; everything else has working defaults.
type Config struct {
	Persistence  persistence.Persistence
	Gateway      gateway.Gateway
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Clock        clockwork.Clock
	Logger       *slog.Logger
	WorkerID     string
	PollInterval time.Duration
}

// Engine is the facade over the flow engine. All entry points are
// synchronous and return a result or a typed error; expected validation
// and business conditions never panic.
type Engine struct {
	persistence persistence.Persistence
	publishing  *flow.PublishingService
	enrollment  *enrollment.Manager
	executor    *executor.Executor
	scheduler   *scheduler.Scheduler
	registry    *eventbus.Registry
	bus         *eventbus.Bus
	logger      *slog.Logger
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	registry := eventbus.NewRegistry()

	exec := executor.NewExecutor(cfg.Persistence, cfg.Gateway, registry, logger,
		executor.WithClock(clock),
		executor.WithWorkerID(workerID),
	)

	schedOpts := []scheduler.Option{
		scheduler.WithClock(clock),
		scheduler.WithWorkerID(workerID),
	}
	if cfg.PollInterval > 0 {
		schedOpts = append(schedOpts, scheduler.WithPollInterval(cfg.PollInterval))
	}

	engine := &Engine{
		persistence: cfg.Persistence,
		publishing:  flow.NewPublishingService(cfg.Persistence),
		enrollment:  enrollment.NewManager(cfg.Persistence, exec, logger),
		executor:    exec,
		scheduler:   scheduler.NewScheduler(cfg.Persistence, exec, logger, schedOpts...),
		registry:    registry,
		logger:      logger.With("module", "engine"),
	}

	if cfg.Publisher != nil && cfg.Subscriber != nil {
		engine.bus = eventbus.NewBus(cfg.Publisher, cfg.Subscriber, registry, exec, logger)
	}

	return engine
}

// Start rebuilds correlation registrations from durable state, begins
// scheduler polling, and subscribes to inbound events when a bus is
// configured.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.executor.RehydrateCorrelations(ctx); err != nil {
		return err
	}

	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}

	if e.bus != nil {
		if err := e.bus.Subscribe(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Stop halts scheduler polling and closes the bus.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.scheduler.Stop(ctx); err != nil {
		return err
	}

	if e.bus != nil {
		return e.bus.Close()
	}

	return nil
}

// ValidateDraft surfaces every authoring problem in the draft without
// publishing it.
func (e *Engine) ValidateDraft(draft *models.FlowDefinition) []flow.ValidationError {
	return e.publishing.Validate(draft)
}

// PublishDraft freezes a validated draft into the next immutable version
// of its flow group.
func (e *Engine) PublishDraft(ctx context.Context, draft *models.FlowDefinition) (*models.FlowDefinition, error) {
	return e.publishing.Publish(ctx, draft)
}

// Enroll puts a contact into a published flow version, idempotently per
// (contact, flow group).
func (e *Engine) Enroll(ctx context.Context, contactID, flowVersionID string) (*models.RunInstance, error) {
	return e.enrollment.Enroll(ctx, contactID, flowVersionID)
}

// CancelRun requests cooperative cancellation of a run.
func (e *Engine) CancelRun(ctx context.Context, runID string) error {
	return e.executor.Cancel(ctx, runID)
}

// RunStatus returns the run's current state, including its failing step
// and error when it has failed.
func (e *Engine) RunStatus(ctx context.Context, runID string) (*models.RunInstance, error) {
	return e.persistence.Runs().ByID(ctx, runID)
}

// PublishInbound hands a contact event to the engine. With a configured
// bus the event travels through the pub/sub channel; otherwise it is
// delivered in-process.
func (e *Engine) PublishInbound(ctx context.Context, event models.InboundEvent) error {
	if e.bus != nil {
		return e.bus.PublishInbound(ctx, event)
	}

	eventbus.NewBus(nopPublisher{}, nopSubscriber{}, e.registry, e.executor, e.logger).Deliver(ctx, event)

	return nil
}

// Tick drives one scheduler poll synchronously. Exposed for tests and
// embedded single-process deployments.
func (e *Engine) Tick(ctx context.Context) {
	e.scheduler.Tick(ctx)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, ...*message.Message) error { return nil }
func (nopPublisher) Close() error                              { return nil }

type nopSubscriber struct{}

func (nopSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, nil
}
func (nopSubscriber) Close() error { return nil }
