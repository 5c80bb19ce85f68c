// Package scheduler wakes suspended runs when their timers come due.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

// Resumer is implemented by the step executor.
type Resumer interface {
	Resume(ctx context.Context, wake *models.ScheduledWake) error
}

const (
	defaultPollInterval = time.Second
	defaultClaimLease   = 30 * time.Second
	defaultBatchSize    = 100
)

// Scheduler polls for due wakes and resumes their runs. Each due wake is
// claimed under a time-bounded lease, so multiple worker processes can
// poll the same store without double-firing; a claim that expires
// unconsumed (worker crash) becomes reclaimable. Precision is bounded by
// the polling interval, not wall-clock exact.
type Scheduler struct {
	persistence  persistence.Persistence
	resumer      Resumer
	clock        clockwork.Clock
	logger       *slog.Logger
	workerID     string
	pollInterval time.Duration
	claimLease   time.Duration
	batchSize    int

	mu      sync.Mutex
	done    chan struct{}
	started bool
}

type Option func(*Scheduler)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = interval }
}

func WithWorkerID(id string) Option {
	return func(s *Scheduler) { s.workerID = id }
}

func WithClaimLease(lease time.Duration) Option {
	return func(s *Scheduler) { s.claimLease = lease }
}

func NewScheduler(p persistence.Persistence, resumer Resumer, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		persistence:  p,
		resumer:      resumer,
		clock:        clockwork.NewRealClock(),
		logger:       logger.With("component", "scheduler"),
		workerID:     "scheduler-" + uuid.New().String()[:8],
		pollInterval: defaultPollInterval,
		claimLease:   defaultClaimLease,
		batchSize:    defaultBatchSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins polling until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.done = make(chan struct{})
	s.started = true

	go s.poll(ctx)

	s.logger.InfoContext(ctx, "Scheduler started", "poll_interval", s.pollInterval)

	return nil
}

// Stop halts polling. In-flight resumes finish on their own.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	close(s.done)
	s.started = false

	s.logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}

func (s *Scheduler) poll(ctx context.Context) {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Tick(ctx)
		}
	}
}

// Tick claims and fires every due wake once. Exported so tests and
// embedded deployments can drive the scheduler without the polling
// goroutine.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now().UTC()

	claimed, err := s.persistence.Wakes().ClaimDue(ctx, now, s.workerID, s.claimLease, s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to claim due wakes", "error", err)

		return
	}

	for _, wake := range claimed {
		s.fire(ctx, wake)
	}
}

// fire resumes one claimed wake. Failures are isolated per run: an error
// here never affects other wakes or stops the polling loop.
func (s *Scheduler) fire(ctx context.Context, wake *models.ScheduledWake) {
	logger := s.logger.With("wake_id", wake.ID, "run_id", wake.RunID, "reason", wake.Reason)

	err := s.resumer.Resume(ctx, wake)
	if err != nil {
		if persistence.IsLeaseHeld(err) {
			// Another worker is executing the run right now. Leave the wake
			// claimed; it becomes reclaimable when our claim lease expires.
			logger.InfoContext(ctx, "Run lease held elsewhere, leaving wake for reclaim")

			return
		}

		logger.ErrorContext(ctx, "Failed to resume run from wake", "error", err)

		return
	}

	if err := s.persistence.Wakes().Consume(ctx, wake.ID, s.workerID); err != nil {
		logger.WarnContext(ctx, "Failed to consume fired wake", "error", err)
	}
}
