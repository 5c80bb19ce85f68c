package gateway

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher routes operations to their adapters, retries transient
// failures, and deduplicates by idempotency token so a re-delivered
// attempt after a crash or restart never fires the side effect twice.
type Dispatcher struct {
	sender   Sender
	caller   HTTPCaller
	tagger   Tagger
	notifier Notifier
	retrier  *Retrier
	logger   *slog.Logger

	mu        sync.Mutex
	delivered map[string]*Ack
}

type DispatcherOption func(*Dispatcher)

func WithRetrier(r *Retrier) DispatcherOption {
	return func(d *Dispatcher) { d.retrier = r }
}

func NewDispatcher(logger *slog.Logger, sender Sender, caller HTTPCaller, tagger Tagger, notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:    sender,
		caller:    caller,
		tagger:    tagger,
		notifier:  notifier,
		retrier:   NewRetrier(),
		logger:    logger.With("component", "gateway"),
		delivered: make(map[string]*Ack),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Execute runs the operation once per (run, step, attempt) token. A
// replayed token returns the recorded ack without touching the adapter.
// Each internal retry bumps the token's attempt generation so providers
// see distinct tokens per attempt.
func (d *Dispatcher) Execute(ctx context.Context, op Operation, token Token) (*Ack, error) {
	var ack *Ack

	err := d.retrier.Do(ctx, func(attempt int) error {
		attemptToken := token
		attemptToken.Attempt = token.Attempt + attempt

		if recorded, ok := d.recorded(attemptToken); ok {
			d.logger.InfoContext(ctx, "Suppressing replayed side effect",
				"token", attemptToken.String(), "kind", op.Kind())

			ack = recorded

			return nil
		}

		delivered, err := d.dispatch(ctx, op, attemptToken)
		if err != nil {
			d.logger.WarnContext(ctx, "Side effect attempt failed",
				"token", attemptToken.String(), "kind", op.Kind(), "error", err)

			return err
		}

		d.record(attemptToken, delivered)
		ack = delivered

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ack, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, op Operation, token Token) (*Ack, error) {
	switch op := op.(type) {
	case SendOperation:
		return d.sender.Send(ctx, op, token)
	case HTTPOperation:
		return d.caller.Call(ctx, op, token)
	case TagOperation:
		return d.tagger.Tag(ctx, op, token)
	case NotifyOperation:
		return d.notifier.Notify(ctx, op, token)
	default:
		return nil, Permanentf("no adapter for operation kind %q", op.Kind())
	}
}

func (d *Dispatcher) recorded(token Token) (*Ack, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ack, ok := d.delivered[token.String()]

	return ack, ok
}

func (d *Dispatcher) record(token Token, ack *Ack) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.delivered[token.String()] = ack
}
