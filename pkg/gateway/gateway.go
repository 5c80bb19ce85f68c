// Package gateway provides the uniform, retrying interface to external
// side effects: message sends, webhook calls, tag mutations and operator
// notifications.
package gateway

import (
	"context"
	"fmt"
)

// OperationKind identifies the adapter an operation is routed to.
type OperationKind string

const (
	OpSend   OperationKind = "send"
	OpHTTP   OperationKind = "http"
	OpTag    OperationKind = "tag"
	OpNotify OperationKind = "notify"
)

// Operation is one external side effect. Concrete operations carry only
// the fields their adapter needs.
type Operation interface {
	Kind() OperationKind
}

// SendOperation delivers a rendered message body to a contact over a
// channel.
type SendOperation struct {
	ContactID string
	Channel   string
	Body      string
}

func (SendOperation) Kind() OperationKind { return OpSend }

// HTTPOperation calls an external URL with a JSON payload.
type HTTPOperation struct {
	URL     string
	Method  string
	Headers map[string]string
	Payload map[string]any
}

func (HTTPOperation) Kind() OperationKind { return OpHTTP }

// TagOperation adds or removes tags on a contact.
type TagOperation struct {
	ContactID string
	Operation string // add | remove
	Tags      []string
}

func (TagOperation) Kind() OperationKind { return OpTag }

// NotifyOperation messages an internal target, not the contact.
type NotifyOperation struct {
	Target  string
	Message string
}

func (NotifyOperation) Kind() OperationKind { return OpNotify }

// Token is the idempotency token attached to every side effect. It is
// derived from (run, step, attempt generation), so re-delivery of the
// same attempt after a crash can be recognized and suppressed.
type Token struct {
	RunID   string
	StepID  string
	Attempt int
}

func (t Token) String() string {
	return fmt.Sprintf("%s:%s:%d", t.RunID, t.StepID, t.Attempt)
}

// Ack is the adapter's acknowledgment of a delivered side effect.
type Ack struct {
	ProviderID string         `json:"provider_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Sender delivers messages to contacts. Implementations wrap channel
// providers (WhatsApp, SMS, email).
type Sender interface {
	Send(ctx context.Context, op SendOperation, token Token) (*Ack, error)
}

// HTTPCaller performs webhook calls.
type HTTPCaller interface {
	Call(ctx context.Context, op HTTPOperation, token Token) (*Ack, error)
}

// Tagger mutates contact tags.
type Tagger interface {
	Tag(ctx context.Context, op TagOperation, token Token) (*Ack, error)
}

// Notifier alerts internal targets.
type Notifier interface {
	Notify(ctx context.Context, op NotifyOperation, token Token) (*Ack, error)
}

// Gateway executes side effects with retry and idempotency handling.
// Errors returned from Execute are always classified: transient failures
// have been retried to exhaustion before being reported.
type Gateway interface {
	Execute(ctx context.Context, op Operation, token Token) (*Ack, error)
}
