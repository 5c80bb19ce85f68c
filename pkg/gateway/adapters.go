package gateway

import (
	"context"
	"log/slog"
)

// LoggingTagger records tag mutations in the log and acknowledges them.
// A CRM-backed tagger replaces it in production wiring.
type LoggingTagger struct {
	logger *slog.Logger
}

func NewLoggingTagger(logger *slog.Logger) *LoggingTagger {
	return &LoggingTagger{logger: logger.With("adapter", "tagger")}
}

func (t *LoggingTagger) Tag(ctx context.Context, op TagOperation, token Token) (*Ack, error) {
	t.logger.InfoContext(ctx, "Applying tag operation",
		"contact_id", op.ContactID, "operation", op.Operation, "tags", op.Tags, "token", token.String())

	return &Ack{ProviderID: "tag-" + token.String()}, nil
}

// LoggingNotifier delivers internal notifications to the log. Team inbox
// or pager integrations replace it in production wiring.
type LoggingNotifier struct {
	logger *slog.Logger
}

func NewLoggingNotifier(logger *slog.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger.With("adapter", "notifier")}
}

func (n *LoggingNotifier) Notify(ctx context.Context, op NotifyOperation, token Token) (*Ack, error) {
	n.logger.InfoContext(ctx, "Internal notification",
		"target", op.Target, "message", op.Message, "token", token.String())

	return &Ack{ProviderID: "notify-" + token.String()}, nil
}

var (
	_ Tagger   = (*LoggingTagger)(nil)
	_ Notifier = (*LoggingNotifier)(nil)
	_ Sender   = NoopSender{}
)
