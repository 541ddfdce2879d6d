package worker

import (
	"context"
	"log/slog"
)

// Sender delivers one email job through a provider. Implementations must
// be safe for concurrent use; rendering and per-attempt timeouts belong
// to the provider, not this layer.
type Sender interface {
	Send(ctx context.Context, recipients []string, template string, data map[string]any) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, recipients []string, template string, data map[string]any) error

func (f SenderFunc) Send(ctx context.Context, recipients []string, template string, data map[string]any) error {
	return f(ctx, recipients, template, data)
}

// LogSender writes sends to the log instead of a provider. Default for
// local development.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, recipients []string, template string, _ map[string]any) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("send (log transport)", "template", template, "recipients", len(recipients))
	return nil
}
