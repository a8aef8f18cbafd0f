// Package publisher emits audit events with fail-open semantics: a failed
// audit write is logged and counted but never fails the business operation.
// The outbox store underneath makes delivery reliable once the write lands.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"signalos/pkg/platform/audit"
)

type Publisher struct {
	store  audit.Store
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for reporting failed audit writes.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records an event. The event timestamp defaults to now.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := p.store.Append(ctx, event); err != nil && p.logger != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			"action", string(event.Action),
			"signal_id", event.SignalID,
			"error", err,
		)
	}
}
