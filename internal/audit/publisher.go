package audit

import (
	"context"
	"log/slog"

	"custodia/pkg/requestcontext"
)

// Sink receives a copy of every emitted event (Kafka, log pipeline, ...).
// Sink failures are logged but never fail the emitting operation; the store
// append is the authoritative write.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Publisher captures structured audit events. It is append-only and uses
// the storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store  Store
	sinks  []Sink
	logger *slog.Logger
}

func NewPublisher(store Store, logger *slog.Logger, sinks ...Sink) *Publisher {
	return &Publisher{store: store, sinks: sinks, logger: logger}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "audit",
		"action", event.Action,
		"actor", event.Actor,
		"item_id", event.ItemID,
		"subject", event.Subject,
		"reason", event.Reason,
	)
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "audit sink publish failed",
				"action", event.Action,
				"error", err,
			)
		}
	}
	return nil
}

func (p *Publisher) ListByItem(ctx context.Context, itemID string) ([]Event, error) {
	return p.store.ListByItem(ctx, itemID)
}
