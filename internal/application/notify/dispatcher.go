package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/swapmeet/swapmeet/internal/domain/event"
)

// Sink delivers one event to one party over a single channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, recipient string, e event.Event) error
}

// Dispatcher implements event.Publisher over a set of sinks. Delivery failures
// are logged and never reach the caller.
type Dispatcher struct {
	sinks  []Sink
	logger zerolog.Logger
}

func NewDispatcher(logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		logger: logger.With().Str("service", "notify").Logger(),
	}
}

func (d *Dispatcher) Publish(ctx context.Context, e event.Event) {
	for _, recipient := range e.Recipients {
		for _, sink := range d.sinks {
			if err := sink.Deliver(ctx, recipient, e); err != nil {
				d.logger.Warn().Err(err).
					Str("sink", sink.Name()).
					Str("event", string(e.Type)).
					Str("recipient", recipient).
					Str("negotiation_id", e.NegotiationID.String()).
					Msg("event delivery failed")
			}
		}
	}
}
