package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/parkir-api/internal/events"
)

// Sink delivers one domain event outside the process. Delivery is best
// effort; callers retry on error.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev events.Event) error
}

// LogSink writes events to the structured log. It stands in when no webhook
// is configured.
type LogSink struct {
	Log zerolog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, ev events.Event) error {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	s.Log.Info().
		Str("event_id", ev.ID.String()).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID.String()).
		RawJSON("payload", payload).
		Time("occurred_at", ev.OccurredAt).
		Msg("notification")
	return nil
}
