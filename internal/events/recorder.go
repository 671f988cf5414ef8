package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Recorder is an in-memory Emitter. It backs unit-of-work fakes in tests and
// dry runs where nothing should reach the outbox.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit stores the event in memory.
func (r *Recorder) Emit(_ context.Context, topic string, aggregateID uuid.UUID, payload any) {
	encoded, err := encodePayload(payload)
	if err != nil {
		encoded = json.RawMessage(`{}`)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{ID: uuid.New(), Topic: topic, AggregateID: aggregateID, Payload: encoded})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Topics lists recorded topics in emission order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Topic)
	}
	return out
}
