package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Event is one outbox row.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	Topic        string          `json:"topic"`
	AggregateID  uuid.UUID       `json:"aggregate_id"`
	Payload      json.RawMessage `json:"payload"`
	OccurredAt   time.Time       `json:"occurred_at"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
}

// Emitter records events as part of the caller's unit of work. Implementations
// never fail the surrounding business operation.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any)
}

// Bus persists domain events into the outbox table.
type Bus struct {
	Log zerolog.Logger
	Now func() time.Time
}

// Emit records the event inside tx under a savepoint. A failed insert is
// rolled back to the savepoint so the outer transaction stays usable.
func (b *Bus) Emit(ctx context.Context, tx pgx.Tx, topic string, aggregateID uuid.UUID, payload any) (Event, error) {
	if tx == nil {
		return Event{}, errors.New("events: transaction is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if aggregateID == uuid.Nil {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev := Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
		OccurredAt:  b.now(),
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("events: savepoint: %w", err)
	}
	if err := InsertEvent(ctx, sp, ev); err != nil {
		_ = sp.Rollback(ctx)
		return Event{}, fmt.Errorf("events: persist event: %w", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return Event{}, fmt.Errorf("events: release savepoint: %w", err)
	}
	return ev, nil
}

// Bind returns an Emitter that writes through tx and logs failures instead of returning them.
func (b *Bus) Bind(tx pgx.Tx) Emitter {
	return txEmitter{bus: b, tx: tx}
}

type txEmitter struct {
	bus *Bus
	tx  pgx.Tx
}

func (e txEmitter) Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) {
	if _, err := e.bus.Emit(ctx, e.tx, topic, aggregateID, payload); err != nil {
		e.bus.Log.Warn().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID.String()).Msg("outbox write skipped")
	}
}

func (b *Bus) now() time.Time {
	if b != nil && b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		return validJSON(v)
	case json.RawMessage:
		return validJSON(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		return validJSON([]byte(v))
	default:
		return json.Marshal(v)
	}
}

func validJSON(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), data...), nil
}
