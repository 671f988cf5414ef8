package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/parkir-api/internal/db"
	"github.com/noah-isme/parkir-api/internal/events"
	"github.com/noah-isme/parkir-api/internal/obs"
	"github.com/noah-isme/parkir-api/internal/queue"
)

// TaskKind is the queue kind carrying outbox events to the sink.
const TaskKind = "notify:event"

// Outbox hands claimed events to fn and stamps the ids fn returns as
// dispatched, atomically.
type Outbox interface {
	Dispatch(ctx context.Context, limit int, fn func(ctx context.Context, evs []events.Event) ([]uuid.UUID, error)) error
}

// Enqueuer is the queue side of the relay.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// PgOutbox reads the domain_events table.
type PgOutbox struct {
	Runner *db.Runner
	Now    func() time.Time
}

// Dispatch claims pending rows with SKIP LOCKED so concurrent relays split the backlog.
func (o PgOutbox) Dispatch(ctx context.Context, limit int, fn func(ctx context.Context, evs []events.Event) ([]uuid.UUID, error)) error {
	return o.Runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		evs, err := events.ClaimPending(ctx, tx, limit)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			return nil
		}
		ids, err := fn(ctx, evs)
		if err != nil {
			return err
		}
		now := time.Now
		if o.Now != nil {
			now = o.Now
		}
		return events.MarkDispatched(ctx, tx, ids, now().UTC())
	})
}

// Relay moves outbox events onto the notification queue.
type Relay struct {
	Outbox      Outbox
	Queue       Enqueuer
	MaxAttempts int
	Log         zerolog.Logger
}

// WorkOnce relays up to batch events and reports how many were handed over.
// When an enqueue fails the whole batch stays pending; events already queued
// are deduplicated on the next pass by their id.
func (r *Relay) WorkOnce(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	relayed := 0
	err := r.Outbox.Dispatch(ctx, batch, func(ctx context.Context, evs []events.Event) ([]uuid.UUID, error) {
		ids := make([]uuid.UUID, 0, len(evs))
		for _, ev := range evs {
			payload, err := json.Marshal(ev)
			if err != nil {
				return nil, fmt.Errorf("encode event %s: %w", ev.ID, err)
			}
			if err := r.Queue.Enqueue(ctx, queue.Task{
				Kind:           TaskKind,
				Payload:        payload,
				IdempotencyKey: ev.ID.String(),
				MaxAttempts:    r.MaxAttempts,
			}); err != nil {
				return nil, fmt.Errorf("enqueue event %s: %w", ev.ID, err)
			}
			ids = append(ids, ev.ID)
		}
		relayed = len(ids)
		return ids, nil
	})
	if err != nil {
		return 0, err
	}
	if relayed > 0 {
		obs.ObserveOutboxRelayed(relayed)
		r.Log.Debug().Int("count", relayed).Msg("outbox relayed")
	}
	return relayed, nil
}

// Run polls the outbox every interval until ctx ends. A full batch is
// followed immediately by another pass.
func (r *Relay) Run(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.WorkOnce(ctx, batch)
			if err != nil {
				if ctx.Err() == nil {
					r.Log.Error().Err(err).Msg("outbox relay failed")
				}
				break
			}
			if n < batch {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
