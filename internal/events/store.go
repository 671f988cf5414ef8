package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/parkir-api/internal/db"
)

// InsertEvent writes one outbox row.
func InsertEvent(ctx context.Context, q db.DBTX, ev Event) error {
	_, err := q.Exec(ctx, `
INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt)
	return err
}

// ClaimPending locks up to limit undispatched events, oldest first. Rows
// locked by a concurrent relay are skipped.
func ClaimPending(ctx context.Context, q db.DBTX, limit int) ([]Event, error) {
	rows, err := q.Query(ctx, `
SELECT id, topic, aggregate_id, payload, occurred_at
FROM domain_events
WHERE dispatched_at IS NULL
ORDER BY occurred_at
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkDispatched stamps the given events as handed over to the queue.
func MarkDispatched(ctx context.Context, q db.DBTX, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `UPDATE domain_events SET dispatched_at = $2 WHERE id = ANY($1)`, ids, at)
	return err
}

// GetEvent loads a single event by id.
func GetEvent(ctx context.Context, q db.DBTX, id uuid.UUID) (Event, error) {
	var ev Event
	var payload []byte
	err := q.QueryRow(ctx, `
SELECT id, topic, aggregate_id, payload, occurred_at, dispatched_at
FROM domain_events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &ev.OccurredAt, &ev.DispatchedAt)
	if err != nil {
		return Event{}, err
	}
	ev.Payload = payload
	return ev, nil
}
