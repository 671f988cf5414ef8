package queue

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/parkir-api/internal/db"
)

// DeadLetters archives tasks that exhausted their attempts.
type DeadLetters interface {
	Insert(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	List(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	Count(ctx context.Context, kind string) (int64, error)
	CountByKind(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is one archived task. Payload holds the encoded task message.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

// Store is the Postgres dead-letter archive.
type Store struct {
	db db.DBTX
}

// NewStore binds the archive to a pool or transaction.
func NewStore(q db.DBTX) *Store {
	return &Store{db: q}
}

const dlqColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

// Insert archives entry and returns its id.
func (s *Store) Insert(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, entry.Kind, entry.IdempotencyKey, entry.Payload, entry.Attempts, entry.LastError).Scan(&id)
	return id, err
}

// Delete removes an entry. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

// Get returns pgx.ErrNoRows when id is unknown.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+dlqColumns+` FROM queue_dlq WHERE id = $1`, id)
	if err != nil {
		return DLQEntry{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanEntry)
}

// List returns entries newest first, optionally for one kind.
func (s *Store) List(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	limit = clamp(limit, 1, 500)
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `
SELECT `+dlqColumns+`
FROM queue_dlq
WHERE $1 = '' OR kind = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, strings.TrimSpace(kind), limit, offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEntry)
}

// Count counts entries, optionally for one kind.
func (s *Store) Count(ctx context.Context, kind string) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE $1 = '' OR kind = $1`, strings.TrimSpace(kind)).Scan(&total)
	return total, err
}

// CountByKind groups the archive size by kind.
func (s *Store) CountByKind(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT kind, COUNT(*) FROM queue_dlq GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			kind  string
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, err
		}
		out[kind] = total
	}
	return out, rows.Err()
}

func scanEntry(row pgx.CollectableRow) (DLQEntry, error) {
	var e DLQEntry
	err := row.Scan(&e.ID, &e.Kind, &e.IdempotencyKey, &e.Payload, &e.Attempts, &e.LastError, &e.CreatedAt)
	return e, err
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
