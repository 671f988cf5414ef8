package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/parkir-api/internal/db"
)

// ConstraintOneOpen is the partial unique index guarding open sessions.
const ConstraintOneOpen = "sessions_one_open_per_vehicle"

const sessionColumns = `s.id, s.vehicle_id, s.lot_id, s.tariff_id, COALESCE(v.plate, ''), s.entry_time, s.exit_time, s.amount_paid, s.notes, s.needs_review, s.created_at`

const sessionFrom = ` FROM sessions s LEFT JOIN vehicles v ON v.id = s.vehicle_id`

// Store reads and writes sessions.
type Store struct {
	db db.DBTX
}

// NewStore binds a store to a pool or transaction.
func NewStore(q db.DBTX) *Store {
	return &Store{db: q}
}

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.VehicleID, &s.LotID, &s.TariffID, &s.Plate, &s.EntryTime, &s.ExitTime, &s.AmountPaid, &s.Notes, &s.NeedsReview, &s.CreatedAt)
	return s, err
}

func collect(rows pgx.Rows) ([]Session, error) {
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get loads a session.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	return scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE s.id = $1`, id))
}

// GetForUpdate loads a session and locks its row.
func (s *Store) GetForUpdate(ctx context.Context, id uuid.UUID) (Session, error) {
	return scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE s.id = $1 FOR UPDATE OF s`, id))
}

// OpenForVehicle returns the open session of a vehicle, if any.
func (s *Store) OpenForVehicle(ctx context.Context, vehicleID uuid.UUID) (Session, bool, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE s.vehicle_id = $1 AND s.exit_time IS NULL`, vehicleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// Insert opens a session.
func (s *Store) Insert(ctx context.Context, sess Session) (Session, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
INSERT INTO sessions (vehicle_id, lot_id, tariff_id, entry_time, notes)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		sess.VehicleID, sess.LotID, sess.TariffID, sess.EntryTime, sess.Notes).Scan(&id)
	if err != nil {
		return Session{}, err
	}
	return s.Get(ctx, id)
}

// Close writes the exit of an open session. Closed sessions are left untouched
// and reported as pgx.ErrNoRows.
func (s *Store) Close(ctx context.Context, id uuid.UUID, c Closing) (Session, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE sessions SET exit_time = $2, amount_paid = $3, needs_review = $4
WHERE id = $1 AND exit_time IS NULL`,
		id, c.ExitTime, c.Amount, c.NeedsReview)
	if err != nil {
		return Session{}, err
	}
	if tag.RowsAffected() == 0 {
		return Session{}, pgx.ErrNoRows
	}
	return s.Get(ctx, id)
}

// Delete removes a session and returns the removed row.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (Session, error) {
	sess, err := s.GetForUpdate(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ListOpen returns open sessions, most recent entry first.
func (s *Store) ListOpen(ctx context.Context, lotID *uuid.UUID) ([]Session, error) {
	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+sessionFrom+`
WHERE s.exit_time IS NULL AND ($1::uuid IS NULL OR s.lot_id = $1)
ORDER BY s.entry_time DESC, s.id`, lotID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// History returns one page of sessions, most recent entry first, plus the total count.
func (s *Store) History(ctx context.Context, f Filter) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM sessions s WHERE ($1::uuid IS NULL OR s.lot_id = $1)`, f.LotID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+sessionFrom+`
WHERE ($1::uuid IS NULL OR s.lot_id = $1)
ORDER BY s.entry_time DESC, s.id
LIMIT $2 OFFSET $3`, f.LotID, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}
