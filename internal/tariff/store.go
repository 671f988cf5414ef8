package tariff

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/db"
)

const tariffColumns = `id, lot_id, name, duration_class, rate, cycle_length_days, seq, created_at`

// Store reads and writes tariffs.
type Store struct {
	db db.DBTX
}

// NewStore binds a store to a pool or transaction.
func NewStore(q db.DBTX) *Store {
	return &Store{db: q}
}

// WithTx returns a store bound to tx.
func (s *Store) WithTx(tx db.DBTX) *Store {
	return &Store{db: tx}
}

func scanTariff(row interface{ Scan(...any) error }) (Tariff, error) {
	var t Tariff
	var class string
	err := row.Scan(&t.ID, &t.LotID, &t.Name, &class, &t.Rate, &t.CycleLengthDays, &t.Seq, &t.CreatedAt)
	t.Class = Class(class)
	return t, err
}

// Get loads one tariff.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Tariff, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tariffColumns+` FROM tariffs WHERE id = $1`, id)
	return scanTariff(row)
}

// ListByLot returns the lot catalog in catalog order.
func (s *Store) ListByLot(ctx context.Context, lotID uuid.UUID) ([]Tariff, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tariffColumns+` FROM tariffs WHERE lot_id = $1 ORDER BY seq`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Tariff{}
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Insert creates a tariff and fills its generated columns.
func (s *Store) Insert(ctx context.Context, t Tariff) (Tariff, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO tariffs (lot_id, name, duration_class, rate, cycle_length_days)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+tariffColumns,
		t.LotID, t.Name, string(t.Class), t.Rate, t.CycleLengthDays)
	return scanTariff(row)
}

// UpdateRate changes the rate of one tariff.
func (s *Store) UpdateRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (Tariff, error) {
	row := s.db.QueryRow(ctx, `UPDATE tariffs SET rate = $2 WHERE id = $1 RETURNING `+tariffColumns, id, rate)
	return scanTariff(row)
}
