package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/db"
)

const revenueFrom = `
FROM sessions s
JOIN vehicles v ON v.id = s.vehicle_id
LEFT JOIN tariffs t ON t.id = s.tariff_id`

// Store runs the report queries.
type Store struct {
	db db.DBTX
}

// NewStore binds a store to a pool or transaction.
func NewStore(q db.DBTX) *Store {
	return &Store{db: q}
}

// revenueWhere renders the shared filter. Placeholders start after offset.
func revenueWhere(f RevenueFilter, offset int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", offset+len(args))
	}
	if f.LotID != nil {
		conds = append(conds, "s.lot_id = "+next(*f.LotID))
	}
	if f.From != nil {
		conds = append(conds, "s.entry_time >= "+next(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "s.entry_time < "+next(*f.To))
	}
	if f.Service != "" {
		p := next(likePattern(f.Service))
		conds = append(conds, fmt.Sprintf("(t.name ILIKE %s OR t.duration_class ILIKE %s)", p, p))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// RevenueTotal sums amount_paid over the matching sessions.
func (s *Store) RevenueTotal(ctx context.Context, f RevenueFilter) (decimal.Decimal, error) {
	where, args := revenueWhere(f, 0)
	var total decimal.Decimal
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(s.amount_paid), 0)`+revenueFrom+where, args...).Scan(&total)
	return total, err
}

// RevenueByDay groups revenue by the calendar day of entry in tz.
func (s *Store) RevenueByDay(ctx context.Context, f RevenueFilter, tz string) ([]DayTotal, error) {
	where, args := revenueWhere(f, 1)
	rows, err := s.db.Query(ctx, `
SELECT to_char(s.entry_time AT TIME ZONE $1, 'YYYY-MM-DD') AS day, COALESCE(SUM(s.amount_paid), 0), count(*)`+
		revenueFrom+where+`
GROUP BY day ORDER BY day`, append([]any{tz}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DayTotal{}
	for rows.Next() {
		var d DayTotal
		if err := rows.Scan(&d.Day, &d.Total, &d.Sessions); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RevenueByService groups revenue by tariff name.
func (s *Store) RevenueByService(ctx context.Context, f RevenueFilter) ([]ServiceTotal, error) {
	where, args := revenueWhere(f, 0)
	rows, err := s.db.Query(ctx, `
SELECT COALESCE(t.name, '`+Unassigned+`') AS service, COALESCE(SUM(s.amount_paid), 0), count(*)`+
		revenueFrom+where+`
GROUP BY service`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ServiceTotal{}
	for rows.Next() {
		var st ServiceTotal
		if err := rows.Scan(&st.Service, &st.Total, &st.Sessions); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RevenueRows returns one page of matching sessions, newest entry first, and the total count.
func (s *Store) RevenueRows(ctx context.Context, f RevenueFilter) ([]RevenueRow, int, error) {
	where, args := revenueWhere(f, 0)
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*)`+revenueFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
SELECT s.id, s.vehicle_id, s.lot_id, v.plate, COALESCE(t.name, '%s'), COALESCE(t.duration_class, ''),
       s.entry_time, s.exit_time, COALESCE(s.amount_paid, 0), s.needs_review`+
		revenueFrom+where+`
ORDER BY s.entry_time DESC, s.id
LIMIT $%d OFFSET $%d`, Unassigned, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []RevenueRow{}
	for rows.Next() {
		var r RevenueRow
		if err := rows.Scan(&r.SessionID, &r.VehicleID, &r.LotID, &r.Plate, &r.Service, &r.DurationClass,
			&r.EntryTime, &r.ExitTime, &r.AmountPaid, &r.NeedsReview); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// PaidInvoiceTotal sums invoices paid within the window.
func (s *Store) PaidInvoiceTotal(ctx context.Context, lotID *uuid.UUID, from, to *time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRow(ctx, `
SELECT COALESCE(SUM(total), 0) FROM invoices
WHERE status = 'paid'
  AND ($1::uuid IS NULL OR lot_id = $1)
  AND ($2::timestamptz IS NULL OR paid_at >= $2)
  AND ($3::timestamptz IS NULL OR paid_at < $3)`, lotID, from, to).Scan(&total)
	return total, err
}

// GetLot loads a lot.
func (s *Store) GetLot(ctx context.Context, id uuid.UUID) (Lot, error) {
	var l Lot
	err := s.db.QueryRow(ctx, `SELECT id, name, capacity FROM lots WHERE id = $1`, id).Scan(&l.ID, &l.Name, &l.Capacity)
	return l, err
}

// Stays lists sessions of a lot that overlap [from, to).
func (s *Store) Stays(ctx context.Context, lotID uuid.UUID, from, to time.Time) ([]Stay, error) {
	rows, err := s.db.Query(ctx, `
SELECT vehicle_id, entry_time, exit_time FROM sessions
WHERE lot_id = $1 AND entry_time < $3 AND (exit_time IS NULL OR exit_time > $2)`, lotID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Stay{}
	for rows.Next() {
		var st Stay
		if err := rows.Scan(&st.VehicleID, &st.EntryTime, &st.ExitTime); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
