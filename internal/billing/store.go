package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/parkir-api/internal/db"
)

const invoiceColumns = `id, vehicle_id, lot_id, tariff_id, owner_id, source, total, status, created_at, due_at, paid_at, payment_method`

const subscriptionSelect = `
SELECT v.id, v.lot_id, v.owner_id, v.plate, v.created_at, t.id, t.name, t.rate, t.cycle_length_days
FROM vehicles v
JOIN tariffs t ON t.id = v.tariff_id
WHERE t.duration_class = 'period'`

// Store reads and writes invoices.
type Store struct {
	db db.DBTX
}

// NewStore binds a store to a pool or transaction.
func NewStore(q db.DBTX) *Store {
	return &Store{db: q}
}

func scanInvoice(row interface{ Scan(...any) error }) (Invoice, error) {
	var inv Invoice
	var source, status string
	var method *string
	err := row.Scan(&inv.ID, &inv.VehicleID, &inv.LotID, &inv.TariffID, &inv.OwnerID, &source, &inv.Total, &status,
		&inv.CreatedAt, &inv.DueAt, &inv.PaidAt, &method)
	inv.Source = Source(source)
	inv.Status = Status(status)
	if method != nil {
		m := PaymentMethod(*method)
		inv.PaymentMethod = &m
	}
	return inv, err
}

func scanSubscription(row interface{ Scan(...any) error }) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.VehicleID, &s.LotID, &s.OwnerID, &s.Plate, &s.RegisteredAt, &s.TariffID, &s.TariffName, &s.Rate, &s.CycleLengthDays)
	return s, err
}

// ListSubscriptions returns every vehicle currently on a period tariff.
func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.Query(ctx, subscriptionSelect+` ORDER BY v.created_at, v.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// GetSubscription returns the subscription of one vehicle. Vehicles that are
// not on a period tariff yield pgx.ErrNoRows.
func (s *Store) GetSubscription(ctx context.Context, vehicleID uuid.UUID) (Subscription, error) {
	return scanSubscription(s.db.QueryRow(ctx, subscriptionSelect+` AND v.id = $1`, vehicleID))
}

// LastPeriodicDueAt returns the end of the most recent billed cycle, or nil.
func (s *Store) LastPeriodicDueAt(ctx context.Context, vehicleID, tariffID uuid.UUID) (*time.Time, error) {
	var due *time.Time
	err := s.db.QueryRow(ctx, `
SELECT max(due_at) FROM invoices
WHERE vehicle_id = $1 AND tariff_id = $2 AND source = 'periodic'`, vehicleID, tariffID).Scan(&due)
	return due, err
}

// InsertPeriodic creates the invoice of one cycle. It reports false without
// error when the cycle already has an invoice.
func (s *Store) InsertPeriodic(ctx context.Context, inv Invoice) (Invoice, bool, error) {
	created, err := scanInvoice(s.db.QueryRow(ctx, `
INSERT INTO invoices (vehicle_id, lot_id, tariff_id, owner_id, source, total, status, created_at, due_at)
VALUES ($1, $2, $3, $4, 'periodic', $5, 'pending', $6, $7)
ON CONFLICT (vehicle_id, tariff_id, created_at) WHERE source = 'periodic' DO NOTHING
RETURNING `+invoiceColumns,
		inv.VehicleID, inv.LotID, inv.TariffID, inv.OwnerID, inv.Total, inv.CreatedAt, inv.DueAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, false, nil
	}
	if err != nil {
		return Invoice{}, false, err
	}
	return created, true, nil
}

// InsertManual creates an operator-entered invoice.
func (s *Store) InsertManual(ctx context.Context, inv Invoice) (Invoice, error) {
	return scanInvoice(s.db.QueryRow(ctx, `
INSERT INTO invoices (vehicle_id, lot_id, tariff_id, owner_id, source, total, status, created_at, due_at)
VALUES ($1, $2, $3, $4, 'manual', $5, 'pending', $6, $7)
RETURNING `+invoiceColumns,
		inv.VehicleID, inv.LotID, inv.TariffID, inv.OwnerID, inv.Total, inv.CreatedAt, inv.DueAt))
}

// InsertLineItem attaches a line item to an invoice.
func (s *Store) InsertLineItem(ctx context.Context, item LineItem) (LineItem, error) {
	err := s.db.QueryRow(ctx, `
INSERT INTO invoice_line_items (invoice_id, description, quantity, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		item.InvoiceID, item.Description, item.Quantity, item.UnitPrice, item.Subtotal).Scan(&item.ID)
	return item, err
}

// LineItems lists the items of an invoice.
func (s *Store) LineItems(ctx context.Context, invoiceID uuid.UUID) ([]LineItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, invoice_id, description, quantity, unit_price, subtotal
FROM invoice_line_items WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []LineItem{}
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Get loads an invoice without its items.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return scanInvoice(s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

// GetForUpdate loads an invoice and locks its row.
func (s *Store) GetForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return scanInvoice(s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

// MarkPaid settles an invoice.
func (s *Store) MarkPaid(ctx context.Context, id uuid.UUID, method PaymentMethod, at time.Time) (Invoice, error) {
	return scanInvoice(s.db.QueryRow(ctx, `
UPDATE invoices SET status = 'paid', paid_at = $2, payment_method = $3
WHERE id = $1 AND status <> 'paid'
RETURNING `+invoiceColumns, id, at, string(method)))
}

// MarkOverdue flips pending invoices due before cutoff and returns them.
func (s *Store) MarkOverdue(ctx context.Context, cutoff time.Time) ([]Invoice, error) {
	rows, err := s.db.Query(ctx, `
UPDATE invoices SET status = 'overdue'
WHERE status = 'pending' AND due_at < $1
RETURNING `+invoiceColumns, cutoff)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

// List returns one page of invoices, newest cycle first, plus the total count.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Invoice, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.VehicleID != nil {
		args = append(args, *f.VehicleID)
		conds = append(conds, fmt.Sprintf("vehicle_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectInvoices(rows)
	return items, total, err
}

func collectInvoices(rows pgx.Rows) ([]Invoice, error) {
	defer rows.Close()
	out := []Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
