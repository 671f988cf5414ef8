package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/common"
	"github.com/noah-isme/parkir-api/internal/db"
	"github.com/noah-isme/parkir-api/internal/events"
	"github.com/noah-isme/parkir-api/internal/obs"
	"github.com/noah-isme/parkir-api/internal/vehicle"
)

const manualDueDays = 7

// Repository is the invoice persistence used by billing.
type Repository interface {
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	GetSubscription(ctx context.Context, vehicleID uuid.UUID) (Subscription, error)
	LastPeriodicDueAt(ctx context.Context, vehicleID, tariffID uuid.UUID) (*time.Time, error)
	InsertPeriodic(ctx context.Context, inv Invoice) (Invoice, bool, error)
	InsertManual(ctx context.Context, inv Invoice) (Invoice, error)
	InsertLineItem(ctx context.Context, item LineItem) (LineItem, error)
	LineItems(ctx context.Context, invoiceID uuid.UUID) ([]LineItem, error)
	Get(ctx context.Context, id uuid.UUID) (Invoice, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error)
	MarkPaid(ctx context.Context, id uuid.UUID, method PaymentMethod, at time.Time) (Invoice, error)
	MarkOverdue(ctx context.Context, cutoff time.Time) ([]Invoice, error)
	List(ctx context.Context, f ListFilter) ([]Invoice, int, error)
}

// VehicleReader looks up the vehicle a manual invoice is raised against.
type VehicleReader interface {
	Get(ctx context.Context, id uuid.UUID) (vehicle.Vehicle, error)
}

// Repos groups everything bound to one transaction.
type Repos struct {
	Invoices Repository
	Vehicles VehicleReader
	Events   events.Emitter
}

// UnitOfWork runs fn atomically.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// PgUnit binds repositories and the outbox to a pgx transaction.
type PgUnit struct {
	Runner *db.Runner
	Bus    *events.Bus
}

// Do implements UnitOfWork.
func (u PgUnit) Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return u.Runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, Repos{
			Invoices: NewStore(tx),
			Vehicles: vehicle.NewStore(tx),
			Events:   u.Bus.Bind(tx),
		})
	})
}

// ManualItem is one requested line of a manual invoice.
type ManualItem struct {
	Description string          `json:"description" validate:"required,max=200"`
	Quantity    int             `json:"quantity" validate:"required,min=1,max=10000"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// ManualInput is the payload of an operator-entered invoice.
type ManualInput struct {
	VehicleID uuid.UUID    `json:"vehicle_id" validate:"required"`
	DueAt     *time.Time   `json:"due_at,omitempty"`
	Items     []ManualItem `json:"items" validate:"required,min=1,max=50,dive"`
}

// Service exposes invoice queries and payment.
type Service struct {
	UoW     UnitOfWork
	Reader  Repository
	Log     zerolog.Logger
	Now     func() time.Time
	Timeout time.Duration
}

// MarkPaid settles a pending or overdue invoice.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, method PaymentMethod) (Invoice, error) {
	method = PaymentMethod(strings.ToLower(strings.TrimSpace(string(method))))
	if method == "" {
		return Invoice{}, common.InvalidInput("MISSING_PARAMETER", "method is required")
	}
	if !method.Valid() {
		return Invoice{}, common.InvalidInput("INVALID_PAYMENT_METHOD", "unsupported payment method").
			WithDetails(map[string]string{"method": string(method)})
	}
	now := s.now()

	var paid Invoice
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		inv, err := r.Invoices.GetForUpdate(ctx, id)
		if err != nil {
			return invoiceNotFound(err)
		}
		if inv.Status == StatusPaid {
			return alreadyPaid(inv)
		}
		paid, err = r.Invoices.MarkPaid(ctx, inv.ID, method, now)
		if errors.Is(err, pgx.ErrNoRows) {
			return alreadyPaid(inv)
		}
		if err != nil {
			return err
		}
		if paid.Items, err = r.Invoices.LineItems(ctx, paid.ID); err != nil {
			return err
		}
		r.Events.Emit(ctx, events.TopicInvoicePaid, paid.ID, invoicePayload(paid))
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	obs.ObserveInvoice("paid", string(paid.Source))
	s.Log.Info().
		Str("invoice_id", paid.ID.String()).
		Str("vehicle_id", paid.VehicleID.String()).
		Str("method", string(method)).
		Msg("invoice paid")
	return paid, nil
}

// CreateManual raises an ad-hoc invoice with its line items.
func (s *Service) CreateManual(ctx context.Context, in ManualInput) (Invoice, error) {
	if err := common.Validate(in); err != nil {
		return Invoice{}, err
	}
	total := decimal.Zero
	items := make([]LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		if it.UnitPrice.IsNegative() {
			return Invoice{}, common.InvalidInput("INVALID_AMOUNT", "unit_price must not be negative")
		}
		price := it.UnitPrice.Round(2)
		subtotal := price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		total = total.Add(subtotal)
		items = append(items, LineItem{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   price,
			Subtotal:    subtotal,
		})
	}
	now := s.now()
	due := now.AddDate(0, 0, manualDueDays)
	if in.DueAt != nil {
		due = in.DueAt.UTC()
		if !due.After(now) {
			return Invoice{}, common.InvalidInput("INVALID_DUE_DATE", "due_at must be in the future")
		}
	}

	var created Invoice
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		v, err := r.Vehicles.Get(ctx, in.VehicleID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.NotFound("VEHICLE_NOT_FOUND", "vehicle not found")
			}
			return err
		}
		created, err = r.Invoices.InsertManual(ctx, Invoice{
			VehicleID: v.ID,
			LotID:     v.LotID,
			TariffID:  v.TariffID,
			OwnerID:   v.OwnerID,
			Total:     total,
			CreatedAt: now,
			DueAt:     due,
		})
		if err != nil {
			return err
		}
		created.Items = make([]LineItem, 0, len(items))
		for _, item := range items {
			item.InvoiceID = created.ID
			stored, err := r.Invoices.InsertLineItem(ctx, item)
			if err != nil {
				return err
			}
			created.Items = append(created.Items, stored)
		}
		r.Events.Emit(ctx, events.TopicInvoiceCreated, created.ID, invoicePayload(created))
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	obs.ObserveInvoice("created", string(SourceManual))
	s.Log.Info().Str("invoice_id", created.ID.String()).Str("vehicle_id", created.VehicleID.String()).Msg("manual invoice created")
	return created, nil
}

// Get returns an invoice with its line items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Invoice, error) {
	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()
	inv, err := s.Reader.Get(ctx, id)
	if err != nil {
		return Invoice{}, db.MapError(invoiceNotFound(err))
	}
	if inv.Items, err = s.Reader.LineItems(ctx, id); err != nil {
		return Invoice{}, db.MapError(err)
	}
	return inv, nil
}

// List returns a page of invoices.
func (s *Service) List(ctx context.Context, vehicleID *uuid.UUID, status *Status, page, perPage int) ([]Invoice, common.Pagination, error) {
	if status != nil && !status.Valid() {
		return nil, common.Pagination{}, common.InvalidInput("INVALID_STATUS", "unknown invoice status")
	}
	p := common.NormalizePage(page, perPage, 20)
	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()
	items, total, err := s.Reader.List(ctx, ListFilter{VehicleID: vehicleID, Status: status, Limit: p.PerPage, Offset: p.Offset()})
	if err != nil {
		return nil, p, db.MapError(err)
	}
	if items == nil {
		items = []Invoice{}
	}
	p.TotalItems = total
	return items, p, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func invoicePayload(inv Invoice) map[string]any {
	payload := map[string]any{
		"invoice_id": inv.ID,
		"vehicle_id": inv.VehicleID,
		"lot_id":     inv.LotID,
		"source":     inv.Source,
		"status":     inv.Status,
		"total":      inv.Total,
		"created_at": inv.CreatedAt,
		"due_at":     inv.DueAt,
	}
	if inv.OwnerID != nil {
		payload["owner_id"] = *inv.OwnerID
	}
	if inv.TariffID != nil {
		payload["tariff_id"] = *inv.TariffID
	}
	if inv.PaidAt != nil {
		payload["paid_at"] = *inv.PaidAt
	}
	if inv.PaymentMethod != nil {
		payload["payment_method"] = *inv.PaymentMethod
	}
	return payload
}

func alreadyPaid(inv Invoice) error {
	details := map[string]any{"invoice_id": inv.ID}
	if inv.PaidAt != nil {
		details["paid_at"] = *inv.PaidAt
	}
	return common.Conflict("INVOICE_ALREADY_PAID", "invoice already paid").WithDetails(details)
}

func invoiceNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NotFound("INVOICE_NOT_FOUND", "invoice not found")
	}
	return err
}
