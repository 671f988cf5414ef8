package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the payment state of an invoice.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusPaid || s == StatusOverdue
}

// Source tells generated invoices apart from operator-entered ones.
type Source string

const (
	SourcePeriodic Source = "periodic"
	SourceManual   Source = "manual"
)

// PaymentMethod records how an invoice was settled.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
	MethodEWallet  PaymentMethod = "ewallet"
	MethodOther    PaymentMethod = "other"
)

// Valid reports whether m is an accepted method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodEWallet, MethodOther:
		return true
	}
	return false
}

// Invoice is a billable record for one cycle or an ad-hoc charge.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	VehicleID     uuid.UUID       `json:"vehicle_id"`
	LotID         uuid.UUID       `json:"lot_id"`
	TariffID      *uuid.UUID      `json:"tariff_id,omitempty"`
	OwnerID       *uuid.UUID      `json:"owner_id,omitempty"`
	Source        Source          `json:"source"`
	Total         decimal.Decimal `json:"total"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	DueAt         time.Time       `json:"due_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	PaymentMethod *PaymentMethod  `json:"payment_method,omitempty"`
	Items         []LineItem      `json:"items,omitempty"`
}

// LineItem is one priced row of an invoice.
type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Subscription is a vehicle on a period tariff together with what billing needs to know.
type Subscription struct {
	VehicleID       uuid.UUID
	LotID           uuid.UUID
	OwnerID         *uuid.UUID
	Plate           string
	RegisteredAt    time.Time
	TariffID        uuid.UUID
	TariffName      string
	Rate            decimal.Decimal
	CycleLengthDays *int
}

// Summary reports the outcome of a generator pass.
type Summary struct {
	Vehicles      int `json:"vehicles"`
	Created       int `json:"created"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	MarkedOverdue int `json:"marked_overdue"`
}

// Add merges o into s.
func (s *Summary) Add(o Summary) {
	s.Vehicles += o.Vehicles
	s.Created += o.Created
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.MarkedOverdue += o.MarkedOverdue
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	VehicleID *uuid.UUID
	Status    *Status
	Limit     int
	Offset    int
}
