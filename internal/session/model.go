package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Session is one vehicle visit.
type Session struct {
	ID          uuid.UUID        `json:"id"`
	VehicleID   uuid.UUID        `json:"vehicle_id"`
	LotID       uuid.UUID        `json:"lot_id"`
	TariffID    *uuid.UUID       `json:"tariff_id,omitempty"`
	Plate       string           `json:"plate,omitempty"`
	EntryTime   time.Time        `json:"entry_time"`
	ExitTime    *time.Time       `json:"exit_time,omitempty"`
	AmountPaid  *decimal.Decimal `json:"amount_paid,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	NeedsReview bool             `json:"needs_review"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Open reports whether the session has no exit yet.
func (s Session) Open() bool {
	return s.ExitTime == nil
}

// Filter narrows session listings.
type Filter struct {
	LotID  *uuid.UUID
	Limit  int
	Offset int
}

// Closing carries the values written when a session ends.
type Closing struct {
	ExitTime    time.Time
	Amount      decimal.Decimal
	NeedsReview bool
}
