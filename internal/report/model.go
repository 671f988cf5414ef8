package report

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/common"
)

// Unassigned labels sessions that carried no tariff.
const Unassigned = "unassigned"

// Lot is the part of a lot reports need.
type Lot struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Capacity *int      `json:"capacity,omitempty"`
}

// RevenueFilter narrows the revenue report. From is inclusive, To exclusive.
type RevenueFilter struct {
	LotID   *uuid.UUID
	From    *time.Time
	To      *time.Time
	Service string
	Limit   int
	Offset  int
}

// DayTotal is revenue for one calendar day.
type DayTotal struct {
	Day      string          `json:"day"`
	Total    decimal.Decimal `json:"total"`
	Sessions int             `json:"sessions"`
}

// ServiceTotal is revenue for one tariff.
type ServiceTotal struct {
	Service  string          `json:"service"`
	Total    decimal.Decimal `json:"total"`
	Sessions int             `json:"sessions"`
}

// RevenueRow is one session in the revenue listing.
type RevenueRow struct {
	SessionID     uuid.UUID       `json:"session_id"`
	VehicleID     uuid.UUID       `json:"vehicle_id"`
	LotID         uuid.UUID       `json:"lot_id"`
	Plate         string          `json:"plate"`
	Service       string          `json:"service"`
	DurationClass string          `json:"duration_class,omitempty"`
	EntryTime     time.Time       `json:"entry_time"`
	ExitTime      *time.Time      `json:"exit_time,omitempty"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	NeedsReview   bool            `json:"needs_review"`
}

// RevenueReport is the revenue and session summary.
type RevenueReport struct {
	Total        decimal.Decimal   `json:"total"`
	InvoiceTotal decimal.Decimal   `json:"invoiceTotal"`
	ByDay        []DayTotal        `json:"byDay"`
	ByService    []ServiceTotal    `json:"byService"`
	Rows         []RevenueRow      `json:"rows"`
	Pagination   common.Pagination `json:"pagination"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// Stay is the occupancy footprint of one session.
type Stay struct {
	VehicleID uuid.UUID
	EntryTime time.Time
	ExitTime  *time.Time
}

// OccupancyDay is occupancy for one calendar day.
type OccupancyDay struct {
	Day        string `json:"day"`
	Occupied   int    `json:"occupied"`
	Percentage int    `json:"percentage"`
}

// OccupancyReport is daily occupancy of a lot.
type OccupancyReport struct {
	LotID       uuid.UUID      `json:"lot_id"`
	LotName     string         `json:"lot_name"`
	Capacity    int            `json:"capacity"`
	From        string         `json:"from"`
	To          string         `json:"to"`
	Days        []OccupancyDay `json:"days"`
	Peak        int            `json:"peak_percentage"`
	Average     int            `json:"average_percentage"`
	GeneratedAt time.Time      `json:"generated_at"`
}
