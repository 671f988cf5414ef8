package tariff

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Class is the duration class of a tariff.
type Class string

const (
	ClassMinute Class = "minute"
	ClassHour   Class = "hour"
	ClassDay    Class = "day"
	ClassPeriod Class = "period"
)

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	switch c {
	case ClassMinute, ClassHour, ClassDay, ClassPeriod:
		return true
	}
	return false
}

// PerUse reports whether the class is billed per elapsed time unit.
func (c Class) PerUse() bool {
	return c == ClassMinute || c == ClassHour || c == ClassDay
}

// Tariff is one priced service in a lot catalog.
type Tariff struct {
	ID              uuid.UUID       `json:"id"`
	LotID           uuid.UUID       `json:"lot_id"`
	Name            string          `json:"name"`
	Class           Class           `json:"duration_class"`
	Rate            decimal.Decimal `json:"rate"`
	CycleLengthDays *int            `json:"cycle_length_days,omitempty"`
	Seq             int64           `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsPeriod reports whether the tariff bills by subscription cycle.
func (t Tariff) IsPeriod() bool {
	return t.Class == ClassPeriod
}

// CycleLength returns the stored cycle length or fallback when unset.
func (t Tariff) CycleLength(fallback int) int {
	if t.CycleLengthDays != nil {
		return *t.CycleLengthDays
	}
	return fallback
}
