package fee

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/common"
	"github.com/noah-isme/parkir-api/internal/tariff"
)

const (
	minutesPerHour = 60
	minutesPerDay  = 24 * minutesPerHour
)

// ErrElapsedTimeNegative is returned when exit precedes entry.
var ErrElapsedTimeNegative = common.InvalidInput("ELAPSED_TIME_NEGATIVE", "exit time is before entry time")

// Rates are the per-unit prices applied to elapsed time. Zero values charge nothing.
type Rates struct {
	Minute decimal.Decimal `json:"rate_minute"`
	Hour   decimal.Decimal `json:"rate_hour"`
	Day    decimal.Decimal `json:"rate_day"`
}

// Breakdown is the elapsed time split into whole units plus the owed amount.
type Breakdown struct {
	Days    int64           `json:"days"`
	Hours   int64           `json:"hours"`
	Minutes int64           `json:"minutes"`
	Amount  decimal.Decimal `json:"amount"`
}

// Calculate prices the stay between entry and exit. Partial minutes are not charged.
func Calculate(entry, exit time.Time, r Rates) (Breakdown, error) {
	if exit.Before(entry) {
		return Breakdown{}, ErrElapsedTimeNegative
	}
	total := int64(exit.Sub(entry) / time.Minute)
	b := Breakdown{
		Days:    total / minutesPerDay,
		Hours:   (total % minutesPerDay) / minutesPerHour,
		Minutes: total % minutesPerHour,
	}
	b.Amount = nonNegative(r.Day).Mul(decimal.NewFromInt(b.Days)).
		Add(nonNegative(r.Hour).Mul(decimal.NewFromInt(b.Hours))).
		Add(nonNegative(r.Minute).Mul(decimal.NewFromInt(b.Minutes))).
		Round(2)
	return b, nil
}

// RatesFromCatalog takes the first catalog entry of each per-use class.
func RatesFromCatalog(catalog []tariff.Tariff) Rates {
	var r Rates
	var haveMinute, haveHour, haveDay bool
	for _, t := range catalog {
		switch {
		case t.Class == tariff.ClassMinute && !haveMinute:
			r.Minute, haveMinute = t.Rate, true
		case t.Class == tariff.ClassHour && !haveHour:
			r.Hour, haveHour = t.Rate, true
		case t.Class == tariff.ClassDay && !haveDay:
			r.Day, haveDay = t.Rate, true
		}
	}
	return r
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
