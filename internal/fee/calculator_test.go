package fee

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/common"
	"github.com/noah-isme/parkir-api/internal/tariff"
)

func at(day, hour, minute, second int) time.Time {
	return time.Date(2026, 5, 1+day, hour, minute, second, 0, time.UTC)
}

func TestCalculate(t *testing.T) {
	cases := []struct {
		name    string
		entry   time.Time
		exit    time.Time
		rates   Rates
		amount  int64
		days    int64
		hours   int64
		minutes int64
	}{
		{"forty five minutes per minute", at(0, 10, 0, 0), at(0, 10, 45, 0), Rates{Minute: decimal.NewFromInt(200)}, 9000, 0, 0, 45},
		{"two days per day", at(0, 9, 0, 0), at(2, 9, 0, 0), Rates{Day: decimal.NewFromInt(20000)}, 40000, 2, 0, 0},
		{"mixed units", at(0, 8, 0, 0), at(1, 10, 15, 0), Rates{Minute: decimal.NewFromInt(100), Hour: decimal.NewFromInt(3000), Day: decimal.NewFromInt(25000)}, 25000 + 2*3000 + 15*100, 1, 2, 15},
		{"partial minute not charged", at(0, 10, 0, 0), at(0, 10, 0, 59), Rates{Minute: decimal.NewFromInt(200)}, 0, 0, 0, 0},
		{"missing rates are zero", at(0, 10, 0, 0), at(0, 13, 30, 0), Rates{Minute: decimal.NewFromInt(10)}, 300, 0, 3, 30},
		{"zero elapsed", at(0, 10, 0, 0), at(0, 10, 0, 0), Rates{Minute: decimal.NewFromInt(200)}, 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Calculate(tc.entry, tc.exit, tc.rates)
			require.NoError(t, err)
			require.True(t, decimal.NewFromInt(tc.amount).Equal(b.Amount), "amount %s", b.Amount)
			require.Equal(t, tc.days, b.Days)
			require.Equal(t, tc.hours, b.Hours)
			require.Equal(t, tc.minutes, b.Minutes)
		})
	}
}

func TestCalculateRejectsNegativeElapsed(t *testing.T) {
	_, err := Calculate(at(0, 10, 0, 0), at(0, 9, 59, 0), Rates{Minute: decimal.NewFromInt(200)})
	require.ErrorIs(t, err, ErrElapsedTimeNegative)
	require.Equal(t, common.KindInvalidInput, common.KindOf(err))
}

func TestCalculateIgnoresNegativeRates(t *testing.T) {
	b, err := Calculate(at(0, 10, 0, 0), at(0, 11, 0, 0), Rates{Hour: decimal.NewFromInt(-500)})
	require.NoError(t, err)
	require.True(t, b.Amount.IsZero())
}

func TestRatesFromCatalogTakesFirstPerClass(t *testing.T) {
	catalog := []tariff.Tariff{
		{Class: tariff.ClassPeriod, Rate: decimal.NewFromInt(300000)},
		{Class: tariff.ClassHour, Rate: decimal.NewFromInt(5000)},
		{Class: tariff.ClassMinute, Rate: decimal.NewFromInt(200)},
		{Class: tariff.ClassHour, Rate: decimal.NewFromInt(9999)},
	}
	r := RatesFromCatalog(catalog)
	require.True(t, r.Minute.Equal(decimal.NewFromInt(200)))
	require.True(t, r.Hour.Equal(decimal.NewFromInt(5000)))
	require.True(t, r.Day.IsZero())
}
