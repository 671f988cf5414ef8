package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/common"
	"github.com/noah-isme/parkir-api/internal/db"
	"github.com/noah-isme/parkir-api/internal/obs"
)

const (
	byDayWindow          = 31
	defaultOccupancyDays = 7
	maxOccupancyDays     = 366
	defaultRowsPerPage   = 50
)

// Querier defines the reads the aggregator runs.
type Querier interface {
	RevenueTotal(ctx context.Context, f RevenueFilter) (decimal.Decimal, error)
	RevenueByDay(ctx context.Context, f RevenueFilter, tz string) ([]DayTotal, error)
	RevenueByService(ctx context.Context, f RevenueFilter) ([]ServiceTotal, error)
	RevenueRows(ctx context.Context, f RevenueFilter) ([]RevenueRow, int, error)
	PaidInvoiceTotal(ctx context.Context, lotID *uuid.UUID, from, to *time.Time) (decimal.Decimal, error)
	GetLot(ctx context.Context, id uuid.UUID) (Lot, error)
	Stays(ctx context.Context, lotID uuid.UUID, from, to time.Time) ([]Stay, error)
}

// RevenueQuery is the caller-facing revenue filter.
type RevenueQuery struct {
	LotID   *uuid.UUID
	From    *time.Time
	To      *time.Time
	Service string
	Page    int
	PerPage int
}

// OccupancyQuery is the caller-facing occupancy filter. From and To are
// calendar days in the report timezone, both inclusive.
type OccupancyQuery struct {
	LotID *uuid.UUID
	From  *time.Time
	To    *time.Time
}

// Service aggregates reports with a short-lived Redis cache in front.
type Service struct {
	Q       Querier
	R       *redis.Client
	TTL     time.Duration
	Loc     *time.Location
	Log     zerolog.Logger
	Now     func() time.Time
	Timeout time.Duration
}

// Revenue builds the revenue and session report.
func (s *Service) Revenue(ctx context.Context, q RevenueQuery) (RevenueReport, error) {
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return RevenueReport{}, common.InvalidInput("INVALID_RANGE", "from must be before to")
	}
	p := common.NormalizePage(q.Page, q.PerPage, defaultRowsPerPage)
	f := RevenueFilter{
		LotID:   q.LotID,
		From:    q.From,
		To:      q.To,
		Service: strings.TrimSpace(q.Service),
		Limit:   p.PerPage,
		Offset:  p.Offset(),
	}

	key := cacheKey("report", "revenue", optionalID(f.LotID), optionalTime(f.From), optionalTime(f.To),
		strings.ToLower(f.Service), p.Page, p.PerPage, s.location().String())
	var out RevenueReport
	if s.fromCache(ctx, "revenue", key, &out) {
		return out, nil
	}

	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()

	total, err := s.Q.RevenueTotal(ctx, f)
	if err != nil {
		return RevenueReport{}, db.MapError(err)
	}
	invoiceTotal, err := s.Q.PaidInvoiceTotal(ctx, f.LotID, f.From, f.To)
	if err != nil {
		return RevenueReport{}, db.MapError(err)
	}
	days, err := s.Q.RevenueByDay(ctx, f, s.location().String())
	if err != nil {
		return RevenueReport{}, db.MapError(err)
	}
	services, err := s.Q.RevenueByService(ctx, f)
	if err != nil {
		return RevenueReport{}, db.MapError(err)
	}
	rows, count, err := s.Q.RevenueRows(ctx, f)
	if err != nil {
		return RevenueReport{}, db.MapError(err)
	}
	p.TotalItems = count

	out = RevenueReport{
		Total:        total,
		InvoiceTotal: invoiceTotal,
		ByDay:        latestDays(days, byDayWindow),
		ByService:    rankServices(services),
		Rows:         rows,
		Pagination:   p,
		GeneratedAt:  s.now(),
	}
	if out.Rows == nil {
		out.Rows = []RevenueRow{}
	}
	s.store(ctx, key, out)
	return out, nil
}

// Occupancy builds the daily occupancy of one lot.
func (s *Service) Occupancy(ctx context.Context, q OccupancyQuery) (OccupancyReport, error) {
	if q.LotID == nil {
		return OccupancyReport{}, common.InvalidInput("MISSING_PARAMETER", "lot_id is required").
			WithDetails(map[string]string{"parameter": "lot_id"})
	}
	loc := s.location()
	today := startOfDay(s.now(), loc)
	to := today
	if q.To != nil {
		to = startOfDay(*q.To, loc)
	}
	from := to.AddDate(0, 0, -(defaultOccupancyDays - 1))
	if q.From != nil {
		from = startOfDay(*q.From, loc)
	}
	if from.After(to) {
		return OccupancyReport{}, common.InvalidInput("INVALID_RANGE", "from must not be after to")
	}
	if dayCount(from, to) > maxOccupancyDays {
		return OccupancyReport{}, common.InvalidInput("INVALID_RANGE", fmt.Sprintf("range is limited to %d days", maxOccupancyDays))
	}

	key := cacheKey("report", "occupancy", q.LotID.String(), from.Format(time.DateOnly), to.Format(time.DateOnly), loc.String())
	var out OccupancyReport
	if s.fromCache(ctx, "occupancy", key, &out) {
		return out, nil
	}

	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()

	lot, err := s.Q.GetLot(ctx, *q.LotID)
	if errors.Is(err, pgx.ErrNoRows) {
		return OccupancyReport{}, common.NotFound("LOT_NOT_FOUND", "lot not found")
	}
	if err != nil {
		return OccupancyReport{}, db.MapError(err)
	}
	if lot.Capacity == nil || *lot.Capacity <= 0 {
		return OccupancyReport{}, common.InvalidInput("MISSING_CAPACITY", "lot has no capacity configured").
			WithDetails(map[string]string{"lot_id": lot.ID.String()})
	}
	stays, err := s.Q.Stays(ctx, lot.ID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return OccupancyReport{}, db.MapError(err)
	}

	out = OccupancyReport{
		LotID:       lot.ID,
		LotName:     lot.Name,
		Capacity:    *lot.Capacity,
		From:        from.Format(time.DateOnly),
		To:          to.Format(time.DateOnly),
		Days:        DailyOccupancy(stays, from, to, *lot.Capacity),
		GeneratedAt: s.now(),
	}
	sum := 0
	for _, d := range out.Days {
		sum += d.Percentage
		if d.Percentage > out.Peak {
			out.Peak = d.Percentage
		}
	}
	if len(out.Days) > 0 {
		out.Average = int(math.Round(float64(sum) / float64(len(out.Days))))
	}
	s.store(ctx, key, out)
	return out, nil
}

// DailyOccupancy counts distinct vehicles present on each day from first to
// last inclusive. A vehicle is present on a day when it entered before the
// day ended and had not left before it began.
func DailyOccupancy(stays []Stay, first, last time.Time, capacity int) []OccupancyDay {
	out := []OccupancyDay{}
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		present := map[uuid.UUID]struct{}{}
		for _, st := range stays {
			if !st.EntryTime.Before(next) {
				continue
			}
			if st.ExitTime != nil && !st.ExitTime.After(day) {
				continue
			}
			present[st.VehicleID] = struct{}{}
		}
		out = append(out, OccupancyDay{
			Day:        day.Format(time.DateOnly),
			Occupied:   len(present),
			Percentage: percentage(len(present), capacity),
		})
	}
	return out
}

func percentage(occupied, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return int(math.Round(float64(occupied) / float64(capacity) * 100))
}

// latestDays keeps the most recent n days in chronological order.
func latestDays(days []DayTotal, n int) []DayTotal {
	out := append([]DayTotal{}, days...)
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// rankServices orders services by revenue, highest first.
func rankServices(services []ServiceTotal) []ServiceTotal {
	out := append([]ServiceTotal{}, services...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Service < out[j].Service
	})
	return out
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func dayCount(from, to time.Time) int {
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		n++
		if n > maxOccupancyDays {
			break
		}
	}
	return n
}

func (s *Service) location() *time.Location {
	if s.Loc != nil {
		return s.Loc
	}
	return time.UTC
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	sum := sha256.Sum256([]byte(strings.Join(formatted[2:], "|")))
	return strings.Join(formatted[:2], ":") + ":" + hex.EncodeToString(sum[:12])
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *Service) fromCache(ctx context.Context, report, key string, dst any) bool {
	if s.R == nil || s.TTL <= 0 {
		return false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.Log.Warn().Err(err).Str("report", report).Msg("report cache read failed")
		}
		obs.ObserveReportCache(report, "miss")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		obs.ObserveReportCache(report, "miss")
		return false
	}
	obs.ObserveReportCache(report, "hit")
	return true
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.R.Set(ctx, key, data, s.TTL).Err(); err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("report cache write failed")
	}
}
