package tariff

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/common"
	"github.com/noah-isme/parkir-api/internal/db"
)

// Querier captures the persistence operations used by the catalog service.
type Querier interface {
	Get(ctx context.Context, id uuid.UUID) (Tariff, error)
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]Tariff, error)
	Insert(ctx context.Context, t Tariff) (Tariff, error)
	UpdateRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (Tariff, error)
}

// CreateInput describes a new catalog entry.
type CreateInput struct {
	LotID           uuid.UUID
	Name            string
	Class           Class
	Rate            decimal.Decimal
	CycleLengthDays *int
}

// Service manages lot catalogs.
type Service struct {
	Q       Querier
	Timeout time.Duration
}

// Create validates and inserts a catalog entry.
func (s *Service) Create(ctx context.Context, in CreateInput) (Tariff, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Tariff{}, common.InvalidInput("INVALID_NAME", "name is required")
	}
	if !in.Class.Valid() {
		return Tariff{}, common.InvalidInput("INVALID_DURATION_CLASS", "duration_class must be one of minute, hour, day, period")
	}
	if in.Rate.IsNegative() {
		return Tariff{}, common.InvalidInput("INVALID_RATE", "rate must not be negative")
	}
	if in.Class == ClassPeriod {
		if in.CycleLengthDays == nil || *in.CycleLengthDays <= 0 {
			return Tariff{}, common.InvalidInput("INVALID_CYCLE_LENGTH", "period tariffs need cycle_length_days greater than zero")
		}
	} else if in.CycleLengthDays != nil {
		return Tariff{}, common.InvalidInput("INVALID_CYCLE_LENGTH", "cycle_length_days only applies to period tariffs")
	}

	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()
	created, err := s.Q.Insert(ctx, Tariff{
		LotID:           in.LotID,
		Name:            name,
		Class:           in.Class,
		Rate:            in.Rate.Round(2),
		CycleLengthDays: in.CycleLengthDays,
	})
	if err != nil {
		return Tariff{}, db.MapError(err)
	}
	return created, nil
}

// List returns the catalog of a lot in catalog order.
func (s *Service) List(ctx context.Context, lotID uuid.UUID) ([]Tariff, error) {
	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()
	items, err := s.Q.ListByLot(ctx, lotID)
	if err != nil {
		return nil, db.MapError(err)
	}
	if items == nil {
		items = []Tariff{}
	}
	return items, nil
}

// Get loads one tariff.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tariff, error) {
	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()
	t, err := s.Q.Get(ctx, id)
	if err != nil {
		return Tariff{}, notFound(err)
	}
	return t, nil
}

// UpdateRate changes the price of a catalog entry. Vehicles pick the new rate
// up through resolution on their next entry.
func (s *Service) UpdateRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (Tariff, error) {
	if rate.IsNegative() {
		return Tariff{}, common.InvalidInput("INVALID_RATE", "rate must not be negative")
	}
	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()
	t, err := s.Q.UpdateRate(ctx, id, rate.Round(2))
	if err != nil {
		return Tariff{}, notFound(err)
	}
	return t, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NotFound("TARIFF_NOT_FOUND", "tariff not found")
	}
	return db.MapError(err)
}
