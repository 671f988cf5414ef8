package vehicle

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/parkir-api/internal/common"
	"github.com/noah-isme/parkir-api/internal/db"
	"github.com/noah-isme/parkir-api/internal/tariff"
)

var platePattern = regexp.MustCompile(`^[A-Z0-9-]{2,16}$`)

// Repository is the vehicle persistence used inside a unit of work.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Vehicle, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (Vehicle, error)
	Insert(ctx context.Context, v Vehicle) (Vehicle, error)
	SpotHolder(ctx context.Context, lotID uuid.UUID, spot string) (uuid.UUID, bool, error)
	SetSpot(ctx context.Context, id uuid.UUID, spot *string) (Vehicle, error)
	SetTariff(ctx context.Context, id uuid.UUID, tariffID *uuid.UUID) (Vehicle, error)
}

// TariffReader looks up catalog entries.
type TariffReader interface {
	Get(ctx context.Context, id uuid.UUID) (tariff.Tariff, error)
}

// Repos groups the repositories bound to one transaction.
type Repos struct {
	Vehicles Repository
	Tariffs  TariffReader
}

// UnitOfWork runs fn atomically.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// BillingTrigger schedules a billing pass for one vehicle.
type BillingTrigger interface {
	TriggerVehicle(ctx context.Context, vehicleID uuid.UUID)
}

// PgUnit runs repositories against a pgx transaction.
type PgUnit struct {
	Runner *db.Runner
}

// Do implements UnitOfWork.
func (u PgUnit) Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return u.Runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, Repos{Vehicles: NewStore(tx), Tariffs: tariff.NewStore(tx)})
	})
}

// RegisterInput describes a new vehicle.
type RegisterInput struct {
	Plate      string
	LotID      uuid.UUID
	Spot       string
	TariffID   *uuid.UUID
	OwnerID    *uuid.UUID
	OwnerName  string
	OwnerPhone string
}

// Service manages the vehicle registry.
type Service struct {
	UoW     UnitOfWork
	Trigger BillingTrigger
	Log     zerolog.Logger
}

// NormalizePlate upper-cases a plate and strips whitespace.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), ""))
}

// Register adds a vehicle to a lot.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Vehicle, error) {
	plate := NormalizePlate(in.Plate)
	if !platePattern.MatchString(plate) {
		return Vehicle{}, common.InvalidInput("INVALID_PLATE", "plate must be 2-16 letters, digits or dashes")
	}
	if in.LotID == uuid.Nil {
		return Vehicle{}, common.InvalidInput("INVALID_LOT", "lot_id is required")
	}
	spot := normalizeSpot(in.Spot)

	var created Vehicle
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		if in.TariffID != nil {
			if err := checkTariffLot(ctx, r.Tariffs, *in.TariffID, in.LotID); err != nil {
				return err
			}
		}
		if spot != nil {
			if _, taken, err := r.Vehicles.SpotHolder(ctx, in.LotID, *spot); err != nil {
				return err
			} else if taken {
				return spotTaken(*spot)
			}
		}
		v, err := r.Vehicles.Insert(ctx, Vehicle{
			Plate:      plate,
			LotID:      in.LotID,
			Spot:       spot,
			TariffID:   in.TariffID,
			OwnerID:    in.OwnerID,
			OwnerName:  strings.TrimSpace(in.OwnerName),
			OwnerPhone: strings.TrimSpace(in.OwnerPhone),
		})
		if err != nil {
			return translateUnique(err, plate, spot)
		}
		created = v
		return nil
	})
	if err != nil {
		return Vehicle{}, err
	}
	s.Log.Info().Str("vehicle_id", created.ID.String()).Str("plate", created.Plate).Msg("vehicle registered")
	s.trigger(ctx, created.ID)
	return created, nil
}

// Get loads a vehicle.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Vehicle, error) {
	var v Vehicle
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		got, err := r.Vehicles.Get(ctx, id)
		if err != nil {
			return notFound(err)
		}
		v = got
		return nil
	})
	return v, err
}

// AssignSpot gives the vehicle a spot in its lot. An empty spot releases the
// current assignment.
func (s *Service) AssignSpot(ctx context.Context, id uuid.UUID, spot string) (Vehicle, error) {
	normalized := normalizeSpot(spot)
	var updated Vehicle
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		v, err := r.Vehicles.GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if normalized != nil {
			holder, taken, err := r.Vehicles.SpotHolder(ctx, v.LotID, *normalized)
			if err != nil {
				return err
			}
			if taken && holder != v.ID {
				return spotTaken(*normalized)
			}
		}
		updated, err = r.Vehicles.SetSpot(ctx, v.ID, normalized)
		if err != nil {
			return translateUnique(err, v.Plate, normalized)
		}
		return nil
	})
	return updated, err
}

// ChangeTariff moves the vehicle onto another tariff of its lot.
func (s *Service) ChangeTariff(ctx context.Context, id, tariffID uuid.UUID) (Vehicle, error) {
	var updated Vehicle
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		v, err := r.Vehicles.GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if err := checkTariffLot(ctx, r.Tariffs, tariffID, v.LotID); err != nil {
			return err
		}
		updated, err = r.Vehicles.SetTariff(ctx, v.ID, &tariffID)
		return err
	})
	if err != nil {
		return Vehicle{}, err
	}
	s.trigger(ctx, updated.ID)
	return updated, nil
}

func (s *Service) trigger(ctx context.Context, id uuid.UUID) {
	if s.Trigger != nil {
		s.Trigger.TriggerVehicle(ctx, id)
	}
}

func checkTariffLot(ctx context.Context, tariffs TariffReader, tariffID, lotID uuid.UUID) error {
	t, err := tariffs.Get(ctx, tariffID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.NotFound("TARIFF_NOT_FOUND", "tariff not found")
		}
		return err
	}
	if t.LotID != lotID {
		return common.InvalidInput("TARIFF_LOT_MISMATCH", "tariff belongs to another lot")
	}
	return nil
}

func normalizeSpot(spot string) *string {
	trimmed := strings.ToUpper(strings.TrimSpace(spot))
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func spotTaken(spot string) error {
	return common.Conflict("SPOT_TAKEN", "spot already assigned to another vehicle").
		WithDetails(map[string]string{"spot": spot})
}

func translateUnique(err error, plate string, spot *string) error {
	switch {
	case db.IsUniqueViolation(err, ConstraintPlate):
		return common.Conflict("PLATE_TAKEN", "plate already registered").
			WithDetails(map[string]string{"plate": plate})
	case db.IsUniqueViolation(err, ConstraintSpot) && spot != nil:
		return spotTaken(*spot)
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NotFound("VEHICLE_NOT_FOUND", "vehicle not found")
	}
	return err
}
