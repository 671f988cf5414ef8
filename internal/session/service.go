package session

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
	"github.com/noah-isme/parkir-api/internal/fee"
	"github.com/noah-isme/parkir-api/internal/obs"
	"github.com/noah-isme/parkir-api/internal/tariff"
	"github.com/noah-isme/parkir-api/internal/vehicle"
)

const maxNotesLength = 500

// Repository is the session persistence used by the service.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Session, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (Session, error)
	OpenForVehicle(ctx context.Context, vehicleID uuid.UUID) (Session, bool, error)
	Insert(ctx context.Context, s Session) (Session, error)
	Close(ctx context.Context, id uuid.UUID, c Closing) (Session, error)
	Delete(ctx context.Context, id uuid.UUID) (Session, error)
	ListOpen(ctx context.Context, lotID *uuid.UUID) ([]Session, error)
	History(ctx context.Context, f Filter) ([]Session, int, error)
}

// VehicleRepository is the slice of the registry needed on entry and exit.
type VehicleRepository interface {
	Get(ctx context.Context, id uuid.UUID) (vehicle.Vehicle, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (vehicle.Vehicle, error)
	SetTariff(ctx context.Context, id uuid.UUID, tariffID *uuid.UUID) (vehicle.Vehicle, error)
}

// CatalogReader reads lot catalogs.
type CatalogReader interface {
	Get(ctx context.Context, id uuid.UUID) (tariff.Tariff, error)
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]tariff.Tariff, error)
}

// Repos groups everything bound to one transaction.
type Repos struct {
	Sessions Repository
	Vehicles VehicleRepository
	Tariffs  CatalogReader
	Events   events.Emitter
}

// UnitOfWork runs fn atomically.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// BillingTrigger schedules a billing pass for one vehicle.
type BillingTrigger interface {
	TriggerVehicle(ctx context.Context, vehicleID uuid.UUID)
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
			Sessions: NewStore(tx),
			Vehicles: vehicle.NewStore(tx),
			Tariffs:  tariff.NewStore(tx),
			Events:   u.Bus.Bind(tx),
		})
	})
}

// Service runs the session lifecycle.
type Service struct {
	UoW     UnitOfWork
	Reader  Repository
	Trigger BillingTrigger
	Log     zerolog.Logger
	Now     func() time.Time
	Timeout time.Duration
}

// Entry opens a session for the vehicle after resolving its tariff.
func (s *Service) Entry(ctx context.Context, vehicleID uuid.UUID, notes string) (Session, error) {
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLength {
		return Session{}, common.InvalidInput("INVALID_NOTES", "notes are too long")
	}
	now := s.now()

	var opened Session
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		v, err := r.Vehicles.GetForUpdate(ctx, vehicleID)
		if err != nil {
			return vehicleNotFound(err)
		}
		if existing, open, err := r.Sessions.OpenForVehicle(ctx, v.ID); err != nil {
			return err
		} else if open {
			return alreadyOpen(existing.ID)
		}

		current, err := currentTariff(ctx, r.Tariffs, v.TariffID)
		if err != nil {
			return err
		}
		catalog, err := r.Tariffs.ListByLot(ctx, v.LotID)
		if err != nil {
			return err
		}
		decision := tariff.Resolve(current, catalog)
		if decision.Changed {
			if _, err := r.Vehicles.SetTariff(ctx, v.ID, &decision.Tariff.ID); err != nil {
				return err
			}
			s.Log.Info().
				Str("vehicle_id", v.ID.String()).
				Str("tariff_id", decision.Tariff.ID.String()).
				Str("duration_class", string(decision.Tariff.Class)).
				Msg("vehicle tariff resolved on entry")
		}

		var tariffID *uuid.UUID
		if decision.Tariff != nil {
			id := decision.Tariff.ID
			tariffID = &id
		}
		opened, err = r.Sessions.Insert(ctx, Session{
			VehicleID: v.ID,
			LotID:     v.LotID,
			TariffID:  tariffID,
			EntryTime: now,
			Notes:     notes,
		})
		if err != nil {
			if db.IsUniqueViolation(err, ConstraintOneOpen) {
				return alreadyOpen(uuid.Nil)
			}
			return err
		}
		if opened.Plate == "" {
			opened.Plate = v.Plate
		}
		r.Events.Emit(ctx, events.TopicSessionOpened, opened.ID, eventPayload(opened))
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	obs.ObserveSession("opened")
	s.Log.Info().Str("session_id", opened.ID.String()).Str("vehicle_id", opened.VehicleID.String()).Msg("session opened")
	s.trigger(ctx, opened.VehicleID)
	return opened, nil
}

// Exit closes an open session. A nil paid amount is computed from the lot
// catalog. Subscribers on a period tariff always exit at zero.
func (s *Service) Exit(ctx context.Context, sessionID uuid.UUID, paid *decimal.Decimal) (Session, error) {
	if paid != nil && paid.IsNegative() {
		return Session{}, common.InvalidInput("INVALID_AMOUNT", "paid_amount must not be negative")
	}
	now := s.now()

	var closed Session
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		sess, err := r.Sessions.GetForUpdate(ctx, sessionID)
		if err != nil {
			return sessionNotFound(err)
		}
		if !sess.Open() {
			return common.Conflict("SESSION_CLOSED", "session already closed").
				WithDetails(map[string]any{"exit_time": sess.ExitTime})
		}
		v, err := r.Vehicles.Get(ctx, sess.VehicleID)
		if err != nil {
			return vehicleNotFound(err)
		}
		current, err := currentTariff(ctx, r.Tariffs, v.TariffID)
		if err != nil {
			return err
		}

		exitTime := now
		if exitTime.Before(sess.EntryTime) {
			return fee.ErrElapsedTimeNegative
		}
		periodic := current != nil && current.IsPeriod()
		var amount decimal.Decimal
		switch {
		case periodic:
			amount = decimal.Zero
		case paid != nil:
			amount = paid.Round(2)
		default:
			catalog, err := r.Tariffs.ListByLot(ctx, sess.LotID)
			if err != nil {
				return err
			}
			breakdown, err := fee.Calculate(sess.EntryTime, exitTime, fee.RatesFromCatalog(catalog))
			if err != nil {
				return err
			}
			amount = breakdown.Amount
		}
		review := !periodic && amount.IsZero()

		closed, err = r.Sessions.Close(ctx, sess.ID, Closing{ExitTime: exitTime, Amount: amount, NeedsReview: review})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.Conflict("SESSION_CLOSED", "session already closed")
			}
			return err
		}
		if closed.Plate == "" {
			closed.Plate = v.Plate
		}
		r.Events.Emit(ctx, events.TopicSessionClosed, closed.ID, eventPayload(closed))
		if review {
			r.Events.Emit(ctx, events.TopicSessionReviewRequired, closed.ID, eventPayload(closed))
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	obs.ObserveSession("closed")
	if closed.NeedsReview {
		obs.ObserveSession("flagged")
		s.Log.Warn().
			Str("session_id", closed.ID.String()).
			Str("vehicle_id", closed.VehicleID.String()).
			Msg("pay-per-use session closed with zero amount, flagged for review")
	}
	s.trigger(ctx, closed.VehicleID)
	return closed, nil
}

// Delete removes a session regardless of its state.
func (s *Service) Delete(ctx context.Context, sessionID uuid.UUID) error {
	var deleted Session
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		sess, err := r.Sessions.Delete(ctx, sessionID)
		if err != nil {
			return sessionNotFound(err)
		}
		deleted = sess
		r.Events.Emit(ctx, events.TopicSessionDeleted, sess.ID, eventPayload(sess))
		return nil
	})
	if err != nil {
		return err
	}
	obs.ObserveSession("deleted")
	s.Log.Warn().Str("session_id", deleted.ID.String()).Str("vehicle_id", deleted.VehicleID.String()).Msg("session deleted")
	return nil
}

// Quote prices an open session as if it ended at the given time.
func (s *Service) Quote(ctx context.Context, sessionID uuid.UUID, at *time.Time) (fee.Breakdown, error) {
	var out fee.Breakdown
	err := s.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		sess, err := r.Sessions.Get(ctx, sessionID)
		if err != nil {
			return sessionNotFound(err)
		}
		if !sess.Open() {
			return common.Conflict("SESSION_CLOSED", "session already closed")
		}
		v, err := r.Vehicles.Get(ctx, sess.VehicleID)
		if err != nil {
			return vehicleNotFound(err)
		}
		current, err := currentTariff(ctx, r.Tariffs, v.TariffID)
		if err != nil {
			return err
		}
		end := s.now()
		if at != nil {
			end = *at
		}
		if current != nil && current.IsPeriod() {
			out, err = fee.Calculate(sess.EntryTime, end, fee.Rates{})
			return err
		}
		catalog, err := r.Tariffs.ListByLot(ctx, sess.LotID)
		if err != nil {
			return err
		}
		out, err = fee.Calculate(sess.EntryTime, end, fee.RatesFromCatalog(catalog))
		return err
	})
	return out, err
}

// ListOpen returns open sessions, optionally for one lot.
func (s *Service) ListOpen(ctx context.Context, lotID *uuid.UUID) ([]Session, error) {
	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()
	items, err := s.Reader.ListOpen(ctx, lotID)
	if err != nil {
		return nil, db.MapError(err)
	}
	if items == nil {
		items = []Session{}
	}
	return items, nil
}

// History returns a page of sessions, newest entry first.
func (s *Service) History(ctx context.Context, lotID *uuid.UUID, page, perPage int) ([]Session, common.Pagination, error) {
	p := common.NormalizePage(page, perPage, 20)
	ctx, cancel := db.WithTimeout(ctx, s.Timeout)
	defer cancel()
	items, total, err := s.Reader.History(ctx, Filter{LotID: lotID, Limit: p.PerPage, Offset: p.Offset()})
	if err != nil {
		return nil, p, db.MapError(err)
	}
	if items == nil {
		items = []Session{}
	}
	p.TotalItems = total
	return items, p, nil
}

func (s *Service) trigger(ctx context.Context, vehicleID uuid.UUID) {
	if s.Trigger != nil {
		s.Trigger.TriggerVehicle(ctx, vehicleID)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func currentTariff(ctx context.Context, tariffs CatalogReader, id *uuid.UUID) (*tariff.Tariff, error) {
	if id == nil {
		return nil, nil
	}
	t, err := tariffs.Get(ctx, *id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func eventPayload(s Session) map[string]any {
	payload := map[string]any{
		"session_id":   s.ID,
		"vehicle_id":   s.VehicleID,
		"lot_id":       s.LotID,
		"plate":        s.Plate,
		"entry_time":   s.EntryTime,
		"needs_review": s.NeedsReview,
	}
	if s.TariffID != nil {
		payload["tariff_id"] = *s.TariffID
	}
	if s.ExitTime != nil {
		payload["exit_time"] = *s.ExitTime
	}
	if s.AmountPaid != nil {
		payload["amount_paid"] = *s.AmountPaid
	}
	return payload
}

func alreadyOpen(existing uuid.UUID) error {
	err := common.Conflict("SESSION_ALREADY_OPEN", "vehicle already has an open session")
	if existing != uuid.Nil {
		err = err.WithDetails(map[string]string{"session_id": existing.String()})
	}
	return err
}

func sessionNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NotFound("SESSION_NOT_FOUND", "session not found")
	}
	return err
}

func vehicleNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NotFound("VEHICLE_NOT_FOUND", "vehicle not found")
	}
	return err
}
