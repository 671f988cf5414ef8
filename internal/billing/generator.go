package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/parkir-api/internal/common"
	"github.com/noah-isme/parkir-api/internal/events"
	"github.com/noah-isme/parkir-api/internal/lock"
	"github.com/noah-isme/parkir-api/internal/obs"
)

const runLockKey = "billing:run"

// ErrRunInProgress is returned by RunExclusive when another replica holds the fleet lock.
var ErrRunInProgress = common.Conflict("BILLING_RUN_IN_PROGRESS", "a billing run is already in progress")

// Locker serializes work across replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Generator keeps the invoice sequence of every subscriber complete.
type Generator struct {
	UoW              UnitOfWork
	Locker           Locker
	Log              zerolog.Logger
	Now              func() time.Time
	DefaultCycleDays int
	LockTTL          time.Duration
	OverdueGrace     time.Duration
}

// RunExclusive runs a fleet-wide pass unless another one is already running.
func (g *Generator) RunExclusive(ctx context.Context) (Summary, error) {
	if g.Locker == nil {
		return g.Run(ctx)
	}
	var summary Summary
	err := g.Locker.TryWithLock(ctx, runLockKey, g.lockTTL(), func(ctx context.Context) error {
		var err error
		summary, err = g.Run(ctx)
		return err
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		g.Log.Info().Msg("billing run skipped, another run holds the lock")
		return Summary{}, ErrRunInProgress
	}
	return summary, err
}

// Run bills every subscriber and then sweeps overdue invoices. A failing
// vehicle is counted and logged and the pass moves on.
func (g *Generator) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	defer func() { obs.ObserveBillingRun(time.Since(started)) }()

	var subs []Subscription
	err := g.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		var err error
		subs, err = r.Invoices.ListSubscriptions(ctx)
		return err
	})
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Add(g.billSubscription(ctx, sub))
	}

	overdue, err := g.sweepOverdue(ctx)
	if err != nil {
		g.Log.Error().Err(err).Msg("overdue sweep failed")
	}
	summary.MarkedOverdue = overdue

	g.Log.Info().
		Int("vehicles", summary.Vehicles).
		Int("created", summary.Created).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("marked_overdue", summary.MarkedOverdue).
		Dur("duration", time.Since(started)).
		Msg("billing run finished")
	return summary, nil
}

// GenerateForVehicle bills one vehicle. Vehicles that are not on a period
// tariff yield an empty summary.
func (g *Generator) GenerateForVehicle(ctx context.Context, vehicleID uuid.UUID) (Summary, error) {
	var sub Subscription
	err := g.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		var err error
		sub, err = r.Invoices.GetSubscription(ctx, vehicleID)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) || common.IsKind(err, common.KindNotFound) {
		return Summary{}, nil
	}
	if err != nil {
		return Summary{}, err
	}
	summary := g.billSubscription(ctx, sub)
	if summary.Failed > 0 {
		return summary, common.Transient("billing failed for vehicle", nil)
	}
	return summary, nil
}

func (g *Generator) billSubscription(ctx context.Context, sub Subscription) Summary {
	summary := Summary{Vehicles: 1}
	logger := g.Log.With().
		Str("vehicle_id", sub.VehicleID.String()).
		Str("tariff_id", sub.TariffID.String()).
		Logger()

	length := g.cycleLength(sub)
	if length <= 0 || !sub.Rate.IsPositive() {
		logger.Warn().
			Int("cycle_length_days", length).
			Str("rate", sub.Rate.String()).
			Msg("subscription skipped, tariff has no positive rate or cycle length")
		obs.ObserveBillingVehicle("skipped", 1)
		summary.Skipped = 1
		return summary
	}

	created := 0
	work := func(ctx context.Context) error {
		n, err := g.billCycles(ctx, sub, length)
		created = n
		return err
	}
	var err error
	if g.Locker != nil {
		err = g.Locker.WithLock(ctx, vehicleLockKey(sub), g.lockTTL(), work)
	} else {
		err = work(ctx)
	}
	if err != nil {
		logger.Error().Err(err).Msg("billing failed for vehicle")
		obs.ObserveBillingVehicle("failed", 1)
		summary.Failed = 1
		return summary
	}
	summary.Created = created
	if created > 0 {
		obs.ObserveBillingVehicle("billed", 1)
		logger.Info().Int("invoices", created).Msg("periodic invoices created")
	}
	return summary
}

func (g *Generator) billCycles(ctx context.Context, sub Subscription, length int) (int, error) {
	now := g.now()
	created := 0
	err := g.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		created = 0
		last, err := r.Invoices.LastPeriodicDueAt(ctx, sub.VehicleID, sub.TariffID)
		if err != nil {
			return err
		}
		start := sub.RegisteredAt.UTC()
		if last != nil {
			start = last.UTC()
		}
		tariffID := sub.TariffID
		for _, c := range DueCycles(start, now, length) {
			inv, inserted, err := r.Invoices.InsertPeriodic(ctx, Invoice{
				VehicleID: sub.VehicleID,
				LotID:     sub.LotID,
				TariffID:  &tariffID,
				OwnerID:   sub.OwnerID,
				Source:    SourcePeriodic,
				Total:     sub.Rate,
				Status:    StatusPending,
				CreatedAt: c.Start,
				DueAt:     c.End,
			})
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			item, err := r.Invoices.InsertLineItem(ctx, LineItem{
				InvoiceID:   inv.ID,
				Description: cycleDescription(sub, c),
				Quantity:    1,
				UnitPrice:   sub.Rate,
				Subtotal:    sub.Rate,
			})
			if err != nil {
				return err
			}
			inv.Items = []LineItem{item}
			r.Events.Emit(ctx, events.TopicInvoiceCreated, inv.ID, invoicePayload(inv))
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i := 0; i < created; i++ {
		obs.ObserveInvoice("created", string(SourcePeriodic))
	}
	return created, nil
}

func (g *Generator) sweepOverdue(ctx context.Context) (int, error) {
	cutoff := g.now().Add(-g.OverdueGrace)
	var marked []Invoice
	err := g.UoW.Do(ctx, func(ctx context.Context, r Repos) error {
		var err error
		marked, err = r.Invoices.MarkOverdue(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, inv := range marked {
			r.Events.Emit(ctx, events.TopicInvoiceOverdue, inv.ID, invoicePayload(inv))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, inv := range marked {
		obs.ObserveInvoice("overdue", string(inv.Source))
	}
	return len(marked), nil
}

func (g *Generator) cycleLength(sub Subscription) int {
	if sub.CycleLengthDays != nil {
		return *sub.CycleLengthDays
	}
	return g.DefaultCycleDays
}

func (g *Generator) lockTTL() time.Duration {
	if g.LockTTL > 0 {
		return g.LockTTL
	}
	return 30 * time.Second
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func vehicleLockKey(sub Subscription) string {
	return fmt.Sprintf("billing:vehicle:%s:%s", sub.VehicleID, sub.TariffID)
}

func cycleDescription(sub Subscription, c Cycle) string {
	return fmt.Sprintf("%s subscription %s to %s", sub.TariffName, c.Start.Format(time.DateOnly), c.End.Format(time.DateOnly))
}
