package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/events"
	"github.com/noah-isme/parkir-api/internal/vehicle"
)

// memBilling is an in-memory invoice store. Do runs one transaction at a time
// and restores the previous state when fn fails.
type memBilling struct {
	tx       sync.Mutex
	mu       sync.Mutex
	subs     map[uuid.UUID]Subscription
	vehicles map[uuid.UUID]vehicle.Vehicle
	invoices map[uuid.UUID]Invoice
	items    map[uuid.UUID][]LineItem
	events   *events.Recorder
	failFor  map[uuid.UUID]error
}

func newMemBilling() *memBilling {
	return &memBilling{
		subs:     map[uuid.UUID]Subscription{},
		vehicles: map[uuid.UUID]vehicle.Vehicle{},
		invoices: map[uuid.UUID]Invoice{},
		items:    map[uuid.UUID][]LineItem{},
		events:   &events.Recorder{},
		failFor:  map[uuid.UUID]error{},
	}
}

func (m *memBilling) Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	m.tx.Lock()
	defer m.tx.Unlock()

	m.mu.Lock()
	invoices := make(map[uuid.UUID]Invoice, len(m.invoices))
	for k, v := range m.invoices {
		invoices[k] = v
	}
	items := make(map[uuid.UUID][]LineItem, len(m.items))
	for k, v := range m.items {
		items[k] = append([]LineItem(nil), v...)
	}
	m.mu.Unlock()

	if err := fn(ctx, Repos{Invoices: memInvoices{m}, Vehicles: memVehicles{m}, Events: m.events}); err != nil {
		m.mu.Lock()
		m.invoices, m.items = invoices, items
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memBilling) subscribe(registered time.Time, rate int64, cycleDays *int) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := Subscription{
		VehicleID:    uuid.New(),
		LotID:        uuid.New(),
		Plate:        "B" + uuid.NewString()[:5],
		RegisteredAt: registered,
		TariffID:     uuid.New(),
		TariffName:   "Monthly",
		Rate:         decimal.NewFromInt(rate),
	}
	sub.CycleLengthDays = cycleDays
	m.subs[sub.VehicleID] = sub
	tariffID := sub.TariffID
	m.vehicles[sub.VehicleID] = vehicle.Vehicle{ID: sub.VehicleID, Plate: sub.Plate, LotID: sub.LotID, TariffID: &tariffID, CreatedAt: registered}
	return sub
}

func (m *memBilling) addVehicle() vehicle.Vehicle {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := vehicle.Vehicle{ID: uuid.New(), Plate: "D" + uuid.NewString()[:5], LotID: uuid.New(), CreatedAt: time.Now().UTC()}
	m.vehicles[v.ID] = v
	return v
}

func (m *memBilling) invoicesFor(vehicleID uuid.UUID) []Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for _, inv := range m.invoices {
		if inv.VehicleID == vehicleID {
			inv.Items = m.items[inv.ID]
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type memInvoices struct{ m *memBilling }

func (r memInvoices) ListSubscriptions(context.Context) ([]Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]Subscription, 0, len(r.m.subs))
	for _, s := range r.m.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (r memInvoices) GetSubscription(_ context.Context, vehicleID uuid.UUID) (Subscription, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.subs[vehicleID]
	if !ok {
		return Subscription{}, pgx.ErrNoRows
	}
	return s, nil
}

func (r memInvoices) LastPeriodicDueAt(_ context.Context, vehicleID, tariffID uuid.UUID) (*time.Time, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.failFor[vehicleID]; err != nil {
		return nil, err
	}
	var last *time.Time
	for _, inv := range r.m.invoices {
		if inv.VehicleID != vehicleID || inv.Source != SourcePeriodic || inv.TariffID == nil || *inv.TariffID != tariffID {
			continue
		}
		if last == nil || inv.DueAt.After(*last) {
			due := inv.DueAt
			last = &due
		}
	}
	return last, nil
}

func (r memInvoices) InsertPeriodic(_ context.Context, inv Invoice) (Invoice, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.invoices {
		if existing.Source == SourcePeriodic && existing.VehicleID == inv.VehicleID &&
			*existing.TariffID == *inv.TariffID && existing.CreatedAt.Equal(inv.CreatedAt) {
			return Invoice{}, false, nil
		}
	}
	inv.ID = uuid.New()
	inv.Source = SourcePeriodic
	inv.Status = StatusPending
	r.m.invoices[inv.ID] = inv
	return inv, true, nil
}

func (r memInvoices) InsertManual(_ context.Context, inv Invoice) (Invoice, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	inv.ID = uuid.New()
	inv.Source = SourceManual
	inv.Status = StatusPending
	r.m.invoices[inv.ID] = inv
	return inv, nil
}

func (r memInvoices) InsertLineItem(_ context.Context, item LineItem) (LineItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.invoices[item.InvoiceID]; !ok {
		return LineItem{}, errors.New("invoice_line_items_invoice_id_fkey")
	}
	item.ID = uuid.New()
	r.m.items[item.InvoiceID] = append(r.m.items[item.InvoiceID], item)
	return item, nil
}

func (r memInvoices) LineItems(_ context.Context, invoiceID uuid.UUID) ([]LineItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return append([]LineItem{}, r.m.items[invoiceID]...), nil
}

func (r memInvoices) Get(_ context.Context, id uuid.UUID) (Invoice, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	inv, ok := r.m.invoices[id]
	if !ok {
		return Invoice{}, pgx.ErrNoRows
	}
	return inv, nil
}

func (r memInvoices) GetForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return r.Get(ctx, id)
}

func (r memInvoices) MarkPaid(_ context.Context, id uuid.UUID, method PaymentMethod, at time.Time) (Invoice, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	inv, ok := r.m.invoices[id]
	if !ok || inv.Status == StatusPaid {
		return Invoice{}, pgx.ErrNoRows
	}
	inv.Status = StatusPaid
	inv.PaidAt = &at
	inv.PaymentMethod = &method
	r.m.invoices[id] = inv
	return inv, nil
}

func (r memInvoices) MarkOverdue(_ context.Context, cutoff time.Time) ([]Invoice, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []Invoice
	for id, inv := range r.m.invoices {
		if inv.Status == StatusPending && inv.DueAt.Before(cutoff) {
			inv.Status = StatusOverdue
			r.m.invoices[id] = inv
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r memInvoices) List(_ context.Context, f ListFilter) ([]Invoice, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []Invoice
	for _, inv := range r.m.invoices {
		if f.VehicleID != nil && inv.VehicleID != *f.VehicleID {
			continue
		}
		if f.Status != nil && inv.Status != *f.Status {
			continue
		}
		all = append(all, inv)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if f.Offset >= total {
		return []Invoice{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

type memVehicles struct{ m *memBilling }

func (r memVehicles) Get(_ context.Context, id uuid.UUID) (vehicle.Vehicle, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.vehicles[id]
	if !ok {
		return vehicle.Vehicle{}, pgx.ErrNoRows
	}
	return v, nil
}

func days(n int) *int { return &n }
