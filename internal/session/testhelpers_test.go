package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/noah-isme/parkir-api/internal/events"
	"github.com/noah-isme/parkir-api/internal/tariff"
	"github.com/noah-isme/parkir-api/internal/vehicle"
)

// memLedger keeps every table in memory. Each call is atomic on its own and
// Insert enforces the one-open-session index the way Postgres does.
type memLedger struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]Session
	vehicles map[uuid.UUID]vehicle.Vehicle
	tariffs  []tariff.Tariff
	events   *events.Recorder
}

func newMemLedger() *memLedger {
	return &memLedger{
		sessions: map[uuid.UUID]Session{},
		vehicles: map[uuid.UUID]vehicle.Vehicle{},
		events:   &events.Recorder{},
	}
}

func (m *memLedger) Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return fn(ctx, Repos{Sessions: memSessions{m}, Vehicles: memVehicles{m}, Tariffs: memCatalog{m}, Events: m.events})
}

func (m *memLedger) addVehicle(lotID uuid.UUID, tariffID *uuid.UUID) vehicle.Vehicle {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := vehicle.Vehicle{ID: uuid.New(), Plate: "B" + uuid.NewString()[:6], LotID: lotID, TariffID: tariffID, CreatedAt: time.Now().UTC()}
	m.vehicles[v.ID] = v
	return v
}

func (m *memLedger) addTariff(lotID uuid.UUID, class tariff.Class, rate int64) tariff.Tariff {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := tariff.Tariff{ID: uuid.New(), LotID: lotID, Name: string(class), Class: class, Rate: decimalInt(rate), Seq: int64(len(m.tariffs) + 1)}
	if class == tariff.ClassPeriod {
		days := 30
		t.CycleLengthDays = &days
	}
	m.tariffs = append(m.tariffs, t)
	return t
}

func (m *memLedger) openCount(vehicleID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.VehicleID == vehicleID && s.Open() {
			n++
		}
	}
	return n
}

type memSessions struct{ m *memLedger }

func (r memSessions) Get(_ context.Context, id uuid.UUID) (Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return Session{}, pgx.ErrNoRows
	}
	return s, nil
}

func (r memSessions) GetForUpdate(ctx context.Context, id uuid.UUID) (Session, error) {
	return r.Get(ctx, id)
}

func (r memSessions) OpenForVehicle(_ context.Context, vehicleID uuid.UUID) (Session, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.sessions {
		if s.VehicleID == vehicleID && s.Open() {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}

func (r memSessions) Insert(_ context.Context, s Session) (Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.sessions {
		if existing.VehicleID == s.VehicleID && existing.Open() {
			return Session{}, &pgconn.PgError{Code: "23505", ConstraintName: ConstraintOneOpen}
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = s.EntryTime
	r.m.sessions[s.ID] = s
	return s, nil
}

func (r memSessions) Close(_ context.Context, id uuid.UUID, c Closing) (Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok || !s.Open() {
		return Session{}, pgx.ErrNoRows
	}
	exit := c.ExitTime
	amount := c.Amount
	s.ExitTime = &exit
	s.AmountPaid = &amount
	s.NeedsReview = c.NeedsReview
	r.m.sessions[id] = s
	return s, nil
}

func (r memSessions) Delete(_ context.Context, id uuid.UUID) (Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return Session{}, pgx.ErrNoRows
	}
	delete(r.m.sessions, id)
	return s, nil
}

func (r memSessions) filtered(lotID *uuid.UUID, openOnly bool) []Session {
	out := []Session{}
	for _, s := range r.m.sessions {
		if lotID != nil && s.LotID != *lotID {
			continue
		}
		if openOnly && !s.Open() {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	return out
}

func (r memSessions) ListOpen(_ context.Context, lotID *uuid.UUID) ([]Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.filtered(lotID, true), nil
}

func (r memSessions) History(_ context.Context, f Filter) ([]Session, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	all := r.filtered(f.LotID, false)
	start := f.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

type memVehicles struct{ m *memLedger }

func (r memVehicles) Get(_ context.Context, id uuid.UUID) (vehicle.Vehicle, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.vehicles[id]
	if !ok {
		return vehicle.Vehicle{}, pgx.ErrNoRows
	}
	return v, nil
}

func (r memVehicles) GetForUpdate(ctx context.Context, id uuid.UUID) (vehicle.Vehicle, error) {
	return r.Get(ctx, id)
}

func (r memVehicles) SetTariff(_ context.Context, id uuid.UUID, tariffID *uuid.UUID) (vehicle.Vehicle, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v := r.m.vehicles[id]
	v.TariffID = tariffID
	r.m.vehicles[id] = v
	return v, nil
}

type memCatalog struct{ m *memLedger }

func (r memCatalog) Get(_ context.Context, id uuid.UUID) (tariff.Tariff, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range r.m.tariffs {
		if t.ID == id {
			return t, nil
		}
	}
	return tariff.Tariff{}, pgx.ErrNoRows
}

func (r memCatalog) ListByLot(_ context.Context, lotID uuid.UUID) ([]tariff.Tariff, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []tariff.Tariff{}
	for _, t := range r.m.tariffs {
		if t.LotID == lotID {
			out = append(out, t)
		}
	}
	return out, nil
}

type recordingTrigger struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingTrigger) TriggerVehicle(_ context.Context, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService() (*Service, *memLedger, *clock, *recordingTrigger) {
	ledger := newMemLedger()
	clk := &clock{now: time.Date(2026, 4, 10, 10, 0, 0, 0, time.UTC)}
	trig := &recordingTrigger{}
	svc := &Service{
		UoW:     ledger,
		Reader:  memSessions{ledger},
		Trigger: trig,
		Log:     zerolog.Nop(),
		Now:     clk.Now,
	}
	return svc, ledger, clk, trig
}
