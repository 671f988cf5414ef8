package tariff

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/common"
)

type memQuerier struct {
	mu    sync.Mutex
	seq   int64
	items []Tariff
}

func (m *memQuerier) Get(_ context.Context, id uuid.UUID) (Tariff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.items {
		if t.ID == id {
			return t, nil
		}
	}
	return Tariff{}, pgx.ErrNoRows
}

func (m *memQuerier) ListByLot(_ context.Context, lotID uuid.UUID) ([]Tariff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Tariff
	for _, t := range m.items {
		if t.LotID == lotID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memQuerier) Insert(_ context.Context, t Tariff) (Tariff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.ID = uuid.New()
	t.Seq = m.seq
	t.CreatedAt = time.Now().UTC()
	m.items = append(m.items, t)
	return t, nil
}

func (m *memQuerier) UpdateRate(_ context.Context, id uuid.UUID, rate decimal.Decimal) (Tariff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].Rate = rate
			return m.items[i], nil
		}
	}
	return Tariff{}, pgx.ErrNoRows
}

func intPtr(v int) *int { return &v }

func TestCreateValidatesCycleLength(t *testing.T) {
	svc := &Service{Q: &memQuerier{}}
	lot := uuid.New()

	_, err := svc.Create(context.Background(), CreateInput{LotID: lot, Name: "Monthly", Class: ClassPeriod, Rate: decimal.NewFromInt(300000)})
	require.True(t, common.IsKind(err, common.KindInvalidInput))

	_, err = svc.Create(context.Background(), CreateInput{LotID: lot, Name: "Hourly", Class: ClassHour, Rate: decimal.NewFromInt(5000), CycleLengthDays: intPtr(7)})
	require.True(t, common.IsKind(err, common.KindInvalidInput))

	created, err := svc.Create(context.Background(), CreateInput{LotID: lot, Name: " Weekly ", Class: ClassPeriod, Rate: decimal.NewFromInt(90000), CycleLengthDays: intPtr(7)})
	require.NoError(t, err)
	require.Equal(t, "Weekly", created.Name)
	require.Equal(t, 7, created.CycleLength(30))
}

func TestCreateRejectsNegativeRateAndUnknownClass(t *testing.T) {
	svc := &Service{Q: &memQuerier{}}
	_, err := svc.Create(context.Background(), CreateInput{LotID: uuid.New(), Name: "x", Class: ClassMinute, Rate: decimal.NewFromInt(-1)})
	require.Equal(t, "INVALID_RATE", common.AsAppError(err).Code)

	_, err = svc.Create(context.Background(), CreateInput{LotID: uuid.New(), Name: "x", Class: "week", Rate: decimal.NewFromInt(1)})
	require.Equal(t, "INVALID_DURATION_CLASS", common.AsAppError(err).Code)
}

func TestListKeepsCatalogOrder(t *testing.T) {
	q := &memQuerier{}
	svc := &Service{Q: q}
	lot := uuid.New()
	for _, class := range []Class{ClassDay, ClassMinute, ClassHour} {
		_, err := svc.Create(context.Background(), CreateInput{LotID: lot, Name: string(class), Class: class, Rate: decimal.NewFromInt(10)})
		require.NoError(t, err)
	}
	items, err := svc.List(context.Background(), lot)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, []Class{ClassDay, ClassMinute, ClassHour}, []Class{items[0].Class, items[1].Class, items[2].Class})

	empty, err := svc.List(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NotNil(t, empty)
}

func TestUpdateRateNotFound(t *testing.T) {
	svc := &Service{Q: &memQuerier{}}
	_, err := svc.UpdateRate(context.Background(), uuid.New(), decimal.NewFromInt(10))
	require.Equal(t, "TARIFF_NOT_FOUND", common.AsAppError(err).Code)
}

func TestHandlerCreateAndList(t *testing.T) {
	h := &Handler{Svc: &Service{Q: &memQuerier{}}}
	router := chi.NewRouter()
	router.Get("/lots/{lotID}/tariffs", h.List)
	router.Post("/lots/{lotID}/tariffs", h.Create)
	lot := uuid.New()

	body := `{"name":"Per minute","duration_class":"minute","rate":"200"}`
	req := httptest.NewRequest(http.MethodPost, "/lots/"+lot.String()+"/tariffs", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"rate":"200"`)

	req = httptest.NewRequest(http.MethodPost, "/lots/"+lot.String()+"/tariffs", strings.NewReader(`{"name":"x","duration_class":"week","rate":1}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/lots/"+lot.String()+"/tariffs", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"duration_class":"minute"`)
}
