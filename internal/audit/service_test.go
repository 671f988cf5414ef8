package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/parkir-api/internal/obs"
)

type stubStore struct {
	entries []Entry
	err     error
	filter  Filter
	limit   int
	offset  int
}

func (s *stubStore) Insert(_ context.Context, e Entry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *stubStore) List(_ context.Context, f Filter, limit, offset int) ([]Entry, error) {
	s.filter, s.limit, s.offset = f, limit, offset
	return s.entries, s.err
}

func (s *stubStore) Count(context.Context, Filter) (int64, error) {
	return int64(len(s.entries)), s.err
}

func TestServiceRecord(t *testing.T) {
	store := &stubStore{}
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := Service{Store: store, Enabled: true, SamplingRate: 1, Now: func() time.Time { return fixed }}

	req := httptest.NewRequest(http.MethodPost, "https://api.test/api/v1/invoices/abc/pay?dry=1", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set(obs.OperatorHeader, "op-7")
	req.RemoteAddr = "10.0.0.2:54321"
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/invoices/{id}/pay"))

	if err := svc.Record(req.Context(), ActorFromRequest(req), "", "", "abc", req, http.StatusOK, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	got := store.entries[0]
	if got.ActorKind != ActorKindOperator || got.OperatorID == nil || *got.OperatorID != "op-7" {
		t.Fatalf("unexpected actor: %+v", got)
	}
	if got.Action != "POST /api/v1/invoices/{id}/pay" {
		t.Fatalf("unexpected action: %s", got.Action)
	}
	if got.ResourceType != "invoices.pay" {
		t.Fatalf("unexpected resource type: %s", got.ResourceType)
	}
	if got.ResourceID == nil || *got.ResourceID != "abc" {
		t.Fatalf("unexpected resource id: %v", got.ResourceID)
	}
	if got.IP == nil || *got.IP != "10.0.0.2" {
		t.Fatalf("expected ip capture, got %v", got.IP)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected timestamp: %v", got.CreatedAt)
	}
	var meta map[string]string
	if err := json.Unmarshal(got.Metadata, &meta); err != nil {
		t.Fatalf("metadata json: %v", err)
	}
	if meta["query"] != "dry=1" {
		t.Fatalf("unexpected metadata query: %s", meta["query"])
	}
}

func TestServiceRecordDisabled(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: false}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := svc.Record(req.Context(), Actor{}, "", "", "", req, http.StatusOK, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(store.entries) != 0 {
		t.Fatal("expected no insert when disabled")
	}
}

func TestAnonymousActorHasNoOperator(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: true}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/1", nil)
	if err := svc.Record(req.Context(), Actor{Kind: "bogus", OperatorID: "x"}, "", "", "", req, 0, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	got := store.entries[0]
	if got.ActorKind != ActorKindAnonymous || got.OperatorID != nil {
		t.Fatalf("unexpected actor: %+v", got)
	}
	if got.Status != http.StatusOK {
		t.Fatalf("expected default status, got %d", got.Status)
	}
}

func TestMiddlewareRecordsAfterHandler(t *testing.T) {
	store := &stubStore{}
	svc := &Service{Store: store, Enabled: true}
	var recordErr error
	rec := HTTPRecorder{Service: svc, OnError: func(err error) { recordErr = err }}

	r := chi.NewRouter()
	r.With(rec.Middleware(HTTPConfig{ResourceType: "session", ResourceIDParam: "id"})).
		Post("/sessions/{id}/exit", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusConflict)
		})

	req := httptest.NewRequest(http.MethodPost, "/sessions/42/exit", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("handler status changed: %d", rr.Code)
	}
	if recordErr != nil {
		t.Fatalf("record error: %v", recordErr)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	got := store.entries[0]
	if got.Status != http.StatusConflict || got.ResourceType != "session" || *got.ResourceID != "42" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.Action != "POST /sessions/{id}/exit" {
		t.Fatalf("unexpected action: %s", got.Action)
	}
}

func TestMiddlewareReportsStoreFailure(t *testing.T) {
	store := &stubStore{err: errors.New("db down")}
	var recordErr error
	rec := HTTPRecorder{Service: &Service{Store: store, Enabled: true}, OnError: func(err error) { recordErr = err }}

	h := rec.Middleware(HTTPConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/vehicles", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if recordErr == nil {
		t.Fatal("expected store failure to be reported")
	}
}

func TestMiddlewareCapturesMetadata(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{
		Service:   &Service{Store: store, Enabled: true},
		ActorFunc: func(*http.Request) Actor { return Actor{Kind: ActorKindSystem} },
	}
	h := rec.Middleware(HTTPConfig{
		Action: "billing.run",
		MetadataFunc: func(_ *http.Request, status int) map[string]any {
			return map[string]any{"status_seen": status}
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/billing/run", nil))

	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	got := store.entries[0]
	if got.ActorKind != ActorKindSystem || got.Action != "billing.run" || got.Status != http.StatusOK {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if string(got.Metadata) != `{"status_seen":200}` {
		t.Fatalf("unexpected metadata: %s", got.Metadata)
	}
}
