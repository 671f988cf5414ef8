package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandlerList(t *testing.T) {
	store := &stubStore{entries: []Entry{{Action: "POST /api/v1/vehicles", Method: http.MethodPost}}}
	h := Handler{Store: store}
	req := httptest.NewRequest(http.MethodGet, "/admin/audit?limit=25&page=2&resource_type=vehicles", nil)
	rr := httptest.NewRecorder()
	h.List(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.limit != 25 || store.offset != 25 {
		t.Fatalf("unexpected pagination params: %d/%d", store.limit, store.offset)
	}
	if store.filter.ResourceType != "vehicles" {
		t.Fatalf("unexpected filter: %+v", store.filter)
	}
	var payload struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Data) != 1 {
		t.Fatalf("expected one log entry, got %d", len(payload.Data))
	}
}

func TestHandlerListWithoutStore(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler{}.List(rr, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
