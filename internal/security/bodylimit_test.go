package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBodyLimit(t *testing.T) {
	cases := []struct {
		name          string
		max           int64
		body          io.Reader
		declaredLen   int64
		wantStatus    int
		wantForwarded string
	}{
		{name: "within limit", max: 10, body: strings.NewReader(`{"a":1}`), wantStatus: http.StatusOK, wantForwarded: `{"a":1}`},
		{name: "exactly at limit", max: 5, body: strings.NewReader("12345"), wantStatus: http.StatusOK, wantForwarded: "12345"},
		{name: "streamed oversize", max: 5, body: strings.NewReader("excessive"), declaredLen: -1, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "declared oversize", max: 5, body: strings.NewReader("tiny"), declaredLen: 100, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "disabled", max: 0, body: strings.NewReader("anything at all"), wantStatus: http.StatusOK, wantForwarded: "anything at all"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var forwarded string
			h := BodyLimit{Max: tc.max}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				forwarded = string(data)
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/vehicles", tc.body)
			if tc.declaredLen != 0 {
				req.ContentLength = tc.declaredLen
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if forwarded != tc.wantForwarded {
				t.Fatalf("expected handler to see %q, got %q", tc.wantForwarded, forwarded)
			}
			if tc.wantStatus == http.StatusRequestEntityTooLarge && !strings.Contains(rr.Body.String(), "PAYLOAD_TOO_LARGE") {
				t.Fatalf("expected error code in body, got %s", rr.Body.String())
			}
		})
	}
}

func TestBodyLimitSkipsEmptyBody(t *testing.T) {
	called := false
	h := BodyLimit{Max: 1}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/1", nil))
	if !called || rr.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rr.Code)
	}
}
