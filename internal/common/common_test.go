package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/common"
)

func TestWriteErrorUsesKindStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   common.Kind
	}{
		{common.NotFound("SESSION_NOT_FOUND", "session not found"), http.StatusNotFound, common.KindNotFound},
		{common.Conflict("SESSION_ALREADY_OPEN", "open session exists"), http.StatusConflict, common.KindConflict},
		{common.InvalidInput("MISSING_PARAMETER", "lot_id is required"), http.StatusBadRequest, common.KindInvalidInput},
		{common.Transient("store timeout", errors.New("deadline")), http.StatusServiceUnavailable, common.KindTransient},
		{errors.New("boom"), http.StatusInternalServerError, common.KindInternal},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		common.WriteError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code)

		var body struct {
			Error common.ErrorBody `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.kind, body.Error.Kind)
		require.NotEmpty(t, body.Error.Message)
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := common.Conflict("SPOT_TAKEN", "spot already assigned")
	wrapped := fmt.Errorf("assign: %w", base)
	require.Equal(t, common.KindConflict, common.KindOf(wrapped))
	require.True(t, common.IsKind(wrapped, common.KindConflict))
	require.Equal(t, common.KindInternal, common.KindOf(errors.New("plain")))
}

type createPayload struct {
	Plate string `json:"plate" validate:"required,max=16"`
	Spot  string `json:"spot,omitempty"`
}

func TestDecodeJSONValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"spot":"A1"}`))
	var payload createPayload
	err := common.DecodeJSON(req, &payload)
	require.Error(t, err)
	appErr := common.AsAppError(err)
	require.Equal(t, common.KindInvalidInput, appErr.Kind)
	require.Equal(t, map[string]string{"plate": "required"}, appErr.Details)
}

func TestDecodeOptionalJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	var payload struct {
		Notes string `json:"notes"`
	}
	require.NoError(t, common.DecodeOptionalJSON(req, &payload))
}

func TestIdempotencyRejectsReplay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	handler := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/1/exit", nil)
		req.Header.Set(common.IdempotencyHeader, "abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusCreated, send())
	require.Equal(t, http.StatusConflict, send())
	require.Equal(t, 1, calls)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fail := true
	handler := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/1/pay", nil)
		req.Header.Set(common.IdempotencyHeader, "retry-me")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusServiceUnavailable, send())
	fail = false
	require.Equal(t, http.StatusOK, send())
}
