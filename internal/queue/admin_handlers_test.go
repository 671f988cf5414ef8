package queue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/queue"
)

func archivedMessage(t *testing.T, key string, attempt int) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"kind":         "notify:event",
		"key":          key,
		"payload":      []byte(`{"topic":"invoice.paid"}`),
		"attempt":      attempt,
		"max_attempts": 3,
		"available_at": time.Now().UnixNano(),
	})
	require.NoError(t, err)
	return raw
}

func newAdmin(t *testing.T) (*queue.AdminHandler, *memoryStore) {
	t.Helper()
	client := newRedis(t)
	store := newMemoryStore()
	return &queue.AdminHandler{
		Store:             store,
		Queue:             queue.Enqueuer{R: client, Prefix: "adm", DedupTTL: time.Minute, MaxAttempts: 5},
		PageSize:          10,
		Logger:            zerolog.Nop(),
		VisibilityTimeout: time.Minute,
	}, store
}

func TestDLQReplayByID(t *testing.T) {
	handler, store := newAdmin(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, queue.DLQEntry{
		Kind:           "notify:event",
		IdempotencyKey: "dlq1",
		Payload:        archivedMessage(t, "dlq1", 3),
		Attempts:       3,
	})
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"ids":["` + id.String() + `","not-a-uuid"]}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ReplayDLQ(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Replayed []string          `json:"replayed"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, []string{id.String()}, resp.Replayed)
	require.Equal(t, "invalid id", resp.Failed["not-a-uuid"])

	ready, _, err := handler.Queue.Depth(ctx, "notify:event")
	require.NoError(t, err)
	require.Equal(t, int64(1), ready)

	_, err = store.Get(ctx, id)
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestDLQReplayRequiresSelector(t *testing.T) {
	handler, _ := newAdmin(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	handler.ReplayDLQ(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDLQListAndStats(t *testing.T) {
	handler, store := newAdmin(t)
	ctx := context.Background()
	for _, key := range []string{"a", "b"} {
		_, err := store.Insert(ctx, queue.DLQEntry{Kind: "notify:event", IdempotencyKey: key, Payload: archivedMessage(t, key, 3), Attempts: 3})
		require.NoError(t, err)
	}
	require.NoError(t, handler.Queue.Enqueue(ctx, queue.Task{Kind: "notify:event", Payload: []byte("x"), IdempotencyKey: "live"}))

	rr := httptest.NewRecorder()
	handler.ListDLQ(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/dlq?kind=notify:event&limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Data       []map[string]any `json:"data"`
		Pagination struct {
			PerPage    int `json:"per_page"`
			TotalItems int `json:"total_items"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, 2, list.Pagination.TotalItems)

	rr = httptest.NewRecorder()
	handler.Stats(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats?kind=notify:event", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.EqualValues(t, 1, stats["ready"])
	require.EqualValues(t, 2, stats["dlq"])

	rr = httptest.NewRecorder()
	handler.Stats(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
