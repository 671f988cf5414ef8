package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/events"
	"github.com/noah-isme/parkir-api/internal/notify"
	"github.com/noah-isme/parkir-api/internal/resilience"
)

func newSink(t *testing.T, srv *httptest.Server, attempts int) *notify.WebhookSink {
	t.Helper()
	sink, err := notify.NewWebhookSink(srv.URL, "secret", &resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(5, 0.5, time.Second),
		BaseBackoff: time.Millisecond,
		MaxAttempts: attempts,
		Timeout:     time.Second,
		Target:      "webhook",
	})
	require.NoError(t, err)
	sink.Now = func() time.Time { return time.Unix(1767225600, 0) }
	return sink
}

func TestWebhookSignatureAndHeaders(t *testing.T) {
	type recorded struct {
		header http.Header
		body   []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	ev := events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicInvoicePaid,
		AggregateID: uuid.New(),
		Payload:     json.RawMessage(`{"payment_method":"cash"}`),
		OccurredAt:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, newSink(t, srv, 1).Deliver(context.Background(), ev))

	rec := <-received
	require.Equal(t, "application/json", rec.header.Get("Content-Type"))
	require.Equal(t, ev.ID.String(), rec.header.Get("X-Event-ID"))
	require.Equal(t, ev.ID.String(), rec.header.Get("X-Idempotency-Key"))
	require.Equal(t, "1767225600", rec.header.Get("X-Timestamp"))
	ts, err := strconv.ParseInt(rec.header.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature("secret", ts, ev.ID.String(), rec.body), rec.header.Get("X-Signature"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.body, &body))
	require.Equal(t, events.TopicInvoicePaid, body["topic"])
	require.Equal(t, map[string]any{"payment_method": "cash"}, body["data"])
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ev := events.Event{ID: uuid.New(), Topic: events.TopicSessionClosed, AggregateID: uuid.New()}
	require.NoError(t, newSink(t, srv, 3).Deliver(context.Background(), ev))
	require.Equal(t, int32(3), calls.Load())
}

func TestWebhookURLValidation(t *testing.T) {
	client := &resilience.HTTPClient{Client: http.DefaultClient}
	_, err := notify.NewWebhookSink("http://hooks.example.com/parkir", "s", client)
	require.Error(t, err)
	_, err = notify.NewWebhookSink("ftp://localhost/x", "s", client)
	require.Error(t, err)
	_, err = notify.NewWebhookSink("https://hooks.example.com/parkir", "s", client)
	require.NoError(t, err)
	_, err = notify.NewWebhookSink("http://localhost:9000/hook", "s", nil)
	require.Error(t, err)
}
