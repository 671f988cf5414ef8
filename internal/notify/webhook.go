package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/parkir-api/internal/events"
	"github.com/noah-isme/parkir-api/internal/resilience"
)

const userAgent = "parkir-api-webhooks/1.0"

// WebhookSink POSTs signed events to a single endpoint.
type WebhookSink struct {
	URL    string
	Secret string
	HTTP   *resilience.HTTPClient
	Now    func() time.Time
}

// NewWebhookSink validates url and builds a sink on client.
func NewWebhookSink(rawURL, secret string, client *resilience.HTTPClient) (*WebhookSink, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("notify: webhook http client is required")
	}
	return &WebhookSink{URL: rawURL, Secret: secret, HTTP: client}, nil
}

func (*WebhookSink) Name() string { return "webhook" }

type webhookBody struct {
	EventID     string          `json:"event_id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregate_id"`
	Data        json.RawMessage `json:"data"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Deliver sends ev. Receivers verify X-Signature with ComputeSignature and
// dedupe on X-Idempotency-Key, which is the event id.
func (s *WebhookSink) Deliver(ctx context.Context, ev events.Event) error {
	ctx, span := otel.Tracer("notify.WebhookSink").Start(ctx, "WebhookSink.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID.String()),
		attribute.String("webhook.topic", ev.Topic),
	)

	data := ev.Payload
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(webhookBody{
		EventID:     ev.ID.String(),
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID.String(),
		Data:        data,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts := s.now().Unix()
	eventID := ev.ID.String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", eventID)
	req.Header.Set("X-Signature", ComputeSignature(s.Secret, ts, eventID, body))

	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("webhook %s: %w", ev.Topic, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.Body.Close()
}

func (s *WebhookSink) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ComputeSignature is the hex HMAC-SHA256 of "<ts>.<eventID>.<body>" keyed by secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NewHTTPClient returns a traced client for webhook traffic. Per-attempt
// timeouts are applied by resilience.HTTPClient.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		if host := parsed.Hostname(); host != "localhost" && host != "127.0.0.1" {
			return errors.New("plain http webhooks are only allowed for localhost")
		}
	default:
		return errors.New("webhook url must be http or https")
	}
	return nil
}
