package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/parkir-api/internal/events"
	"github.com/noah-isme/parkir-api/internal/obs"
	"github.com/noah-isme/parkir-api/internal/queue"
	"github.com/noah-isme/parkir-api/internal/resilience"
)

// Handler consumes notify:event tasks from the queue worker.
type Handler struct {
	Sink      Sink
	Replay    ReplayGuard
	ReplayTTL time.Duration
	Log       zerolog.Logger
}

// Handle delivers the event in task. A returned error makes the queue retry;
// malformed tasks and rejections by the receiver are dropped.
func (h *Handler) Handle(ctx context.Context, task queue.Task) error {
	var ev events.Event
	if err := json.Unmarshal(task.Payload, &ev); err != nil {
		h.Log.Error().Err(err).Str("idempotency_key", task.IdempotencyKey).Msg("dropping malformed notification task")
		return nil
	}
	log := h.Log.With().Str("event_id", ev.ID.String()).Str("topic", ev.Topic).Int("attempt", task.Attempt).Logger()

	guardKey := ev.ID.String()
	if h.Replay != nil {
		ok, err := h.Replay.Acquire(ctx, guardKey, h.replayTTL())
		if err != nil {
			return err
		}
		if !ok {
			log.Debug().Msg("notification already delivered")
			obs.ObserveNotification(h.Sink.Name(), "duplicate", 0)
			return nil
		}
	}

	start := time.Now()
	err := h.Sink.Deliver(ctx, ev)
	elapsed := time.Since(start)
	if err == nil {
		obs.ObserveNotification(h.Sink.Name(), "success", elapsed)
		return nil
	}

	if h.Replay != nil {
		if relErr := h.Replay.Release(context.WithoutCancel(ctx), guardKey); relErr != nil {
			log.Warn().Err(relErr).Msg("replay guard release failed")
		}
	}
	var status *resilience.StatusError
	if errors.As(err, &status) && !status.Retryable() {
		obs.ObserveNotification(h.Sink.Name(), "rejected", elapsed)
		log.Error().Err(err).Int("status", status.StatusCode).Msg("notification rejected by receiver")
		return nil
	}
	obs.ObserveNotification(h.Sink.Name(), "failure", elapsed)
	log.Warn().Err(err).Msg("notification delivery failed")
	return err
}

func (h *Handler) replayTTL() time.Duration {
	if h.ReplayTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return h.ReplayTTL
}
