package queue

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/parkir-api/internal/common"
)

// AdminHandler exposes dead-letter inspection, replay and queue stats.
type AdminHandler struct {
	Store             DeadLetters
	Queue             Enqueuer
	PageSize          int
	Logger            zerolog.Logger
	VisibilityTimeout time.Duration
}

type dlqItem struct {
	ID             uuid.UUID   `json:"id"`
	Kind           string      `json:"kind"`
	IdempotencyKey string      `json:"idempotency_key"`
	Attempts       int         `json:"attempts"`
	LastError      *string     `json:"last_error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Message        taskMessage `json:"message"`
}

type replayRequest struct {
	IDs   []string `json:"ids" validate:"omitempty,max=500"`
	Kind  string   `json:"kind" validate:"omitempty,max=64"`
	Limit int      `json:"limit" validate:"omitempty,min=1,max=500"`
}

// ListDLQ pages archived tasks, optionally for one kind.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.WriteError(w, common.Internal("dead-letter store unavailable", nil))
		return
	}
	kind, err := kindParam(r.URL.Query().Get("kind"), false)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	page, perPage := common.ParsePagination(r, h.pageSize())
	p := common.NormalizePage(page, perPage, h.pageSize())

	ctx := r.Context()
	entries, err := h.Store.List(ctx, kind, p.PerPage, p.Offset())
	if err != nil {
		common.WriteError(w, common.Transient("list dead letters", err))
		return
	}
	total, err := h.Store.Count(ctx, kind)
	if err != nil {
		common.WriteError(w, common.Transient("count dead letters", err))
		return
	}
	p.TotalItems = int(total)

	items := make([]dlqItem, 0, len(entries))
	for _, entry := range entries {
		msg, err := decodeMessage(string(entry.Payload))
		if err != nil {
			h.Logger.Warn().Err(err).Str("dlq_id", entry.ID.String()).Msg("skipping undecodable dead letter")
			continue
		}
		items = append(items, dlqItem{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
			Message:        msg,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": p})
}

// ReplayDLQ re-enqueues archived tasks by id, or the newest batch of a kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Queue.R == nil {
		common.WriteError(w, common.Internal("queue dependencies unavailable", nil))
		return
	}
	var req replayRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	kind, err := kindParam(req.Kind, false)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ids := uniqueStrings(req.IDs)
	if len(ids) == 0 && kind == "" {
		common.WriteError(w, common.InvalidInput("MISSING_PARAMETER", "ids or kind is required"))
		return
	}

	ctx := r.Context()
	replayed := make([]uuid.UUID, 0, len(ids))
	failed := make(map[string]string)

	var entries []DLQEntry
	if len(ids) > 0 {
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				failed[raw] = "invalid id"
				continue
			}
			entry, err := h.Store.Get(ctx, id)
			if errors.Is(err, pgx.ErrNoRows) {
				failed[raw] = "not found"
				continue
			}
			if err != nil {
				failed[raw] = err.Error()
				continue
			}
			entries = append(entries, entry)
		}
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		entries, err = h.Store.List(ctx, kind, limit, 0)
		if err != nil {
			common.WriteError(w, common.Transient("list dead letters", err))
			return
		}
	}

	for _, entry := range entries {
		if err := h.requeue(ctx, entry); err != nil {
			failed[entry.ID.String()] = err.Error()
			continue
		}
		replayed = append(replayed, entry.ID)
	}
	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Msg("dead letters replayed")

	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// Stats reports ready, in-flight and archived counts for one kind.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Queue.R == nil {
		common.WriteError(w, common.Internal("queue dependencies unavailable", nil))
		return
	}
	kind, err := kindParam(r.URL.Query().Get("kind"), true)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := r.Context()
	ready, inflight, err := h.Queue.Depth(ctx, kind)
	if err != nil {
		common.WriteError(w, common.Transient("queue depth", err))
		return
	}
	dead, err := h.Store.Count(ctx, kind)
	if err != nil {
		common.WriteError(w, common.Transient("count dead letters", err))
		return
	}

	var lag time.Duration
	oldest, err := h.Queue.R.ZRangeWithScores(ctx, keyspace(h.Queue.Prefix).ready(kind), 0, 0).Result()
	if err == nil && len(oldest) > 0 {
		if due := time.Unix(0, int64(oldest[0].Score)); due.Before(time.Now()) {
			lag = time.Since(due)
		}
	}

	QueueDepth.WithLabelValues(kind).Set(float64(ready))
	QueueDLQSize.WithLabelValues(kind).Set(float64(dead))

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":                 kind,
		"ready":                ready,
		"processing":           inflight,
		"dlq":                  dead,
		"oldest_lag_ms":        lag.Milliseconds(),
		"visibility_timeout_s": visibility.Seconds(),
	})
}

// requeue puts entry back on its queue with one attempt restored and drops it
// from the archive.
func (h *AdminHandler) requeue(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	attempt := msg.Attempt - 1
	if attempt < 0 {
		attempt = 0
	}
	task := Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        attempt,
	}
	if err := h.Queue.Enqueue(ctx, task); err != nil {
		return err
	}
	if err := h.Store.Delete(ctx, entry.ID); err != nil {
		return err
	}
	if n, err := h.Store.Count(ctx, msg.Kind); err == nil {
		QueueDLQSize.WithLabelValues(msg.Kind).Set(float64(n))
	}
	return nil
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func kindParam(raw string, required bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return "", common.InvalidInput("MISSING_PARAMETER", "kind is required")
		}
		return "", nil
	}
	kind := sanitizeKind(raw)
	if kind == "" {
		return "", common.InvalidInput("INVALID_PARAMETER", "invalid kind")
	}
	return kind, nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
