package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/common"
)

// Handler exposes the session ledger.
type Handler struct {
	Svc *Service
}

type entryRequest struct {
	Notes string `json:"notes,omitempty" validate:"max=500"`
}

type exitRequest struct {
	PaidAmount *decimal.Decimal `json:"paid_amount,omitempty"`
}

// Entry opens a session for the vehicle in the path.
func (h *Handler) Entry(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req entryRequest
	if err := common.DecodeOptionalJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	sess, err := h.Svc.Entry(r.Context(), vehicleID, req.Notes)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, sess)
}

// Exit closes the session in the path.
func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req exitRequest
	if err := common.DecodeOptionalJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	sess, err := h.Svc.Exit(r.Context(), id, req.PaidAmount)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, sess)
}

// Quote prices an open session without closing it.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var at *time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.WriteError(w, common.InvalidInput("INVALID_PARAMETER", "at must be RFC3339"))
			return
		}
		at = &parsed
	}
	quote, err := h.Svc.Quote(r.Context(), id, at)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, quote)
}

// Delete removes a session.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Svc.Delete(r.Context(), id); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOpen lists vehicles currently parked.
func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	lotID, err := common.QueryUUID(r, "lot_id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items, err := h.Svc.ListOpen(r.Context(), lotID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// History lists sessions newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	lotID, err := common.QueryUUID(r, "lot_id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	items, pagination, err := h.Svc.History(r.Context(), lotID, page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": pagination})
}
