package billing

import (
	"net/http"
	"strings"

	"github.com/noah-isme/parkir-api/internal/common"
)

// Handler exposes invoices and the generator over HTTP.
type Handler struct {
	Svc       *Service
	Generator *Generator
}

type payRequest struct {
	Method string `json:"method" validate:"required"`
}

// Run triggers a fleet-wide billing pass.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Generator.RunExclusive(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, summary)
}

// List returns invoices filtered by vehicle and status.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := common.QueryUUID(r, "vehicle_id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var status *Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		s := Status(strings.ToLower(raw))
		status = &s
	}
	page, perPage := common.ParsePagination(r, 20)
	items, pagination, err := h.Svc.List(r.Context(), vehicleID, status, page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": pagination})
}

// Get returns one invoice with its line items.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	inv, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, inv)
}

// CreateManual raises an ad-hoc invoice.
func (h *Handler) CreateManual(w http.ResponseWriter, r *http.Request) {
	var req ManualInput
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	inv, err := h.Svc.CreateManual(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, inv)
}

// Pay marks an invoice as paid.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req payRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	inv, err := h.Svc.MarkPaid(r.Context(), id, PaymentMethod(req.Method))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, inv)
}
