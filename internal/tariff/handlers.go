package tariff

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/parkir-api/internal/common"
)

// Handler exposes catalog endpoints.
type Handler struct {
	Svc *Service
}

type createRequest struct {
	Name            string          `json:"name" validate:"required,max=120"`
	DurationClass   string          `json:"duration_class" validate:"required,oneof=minute hour day period"`
	Rate            decimal.Decimal `json:"rate"`
	CycleLengthDays *int            `json:"cycle_length_days,omitempty" validate:"omitempty,gt=0"`
}

type updateRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

// List returns the lot catalog.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	lotID, err := common.PathUUID(r, "lotID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items, err := h.Svc.List(r.Context(), lotID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// Create adds a catalog entry to the lot.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	lotID, err := common.PathUUID(r, "lotID")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req createRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	created, err := h.Svc.Create(r.Context(), CreateInput{
		LotID:           lotID,
		Name:            req.Name,
		Class:           Class(req.DurationClass),
		Rate:            req.Rate,
		CycleLengthDays: req.CycleLengthDays,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, created)
}

// UpdateRate changes the rate of a tariff.
func (h *Handler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req updateRateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	updated, err := h.Svc.UpdateRate(r.Context(), id, req.Rate)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, updated)
}
