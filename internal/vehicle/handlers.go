package vehicle

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/noah-isme/parkir-api/internal/common"
)

// Handler exposes the vehicle registry.
type Handler struct {
	Svc *Service
}

type registerRequest struct {
	Plate      string     `json:"plate" validate:"required,max=32"`
	LotID      uuid.UUID  `json:"lot_id" validate:"required"`
	Spot       string     `json:"spot,omitempty" validate:"max=16"`
	TariffID   *uuid.UUID `json:"tariff_id,omitempty"`
	OwnerID    *uuid.UUID `json:"owner_id,omitempty"`
	OwnerName  string     `json:"owner_name,omitempty" validate:"max=120"`
	OwnerPhone string     `json:"owner_phone,omitempty" validate:"max=32"`
}

type spotRequest struct {
	Spot string `json:"spot" validate:"max=16"`
}

type tariffRequest struct {
	TariffID uuid.UUID `json:"tariff_id" validate:"required"`
}

// Register creates a vehicle.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	v, err := h.Svc.Register(r.Context(), RegisterInput{
		Plate:      req.Plate,
		LotID:      req.LotID,
		Spot:       req.Spot,
		TariffID:   req.TariffID,
		OwnerID:    req.OwnerID,
		OwnerName:  req.OwnerName,
		OwnerPhone: req.OwnerPhone,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, v)
}

// Get returns one vehicle.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	v, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, v)
}

// AssignSpot sets or clears the vehicle spot.
func (h *Handler) AssignSpot(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req spotRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	v, err := h.Svc.AssignSpot(r.Context(), id, req.Spot)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, v)
}

// ChangeTariff switches the vehicle tariff.
func (h *Handler) ChangeTariff(w http.ResponseWriter, r *http.Request) {
	id, err := common.PathUUID(r, "id")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	var req tariffRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	v, err := h.Svc.ChangeTariff(r.Context(), id, req.TariffID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, v)
}
