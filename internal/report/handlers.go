package report

import (
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/parkir-api/internal/common"
)

// Handler exposes reports as JSON and PDF.
type Handler struct {
	Svc      *Service
	Renderer Renderer
}

// Revenue returns the revenue report.
func (h *Handler) Revenue(w http.ResponseWriter, r *http.Request) {
	rep, err := h.revenue(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, rep)
}

// RevenuePDF renders the revenue report as a PDF.
func (h *Handler) RevenuePDF(w http.ResponseWriter, r *http.Request) {
	rep, err := h.revenue(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	doc, err := h.Renderer.Revenue(rep)
	if err != nil {
		common.WriteError(w, common.Internal("render revenue report", err))
		return
	}
	writePDF(w, "revenue-report.pdf", doc)
}

// Occupancy returns the occupancy report.
func (h *Handler) Occupancy(w http.ResponseWriter, r *http.Request) {
	rep, err := h.occupancy(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, rep)
}

// OccupancyPDF renders the occupancy report as a PDF.
func (h *Handler) OccupancyPDF(w http.ResponseWriter, r *http.Request) {
	rep, err := h.occupancy(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	doc, err := h.Renderer.Occupancy(rep)
	if err != nil {
		common.WriteError(w, common.Internal("render occupancy report", err))
		return
	}
	writePDF(w, "occupancy-report.pdf", doc)
}

func (h *Handler) revenue(r *http.Request) (RevenueReport, error) {
	lotID, err := common.QueryUUID(r, "lot_id")
	if err != nil {
		return RevenueReport{}, err
	}
	loc := h.Svc.location()
	from, _, err := parseBound(r, "from", loc)
	if err != nil {
		return RevenueReport{}, err
	}
	to, dateOnly, err := parseBound(r, "to", loc)
	if err != nil {
		return RevenueReport{}, err
	}
	if to != nil && dateOnly {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	page, perPage := common.ParsePagination(r, defaultRowsPerPage)
	return h.Svc.Revenue(r.Context(), RevenueQuery{
		LotID:   lotID,
		From:    from,
		To:      to,
		Service: r.URL.Query().Get("service"),
		Page:    page,
		PerPage: perPage,
	})
}

func (h *Handler) occupancy(r *http.Request) (OccupancyReport, error) {
	lotID, err := common.QueryUUID(r, "lot_id")
	if err != nil {
		return OccupancyReport{}, err
	}
	loc := h.Svc.location()
	from, _, err := parseBound(r, "from", loc)
	if err != nil {
		return OccupancyReport{}, err
	}
	to, _, err := parseBound(r, "to", loc)
	if err != nil {
		return OccupancyReport{}, err
	}
	return h.Svc.Occupancy(r.Context(), OccupancyQuery{LotID: lotID, From: from, To: to})
}

// parseBound accepts RFC3339 or a calendar date in loc and reports which one it got.
func parseBound(r *http.Request, name string, loc *time.Location) (*time.Time, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, false, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, false, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return nil, false, common.InvalidInput("INVALID_PARAMETER", name+" must be RFC3339 or YYYY-MM-DD")
	}
	return &t, true, nil
}

func writePDF(w http.ResponseWriter, filename string, doc []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
