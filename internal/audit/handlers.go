package audit

import (
	"net/http"
	"strings"

	"github.com/noah-isme/parkir-api/internal/common"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Store Store
}

// List pages audit entries, optionally for one resource.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.WriteError(w, common.Internal("audit store not configured", nil))
		return
	}
	f := Filter{
		ResourceType: strings.TrimSpace(r.URL.Query().Get("resource_type")),
		ResourceID:   strings.TrimSpace(r.URL.Query().Get("resource_id")),
	}
	page, perPage := common.ParsePagination(r, 50)
	p := common.NormalizePage(page, perPage, 50)

	entries, err := h.Store.List(r.Context(), f, p.PerPage, p.Offset())
	if err != nil {
		common.WriteError(w, common.Transient("list audit log", err))
		return
	}
	total, err := h.Store.Count(r.Context(), f)
	if err != nil {
		common.WriteError(w, common.Transient("count audit log", err))
		return
	}
	p.TotalItems = int(total)
	if entries == nil {
		entries = []Entry{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": entries, "pagination": p})
}
