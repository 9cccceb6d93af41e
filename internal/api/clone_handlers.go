package api

import (
	"net/http"

	"github.com/mapbox/hecate-go/internal/auth"
)

// Clone implements `GET /api/data/clone` / `?query=`: a full-table
// export when no query is supplied, otherwise the raw SQL run against
// the sandbox pool, both streamed as NDJSON.
func (h *Handler) Clone(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "clone::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	sw := streamWriter(w)
	if err := h.Store.SandboxQuery(r.Context(), sw, r.URL.Query().Get("query")); err != nil {
		writeError(w, err)
	}
}
