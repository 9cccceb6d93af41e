package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb/geojson"

	"github.com/mapbox/hecate-go/internal/auth"
	"github.com/mapbox/hecate-go/internal/errs"
)

// ListBounds implements `GET /api/data/bounds`.
func (h *Handler) ListBounds(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "bounds::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	names, err := h.Bounds.List(r.Context(), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// GetBounds implements `GET /api/data/bounds/{name}`, streaming every
// live feature intersecting the named partition.
func (h *Handler) GetBounds(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "bounds::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	name := mux.Vars(r)["name"]
	sw := streamWriter(w)
	if err := h.Bounds.Get(r.Context(), sw, name); err != nil {
		writeError(w, err)
	}
}

// SetBounds implements `POST /api/data/bounds/{name}` with a GeoJSON
// Polygon/MultiPolygon geometry body.
func (h *Handler) SetBounds(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "bounds::write", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	name := mux.Vars(r)["name"]

	var g geojson.Geometry
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, errs.Wrap(errs.BadRequest, "Invalid geometry JSON", err))
		return
	}
	if err := h.Bounds.Set(r.Context(), name, g.Geometry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DeleteBounds implements `DELETE /api/data/bounds/{name}`.
func (h *Handler) DeleteBounds(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "bounds::write", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Bounds.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// BoundsStats implements `GET /api/data/bounds/{name}/stats`.
func (h *Handler) BoundsStats(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "bounds::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.Bounds.StatsJSON(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
