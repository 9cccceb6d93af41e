package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb/maptile"

	"github.com/mapbox/hecate-go/internal/auth"
	"github.com/mapbox/hecate-go/internal/errs"
)

func tileCoords(r *http.Request) (maptile.Zoom, uint32, uint32, error) {
	vars := mux.Vars(r)
	z, err := strconv.ParseUint(vars["z"], 10, 8)
	if err != nil {
		return 0, 0, 0, errs.New(errs.BadRequest, "Invalid zoom")
	}
	x, err := strconv.ParseUint(vars["x"], 10, 32)
	if err != nil {
		return 0, 0, 0, errs.New(errs.BadRequest, "Invalid x")
	}
	y, err := strconv.ParseUint(vars["y"], 10, 32)
	if err != nil {
		return 0, 0, 0, errs.New(errs.BadRequest, "Invalid y")
	}
	return maptile.Zoom(z), uint32(x), uint32(y), nil
}

// GetTile implements `GET /api/tiles/{z}/{x}/{y}`.
func (h *Handler) GetTile(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "mvt::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	z, x, y, err := tileCoords(r)
	if err != nil {
		writeError(w, err)
		return
	}
	regen := r.URL.Query().Get("regen") == "true"
	data, err := h.Tiles.Get(r.Context(), z, x, y, regen)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetTileMeta implements `GET /api/tiles/{z}/{x}/{y}/meta`.
func (h *Handler) GetTileMeta(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "mvt::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	z, x, y, err := tileCoords(r)
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := h.Tiles.Meta(r.Context(), z, x, y)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// RegenTile implements `GET /api/tiles/{z}/{x}/{y}/regen`, gated by
// `mvt.regen` since it forces an immediate render+upsert.
func (h *Handler) RegenTile(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "mvt::regen", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	z, x, y, err := tileCoords(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := h.Tiles.Regen(r.Context(), z, x, y)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DeleteTiles implements `DELETE /api/tiles`, gated by `mvt.delete`
// (not `mvt.regen`).
func (h *Handler) DeleteTiles(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "mvt::delete", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Tiles.Wipe(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
