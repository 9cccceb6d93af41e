package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mapbox/hecate-go/internal/auth"
	"github.com/mapbox/hecate-go/internal/errs"
)

// ServerInfo implements `GET /api/`: server version & constraints.
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "server", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   Version,
		"maxZoom":   17,
		"streaming": true,
	})
}

// GetSchema implements `GET /api/schema`: the configured JSON-Schema, or
// 404 if none is configured.
func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "schema::get", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	if len(h.SchemaJSON) == 0 {
		writeError(w, errs.New(errs.NotFound, "No schema configured"))
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.SchemaJSON)
}

// GetAuthConfig implements `GET /api/auth`: the effective authorization
// configuration.
func (h *Handler) GetAuthConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "auth::get", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.AuthConfig)
}

// ListMeta implements `GET /api/meta`.
func (h *Handler) ListMeta(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "meta::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	all, err := h.Meta.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// GetMeta implements `GET /api/meta/{key}`.
func (h *Handler) GetMeta(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "meta::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	val, err := h.Meta.Get(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": val})
}

// SetMeta implements `POST /api/meta/{key}`.
func (h *Handler) SetMeta(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "meta::write", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Meta.Set(r.Context(), mux.Vars(r)["key"], body.Value); err != nil {
		writeError(w, err)
		return
	}
	if h.Worker != nil {
		h.Worker.Enqueue(workerMetaTask())
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DeleteMeta implements `DELETE /api/meta/{key}`.
func (h *Handler) DeleteMeta(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "meta::write", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Meta.Delete(r.Context(), mux.Vars(r)["key"]); err != nil {
		writeError(w, err)
		return
	}
	if h.Worker != nil {
		h.Worker.Enqueue(workerMetaTask())
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
