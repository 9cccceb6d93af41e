package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mapbox/hecate-go/internal/auth"
	"github.com/mapbox/hecate-go/internal/delta"
	"github.com/mapbox/hecate-go/internal/errs"
)

// ListDeltas implements `GET /api/deltas?offset=|limit=|start=|end=`.
func (h *Handler) ListDeltas(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "delta::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	var opts delta.ListOptions

	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, errs.New(errs.BadRequest, "Invalid limit"))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, errs.New(errs.BadRequest, "Invalid offset"))
			return
		}
		opts.Offset = &n
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, errs.New(errs.BadRequest, "Invalid start"))
			return
		}
		opts.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, errs.New(errs.BadRequest, "Invalid end"))
			return
		}
		opts.End = &t
	}

	deltas := delta.New()
	list, err := deltas.List(r.Context(), h.Store.Read(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetDelta implements `GET /api/delta/{id}`.
func (h *Handler) GetDelta(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "delta::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.BadRequest, "Invalid delta id"))
		return
	}
	deltas := delta.New()
	d, err := deltas.Get(r.Context(), h.Store.Read(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
