package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mapbox/hecate-go/internal/auth"
	"github.com/mapbox/hecate-go/internal/delta"
	"github.com/mapbox/hecate-go/internal/errs"
	"github.com/mapbox/hecate-go/internal/feature"
	"github.com/mapbox/hecate-go/internal/validate"
	"github.com/mapbox/hecate-go/internal/worker"
)

// CreateFeature implements `POST /api/data/feature` (seed scenario 1): a
// single feature wrapped in its own one-feature delta.
func (h *Handler) CreateFeature(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "feature::create", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errs.Wrap(errs.BadRequest, "Failed to read request body", err))
		return
	}

	var f feature.Feature
	if err := json.Unmarshal(body, &f); err != nil {
		writeError(w, errs.Wrap(errs.BadRequest, "Invalid feature JSON", err))
		return
	}
	var wrapper struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &wrapper)

	id := identityFromContext(r)
	canForce := h.requireScope(r, "feature::force", auth.RWFull) == nil

	result, err := h.runSingleFeatureDelta(r, id.UID, wrapper.Message, &f, canForce)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// runSingleFeatureDelta opens a one-feature delta, runs the mutation,
// finalizes and commits, and enqueues the webhook notification — the
// write pipeline described in.
func (h *Handler) runSingleFeatureDelta(r *http.Request, uid int64, message string, f *feature.Feature, canForce bool) (*feature.MutationResult, error) {
	tx, err := h.Store.Write.BeginTx(r.Context(), nil)
	if err != nil {
		return nil, errs.Database(err)
	}
	defer tx.Rollback()

	deltas := delta.New()
	d, err := deltas.Open(r.Context(), tx, uid, map[string]string{"message": message})
	if err != nil {
		return nil, err
	}

	result, err := h.Features.Action(r.Context(), tx, f, d.ID, canForce)
	if err != nil {
		return nil, err
	}

	affectedID := f.ID
	if result.NewID != nil {
		affectedID = *result.NewID
	}
	if err := deltas.RecordAffected(r.Context(), tx, d.ID, []int64{affectedID}); err != nil {
		return nil, err
	}
	if err := deltas.Finalize(r.Context(), tx, d.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.Database(err)
	}

	if h.Worker != nil {
		h.Worker.Enqueue(worker.Delta(d.ID))
	}
	return result, nil
}

// GetFeature implements `GET /api/data/feature/{id}`.
func (h *Handler) GetFeature(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "feature::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.BadRequest, "Invalid feature id"))
		return
	}
	f, err := h.Features.Get(r.Context(), h.Store.Read(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// LookupFeature implements `GET /api/data/feature?key=|point=`.
func (h *Handler) LookupFeature(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "feature::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	db := h.Store.Read()

	if key := q.Get("key"); key != "" {
		f, err := h.Features.QueryByKey(r.Context(), db, key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
		return
	}
	if point := q.Get("point"); point != "" {
		lng, lat, err := parseLngLat(point)
		if err != nil {
			writeError(w, err)
			return
		}
		f, err := h.Features.QueryByPoint(r.Context(), db, lng, lat)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
		return
	}
	writeError(w, errs.New(errs.BadRequest, "key or point query parameter is required"))
}

// FeatureHistory implements `GET /api/data/feature/{id}/history`.
func (h *Handler) FeatureHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "feature::history", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.BadRequest, "Invalid feature id"))
		return
	}
	entries, err := h.History.Replay(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// BatchFeatures implements `POST /api/data/features` (FeatureCollection
// body), a multi-feature delta applied atomically.
func (h *Handler) BatchFeatures(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "feature::create", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}

	var batch struct {
		Message  string             `json:"message"`
		Features []*feature.Feature `json:"features"`
	}
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, errs.Wrap(errs.BadRequest, "Invalid batch JSON", err))
		return
	}

	id := identityFromContext(r)
	canForce := h.requireScope(r, "feature::force", auth.RWFull) == nil

	tx, err := h.Store.Write.BeginTx(r.Context(), nil)
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	defer tx.Rollback()

	deltas := delta.New()
	d, err := deltas.Open(r.Context(), tx, id.UID, map[string]string{"message": batch.Message})
	if err != nil {
		writeError(w, err)
		return
	}

	results := make([]*feature.MutationResult, 0, len(batch.Features))
	var affected []int64
	for _, f := range batch.Features {
		result, err := h.Features.Action(r.Context(), tx, f, d.ID, canForce)
		if err != nil {
			writeError(w, err)
			return
		}
		results = append(results, result)
		switch {
		case result.NewID != nil:
			affected = append(affected, *result.NewID)
		case result.OldID != nil:
			affected = append(affected, *result.OldID)
		}
	}

	if err := deltas.RecordAffected(r.Context(), tx, d.ID, affected); err != nil {
		writeError(w, err)
		return
	}
	if err := deltas.Finalize(r.Context(), tx, d.ID); err != nil {
		writeError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, errs.Database(err))
		return
	}

	if h.Worker != nil {
		h.Worker.Enqueue(worker.Delta(d.ID))
	}
	writeJSON(w, http.StatusOK, map[string]any{"delta": d.ID, "results": results})
}

// WindowFeatures implements `GET /api/data/features?bbox=|point=`.
func (h *Handler) WindowFeatures(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "feature::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	if bbox := q.Get("bbox"); bbox != "" {
		minLng, minLat, maxLng, maxLat, err := parseBBox(bbox)
		if err != nil {
			writeError(w, err)
			return
		}
		features, err := h.Features.GetBBox(r.Context(), h.Store.Read(), minLng, minLat, maxLng, maxLat)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, features)
		return
	}
	if point := q.Get("point"); point != "" {
		lng, lat, err := parseLngLat(point)
		if err != nil {
			writeError(w, err)
			return
		}
		f, err := h.Features.QueryByPoint(r.Context(), h.Store.Read(), lng, lat)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
		return
	}
	writeError(w, errs.New(errs.BadRequest, "bbox or point query parameter is required"))
}

// HistoryWindow implements `GET /api/data/features/history?bbox=|point=`,
// streamed NDJSON.
func (h *Handler) HistoryWindow(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "feature::history", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	sw := streamWriter(w)

	var err error
	switch {
	case q.Get("bbox") != "":
		var minLng, minLat, maxLng, maxLat float64
		minLng, minLat, maxLng, maxLat, err = parseBBox(q.Get("bbox"))
		if err == nil {
			err = h.History.BBoxWindow(r.Context(), sw, minLng, minLat, maxLng, maxLat)
		}
	case q.Get("point") != "":
		var lng, lat float64
		lng, lat, err = parseLngLat(q.Get("point"))
		if err == nil {
			err = h.History.PointWindow(r.Context(), sw, lng, lat)
		}
	default:
		err = errs.New(errs.BadRequest, "bbox or point query parameter is required")
	}
	if err != nil {
		writeError(w, err)
	}
}

func parseLngLat(raw string) (float64, float64, error) {
	var lng, lat float64
	n, err := parseFloats(raw, &lng, &lat)
	if err != nil || n != 2 {
		return 0, 0, errs.New(errs.BadRequest, "Invalid point")
	}
	if err := validate.Lng(lng); err != nil {
		return 0, 0, err
	}
	if err := validate.Lat(lat); err != nil {
		return 0, 0, err
	}
	return lng, lat, nil
}

func parseBBox(raw string) (minLng, minLat, maxLng, maxLat float64, err error) {
	n, perr := parseFloats(raw, &minLng, &minLat, &maxLng, &maxLat)
	if perr != nil || n != 4 {
		return 0, 0, 0, 0, errs.New(errs.BadRequest, "Invalid BBOX")
	}
	if _, err := validate.BBox(minLng, minLat, maxLng, maxLat); err != nil {
		return 0, 0, 0, 0, err
	}
	return minLng, minLat, maxLng, maxLat, nil
}
