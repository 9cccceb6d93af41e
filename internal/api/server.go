// Package api wires the HTTP routing layer — identity middleware plus
// the full handler surface — on top of the engines: gorilla/mux router,
// uniform JSON error envelope, and NDJSON streaming for the read-heavy
// endpoints.
package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/mapbox/hecate-go/internal/auth"
	"github.com/mapbox/hecate-go/internal/bounds"
	"github.com/mapbox/hecate-go/internal/delta"
	"github.com/mapbox/hecate-go/internal/errs"
	"github.com/mapbox/hecate-go/internal/feature"
	"github.com/mapbox/hecate-go/internal/history"
	"github.com/mapbox/hecate-go/internal/store"
	"github.com/mapbox/hecate-go/internal/tile"
	"github.com/mapbox/hecate-go/internal/worker"
)

// Version is the server version string returned by GET /api/.
const Version = "1.0.0"

// Handler holds every engine the request pipeline dispatches into. One
// Handler is shared across the process; individual methods take no other
// state.
type Handler struct {
	Store      *store.Pools
	Meta       *store.MetaStore
	Features   *feature.Engine
	Deltas     *delta.Engine
	History    *history.Engine
	Tiles      *tile.Cache
	Bounds     *bounds.Engine
	Worker     *worker.Dispatcher
	Directory  *auth.Directory
	AuthConfig *auth.Config
	SchemaJSON []byte // raw configured JSON-Schema, nil if unconfigured
}

// NewRouter builds the full /api route table.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.tokenSegmentMiddleware, h.identityMiddleware)

	// Middlewares run only once a route has matched, so token-prefixed
	// paths get a route of their own: the middleware chain strips the
	// segment, and the rewritten request is dispatched again.
	r.PathPrefix("/api/token/").Handler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.URL.Path, "/api/token/") {
			http.NotFound(w, req)
			return
		}
		r.ServeHTTP(w, req)
	}))

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/", h.ServerInfo).Methods(http.MethodGet)
	api.HandleFunc("/schema", h.GetSchema).Methods(http.MethodGet)
	api.HandleFunc("/auth", h.GetAuthConfig).Methods(http.MethodGet)

	api.HandleFunc("/meta", h.ListMeta).Methods(http.MethodGet)
	api.HandleFunc("/meta/{key}", h.GetMeta).Methods(http.MethodGet)
	api.HandleFunc("/meta/{key}", h.SetMeta).Methods(http.MethodPost)
	api.HandleFunc("/meta/{key}", h.DeleteMeta).Methods(http.MethodDelete)

	api.HandleFunc("/data/feature", h.CreateFeature).Methods(http.MethodPost)
	api.HandleFunc("/data/feature/{id:[0-9]+}", h.GetFeature).Methods(http.MethodGet)
	api.HandleFunc("/data/feature", h.LookupFeature).Methods(http.MethodGet)
	api.HandleFunc("/data/feature/{id:[0-9]+}/history", h.FeatureHistory).Methods(http.MethodGet)
	api.HandleFunc("/data/features", h.BatchFeatures).Methods(http.MethodPost)
	api.HandleFunc("/data/features", h.WindowFeatures).Methods(http.MethodGet)
	api.HandleFunc("/data/features/history", h.HistoryWindow).Methods(http.MethodGet)

	api.HandleFunc("/deltas", h.ListDeltas).Methods(http.MethodGet)
	api.HandleFunc("/delta/{id:[0-9]+}", h.GetDelta).Methods(http.MethodGet)

	api.HandleFunc("/tiles/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}", h.GetTile).Methods(http.MethodGet)
	api.HandleFunc("/tiles/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}/meta", h.GetTileMeta).Methods(http.MethodGet)
	api.HandleFunc("/tiles/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}/regen", h.RegenTile).Methods(http.MethodGet)
	api.HandleFunc("/tiles", h.DeleteTiles).Methods(http.MethodDelete)

	api.HandleFunc("/data/bounds", h.ListBounds).Methods(http.MethodGet)
	api.HandleFunc("/data/bounds/{name}", h.GetBounds).Methods(http.MethodGet)
	api.HandleFunc("/data/bounds/{name}", h.SetBounds).Methods(http.MethodPost)
	api.HandleFunc("/data/bounds/{name}", h.DeleteBounds).Methods(http.MethodDelete)
	api.HandleFunc("/data/bounds/{name}/stats", h.BoundsStats).Methods(http.MethodGet)

	api.HandleFunc("/data/clone", h.Clone).Methods(http.MethodGet)

	api.HandleFunc("/webhooks", h.ListWebhooks).Methods(http.MethodGet)
	api.HandleFunc("/webhooks", h.CreateWebhook).Methods(http.MethodPost)
	api.HandleFunc("/webhooks/{id:[0-9]+}", h.GetWebhook).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{id:[0-9]+}", h.UpdateWebhook).Methods(http.MethodPut)
	api.HandleFunc("/webhooks/{id:[0-9]+}", h.DeleteWebhook).Methods(http.MethodDelete)

	api.HandleFunc("/capabilities", h.Capabilities).Methods(http.MethodGet)
	api.HandleFunc("/0.6/map", h.OSMMap).Methods(http.MethodGet)
	api.HandleFunc("/0.6/user/details", h.OSMUserDetails).Methods(http.MethodGet)
	api.HandleFunc("/0.6/changeset/create", h.OSMChangesetCreate).Methods(http.MethodPut)
	api.HandleFunc("/0.6/changeset/{id:[0-9]+}", h.OSMChangesetUpdate).Methods(http.MethodPut)
	api.HandleFunc("/0.6/changeset/{id:[0-9]+}/close", h.OSMChangesetClose).Methods(http.MethodPut)
	api.HandleFunc("/0.6/changeset/{id:[0-9]+}/upload", h.OSMChangesetUpload).Methods(http.MethodPost)

	return r
}

// writeJSON writes a successful JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError renders err through the uniform envelope ("Response
// conventions"), logging private detail server-side only.
func writeError(w http.ResponseWriter, err error) {
	e := errs.As(err)
	if e.Detail != "" {
		log.Error().Str("detail", e.Detail).Str("kind", string(e.Kind)).Msg("request failed")
	}
	writeJSON(w, e.Status, e.Envelope())
}

// streamWriter wraps w in a bufio.Writer for handlers that stream NDJSON
// bodies through internal/stream.
func streamWriter(w http.ResponseWriter) *bufio.Writer {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	return bufio.NewWriter(w)
}
