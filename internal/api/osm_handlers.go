package api

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb/geojson"

	"github.com/mapbox/hecate-go/internal/auth"
	"github.com/mapbox/hecate-go/internal/delta"
	"github.com/mapbox/hecate-go/internal/errs"
	"github.com/mapbox/hecate-go/internal/feature"
	"github.com/mapbox/hecate-go/internal/osm"
	"github.com/mapbox/hecate-go/internal/worker"
)

// Capabilities implements `GET /api/capabilities`: the fixed OSM 0.6
// server limits an editor queries before its first request.
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "osm::capabilities", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}

	type versionElem struct {
		Minimum string `xml:"minimum,attr"`
		Maximum string `xml:"maximum,attr"`
	}
	type limitElem struct {
		Maximum string `xml:"maximum,attr"`
	}
	type changesetsElem struct {
		MaximumElements string `xml:"maximum_elements,attr"`
	}
	type apiElem struct {
		Version    versionElem    `xml:"version"`
		Area       limitElem      `xml:"area"`
		Waynodes   limitElem      `xml:"waynodes"`
		Changesets changesetsElem `xml:"changesets"`
	}
	type doc struct {
		XMLName xml.Name `xml:"osm"`
		API     apiElem  `xml:"api"`
	}

	writeXML(w, doc{API: apiElem{
		Version:    versionElem{Minimum: "0.6", Maximum: "0.6"},
		Area:       limitElem{Maximum: "0.25"},
		Waynodes:   limitElem{Maximum: "2000"},
		Changesets: changesetsElem{MaximumElements: "10000"},
	}})
}

// OSMMap implements `GET /api/0.6/map?bbox=`: every live feature in the
// window, translated back into OSM XML nodes/ways/relations.
func (h *Handler) OSMMap(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "osm::map", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	bbox := r.URL.Query().Get("bbox")
	if bbox == "" {
		writeError(w, errs.New(errs.BadRequest, "bbox query parameter is required"))
		return
	}
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

	fc := geojson.NewFeatureCollection()
	for i := range features {
		gf := geojson.NewFeature(features[i].Geometry)
		gf.ID = features[i].ID
		if len(features[i].Properties) > 0 {
			var props map[string]any
			if err := json.Unmarshal(features[i].Properties, &props); err != nil {
				writeError(w, errs.Wrap(errs.Internal, "Failed to decode properties", err))
				return
			}
			gf.Properties = props
		}
		fc.Append(gf)
	}

	tree, err := osm.FromFeatureCollection(fc)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := tree.ToXML()
	if err != nil {
		writeError(w, errs.Wrap(errs.Internal, "Failed to encode OSM XML", err))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// OSMUserDetails implements `GET /api/0.6/user/details`: the identity of
// the caller the way an OSM editor expects to read it back.
func (h *Handler) OSMUserDetails(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "osm::user", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	id := identityFromContext(r)
	if !id.Authenticated {
		writeError(w, errs.New(errs.NotAuthenticated, "Authentication required"))
		return
	}
	user, err := h.Directory.LookupUser(r.Context(), id.UID)
	if err != nil {
		writeError(w, err)
		return
	}

	type userElem struct {
		ID          int64  `xml:"id,attr"`
		DisplayName string `xml:"display_name,attr"`
	}
	type doc struct {
		XMLName xml.Name `xml:"osm"`
		User    userElem `xml:"user"`
	}
	writeXML(w, doc{User: userElem{ID: user.ID, DisplayName: user.Username}})
}

// osmTagXML is the `<tag k="" v=""/>` element shared by changeset
// request and response bodies.
type osmTagXML struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type osmChangesetDoc struct {
	XMLName   xml.Name `xml:"osm"`
	Changeset struct {
		Tags []osmTagXML `xml:"tag"`
	} `xml:"changeset"`
}

func decodeChangesetTags(r *http.Request) (map[string]string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errs.Wrap(errs.BadRequest, "Failed to read request body", err)
	}
	var doc osmChangesetDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, errs.Wrap(errs.BadRequest, "Malformed changeset document", err)
	}
	props := make(map[string]string, len(doc.Changeset.Tags))
	for _, t := range doc.Changeset.Tags {
		props[t.K] = t.V
	}
	if props["message"] == "" {
		if c := props["comment"]; c != "" {
			props["message"] = c
		} else {
			props["message"] = "osm changeset"
		}
	}
	return props, nil
}

// OSMChangesetCreate implements `PUT /api/0.6/changeset/create`: opens a
// delta from the changeset's tag set and replies with its bare id, per
// the OSM 0.6 wire convention (a bare number, not JSON or XML).
func (h *Handler) OSMChangesetCreate(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "osm::changeset::create", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	props, err := decodeChangesetTags(r)
	if err != nil {
		writeError(w, err)
		return
	}

	uid := identityFromContext(r).UID
	tx, err := h.Store.Write.BeginTx(r.Context(), nil)
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	defer tx.Rollback()

	d, err := delta.New().Open(r.Context(), tx, uid, props)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, errs.Database(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strconv.FormatInt(d.ID, 10)))
}

// OSMChangesetUpdate implements `PUT /api/0.6/changeset/{id}`: replaces
// the changeset's tag set while it remains open.
func (h *Handler) OSMChangesetUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "osm::changeset::update", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.BadRequest, "Invalid changeset id"))
		return
	}
	props, err := decodeChangesetTags(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.Store.Write.BeginTx(r.Context(), nil)
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	defer tx.Rollback()

	if err := delta.New().ModifyProps(r.Context(), tx, id, props); err != nil {
		writeError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, errs.Database(err))
		return
	}

	type changesetElem struct {
		ID   int64       `xml:"id,attr"`
		Open bool        `xml:"open,attr"`
		Tags []osmTagXML `xml:"tag"`
	}
	type doc struct {
		XMLName   xml.Name      `xml:"osm"`
		Changeset changesetElem `xml:"changeset"`
	}
	tags := make([]osmTagXML, 0, len(props))
	for k, v := range props {
		tags = append(tags, osmTagXML{K: k, V: v})
	}
	writeXML(w, doc{Changeset: changesetElem{ID: id, Open: true, Tags: tags}})
}

// OSMChangesetClose implements `PUT /api/0.6/changeset/{id}/close`:
// finalizes the delta, closing it to further modification.
func (h *Handler) OSMChangesetClose(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "osm::changeset::close", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.BadRequest, "Invalid changeset id"))
		return
	}

	tx, err := h.Store.Write.BeginTx(r.Context(), nil)
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	defer tx.Rollback()

	if err := delta.New().Finalize(r.Context(), tx, id); err != nil {
		writeError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, errs.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// classify reports which element kind, action and current version id
// was assembled from in the tree, used to route each uploaded feature
// back through the right diffResult bucket.
func classify(t *osm.Tree, id int64) (kind string, action feature.Action, version int64) {
	if n, ok := t.Nodes[id]; ok {
		return "node", feature.Action(n.Action), n.Version
	}
	if wy, ok := t.Ways[id]; ok {
		return "way", feature.Action(wy.Action), wy.Version
	}
	if rel, ok := t.Rels[id]; ok {
		return "relation", feature.Action(rel.Action), rel.Version
	}
	return "", feature.ActionCreate, 0
}

func osmElementID(raw any) int64 {
	v, _ := raw.(int64)
	return v
}

// OSMChangesetUpload implements `POST /api/0.6/changeset/{id}/upload`:
// parses an osmChange document, applies each node/way/relation through
// the feature engine under the named changeset, and replies with the
// resulting diffResult.
func (h *Handler) OSMChangesetUpload(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "osm::changeset::upload", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	deltaID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.BadRequest, "Invalid changeset id"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errs.Wrap(errs.BadRequest, "Failed to read request body", err))
		return
	}
	tree, err := osm.ParseChangeset(body)
	if err != nil {
		writeError(w, err)
		return
	}
	fc, err := tree.ToFeatureCollection()
	if err != nil {
		writeError(w, err)
		return
	}

	canForce := h.requireScope(r, "feature::force", auth.RWFull) == nil

	tx, err := h.Store.Write.BeginTx(r.Context(), nil)
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	defer tx.Rollback()

	deltas := delta.New()
	open, err := deltas.IsOpen(r.Context(), tx, deltaID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !open {
		writeError(w, errs.New(errs.Conflict, "changeset closed"))
		return
	}

	diff := osm.NewDiffResult()
	var affected []int64

	for _, f := range fc.Features {
		oldID := osmElementID(f.ID)
		kind, action, version := classify(tree, oldID)

		props, merr := json.Marshal(f.Properties)
		if merr != nil {
			writeError(w, errs.Wrap(errs.BadRequest, "Invalid properties", merr))
			return
		}
		ff := &feature.Feature{Action: action, Geometry: f.Geometry, Properties: props}
		if action != feature.ActionCreate {
			ff.ID = oldID
			ff.Version = version
		}

		result, err := h.Features.Action(r.Context(), tx, ff, deltaID, canForce)
		if err != nil {
			writeError(w, err)
			return
		}

		var newID, newVersion *int64
		switch {
		case result.NewID != nil:
			newID = result.NewID
			newVersion = result.Version
			affected = append(affected, *result.NewID)
		case result.OldID != nil:
			affected = append(affected, *result.OldID)
		}

		switch kind {
		case "node":
			diff.AddNode(oldID, newID, newVersion)
		case "way":
			diff.AddWay(oldID, newID, newVersion)
		case "relation":
			diff.AddRelation(oldID, newID, newVersion)
		}
	}

	if err := deltas.RecordAffected(r.Context(), tx, deltaID, affected); err != nil {
		writeError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeError(w, errs.Database(err))
		return
	}

	if h.Worker != nil {
		h.Worker.Enqueue(worker.Delta(deltaID))
	}

	out, err := diff.Marshal()
	if err != nil {
		writeError(w, errs.Wrap(errs.Internal, "Failed to encode diffResult", err))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// writeXML marshals doc as indented XML and writes it with a 200 status.
func writeXML(w http.ResponseWriter, doc any) {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		writeError(w, errs.Wrap(errs.Internal, "Failed to encode XML response", err))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
