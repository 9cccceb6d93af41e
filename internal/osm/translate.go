package osm

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mapbox/hecate-go/internal/errs"
)

// ToFeatureCollection converts the tree into a GeoJSON FeatureCollection.
func (t *Tree) ToFeatureCollection() (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()

	for _, n := range t.Nodes {
		if len(n.Tags) == 0 {
			// A node without tags contributes coordinates to a way (or
			// is a dangling placeholder); it never emits its own
			// feature.
			continue
		}
		f := geojson.NewFeature(orb.Point{n.Lon, n.Lat})
		f.ID = n.ID
		f.Properties = tagsToProperties(n.Tags)
		fc.Append(f)
	}

	for _, w := range t.Ways {
		geom, err := t.wayGeometry(w)
		if err != nil {
			return nil, err
		}
		f := geojson.NewFeature(geom)
		f.ID = w.ID
		f.Properties = tagsToProperties(w.Tags)
		fc.Append(f)
	}

	for _, r := range t.Rels {
		f, err := t.relFeature(r)
		if err != nil {
			return nil, err
		}
		if f != nil {
			fc.Append(f)
		}
	}

	return fc, nil
}

// wayGeometry builds a LineString, or a Polygon when the way is closed
// (first node == last node) and tagged.
func (t *Tree) wayGeometry(w *Way) (orb.Geometry, error) {
	coords := make([]orb.Point, 0, len(w.Nodes))
	for _, id := range w.Nodes {
		n, ok := t.Nodes[id]
		if !ok {
			return nil, errs.New(errs.UnprocessableEntity, fmt.Sprintf("way %d references unknown node %d", w.ID, id))
		}
		coords = append(coords, orb.Point{n.Lon, n.Lat})
	}
	ls := orb.LineString(coords)
	closed := len(coords) >= 4 && coords[0] == coords[len(coords)-1]
	if closed && len(w.Tags) > 0 {
		return orb.Polygon{orb.Ring(ls)}, nil
	}
	return ls, nil
}

// relFeature assembles a relation feature: multipolygon rings from
// member ways, multilinestring/multipoint collections, or an untyped
// bundle for anything else.
func (t *Tree) relFeature(r *Rel) (*geojson.Feature, error) {
	switch r.Tags["type"] {
	case "multipolygon":
		var outer, inner orb.MultiPolygon
		for _, m := range r.Members {
			if m.Type != "way" {
				continue
			}
			w, ok := t.Ways[m.Ref]
			if !ok {
				continue
			}
			geom, err := t.wayGeometry(w)
			if err != nil {
				return nil, err
			}
			ls, ok := geom.(orb.LineString)
			if !ok {
				continue
			}
			poly := orb.Polygon{orb.Ring(ls)}
			if m.Role == "inner" {
				inner = append(inner, poly)
			} else {
				outer = append(outer, poly)
			}
		}
		var mp orb.MultiPolygon
		if len(outer) == 1 && len(inner) > 0 {
			poly := outer[0]
			for _, in := range inner {
				poly = append(poly, in[0])
			}
			mp = orb.MultiPolygon{poly}
		} else {
			mp = append(outer, inner...)
		}
		f := geojson.NewFeature(mp)
		f.ID = r.ID
		f.Properties = tagsToProperties(r.Tags)
		return f, nil

	case "multilinestring":
		var mls orb.MultiLineString
		for _, m := range r.Members {
			if m.Type != "way" {
				continue
			}
			w, ok := t.Ways[m.Ref]
			if !ok {
				continue
			}
			geom, err := t.wayGeometry(w)
			if err != nil {
				return nil, err
			}
			if ls, ok := geom.(orb.LineString); ok {
				mls = append(mls, ls)
			}
		}
		f := geojson.NewFeature(mls)
		f.ID = r.ID
		f.Properties = tagsToProperties(r.Tags)
		return f, nil

	case "multipoint":
		var mp orb.MultiPoint
		for _, m := range r.Members {
			if m.Type != "node" {
				continue
			}
			n, ok := t.Nodes[m.Ref]
			if !ok {
				continue
			}
			mp = append(mp, orb.Point{n.Lon, n.Lat})
		}
		f := geojson.NewFeature(mp)
		f.ID = r.ID
		f.Properties = tagsToProperties(r.Tags)
		return f, nil

	default:
		// Unknown relation type: pass through as a bundle of member
		// geometries under a Collection, tagged with the relation's own
		// properties plus its member list.
		var collection orb.Collection
		for _, m := range r.Members {
			switch m.Type {
			case "node":
				if n, ok := t.Nodes[m.Ref]; ok {
					collection = append(collection, orb.Point{n.Lon, n.Lat})
				}
			case "way":
				if w, ok := t.Ways[m.Ref]; ok {
					geom, err := t.wayGeometry(w)
					if err == nil {
						collection = append(collection, geom)
					}
				}
			}
		}
		if len(collection) == 0 {
			return nil, nil
		}
		f := geojson.NewFeature(collection)
		f.ID = r.ID
		props := tagsToProperties(r.Tags)
		props["members"] = r.Members
		f.Properties = props
		return f, nil
	}
}

func tagsToProperties(tags map[string]string) geojson.Properties {
	props := make(geojson.Properties, len(tags))
	for k, v := range tags {
		var decoded any
		if err := json.Unmarshal(CoerceTagValue(v), &decoded); err == nil {
			props[k] = decoded
		} else {
			props[k] = v
		}
	}
	return props
}

// negativeIDAllocator hands out fresh negative placeholder ids for nodes
// synthesised while converting a FeatureCollection to OSM.
type negativeIDAllocator struct{ next int64 }

func (a *negativeIDAllocator) Next() int64 {
	a.next--
	return a.next
}

// FromFeatureCollection converts a GeoJSON FeatureCollection back into an
// OSM Tree: one synthesised negative-id node per unique coordinate of a
// line/polygon, ways referencing them, and a wrapping relation for
// multi-geometries.
func FromFeatureCollection(fc *geojson.FeatureCollection) (*Tree, error) {
	t := NewTree()
	alloc := &negativeIDAllocator{}

	for _, f := range fc.Features {
		if err := addFeatureToTree(t, alloc, f); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func addFeatureToTree(t *Tree, alloc *negativeIDAllocator, f *geojson.Feature) error {
	switch geom := f.Geometry.(type) {
	case orb.Point:
		id := idOf(f.ID, alloc)
		t.Nodes[id] = &Node{ID: id, Lon: geom.X(), Lat: geom.Y(), Tags: propertiesToTags(f.Properties)}
		return nil

	case orb.LineString:
		wayID := idOf(f.ID, alloc)
		nodeIDs := synthesizeNodes(t, alloc, geom)
		t.AddWay(&Way{ID: wayID, Nodes: nodeIDs, Tags: propertiesToTags(f.Properties)})
		return nil

	case orb.Polygon:
		if len(geom) == 0 {
			return errs.New(errs.UnsupportedOp, "empty polygon cannot be represented in OSM")
		}
		wayID := idOf(f.ID, alloc)
		nodeIDs := synthesizeNodes(t, alloc, orb.LineString(geom[0]))
		t.AddWay(&Way{ID: wayID, Nodes: nodeIDs, Tags: propertiesToTags(f.Properties)})
		if len(geom) > 1 {
			rel := &Rel{ID: alloc.Next(), Tags: map[string]string{"type": "multipolygon"}, Members: []Member{{Type: "way", Ref: wayID, Role: "outer"}}}
			for _, ring := range geom[1:] {
				innerID := alloc.Next()
				innerNodes := synthesizeNodes(t, alloc, orb.LineString(ring))
				t.AddWay(&Way{ID: innerID, Nodes: innerNodes})
				rel.Members = append(rel.Members, Member{Type: "way", Ref: innerID, Role: "inner"})
			}
			t.Rels[rel.ID] = rel
		}
		return nil

	case orb.MultiLineString, orb.MultiPolygon:
		return fromMultiGeometry(t, alloc, f, geom)

	default:
		return errs.New(errs.UnsupportedOp, fmt.Sprintf("geometry type %T cannot be represented in OSM", f.Geometry))
	}
}

func fromMultiGeometry(t *Tree, alloc *negativeIDAllocator, f *geojson.Feature, geom orb.Geometry) error {
	rel := &Rel{ID: idOf(f.ID, alloc), Tags: propertiesToTags(f.Properties)}

	switch g := geom.(type) {
	case orb.MultiLineString:
		rel.Tags["type"] = "multilinestring"
		for _, ls := range g {
			wayID := alloc.Next()
			nodeIDs := synthesizeNodes(t, alloc, ls)
			t.AddWay(&Way{ID: wayID, Nodes: nodeIDs})
			rel.Members = append(rel.Members, Member{Type: "way", Ref: wayID})
		}
	case orb.MultiPolygon:
		rel.Tags["type"] = "multipolygon"
		for _, poly := range g {
			for ringIdx, ring := range poly {
				role := "outer"
				if ringIdx > 0 {
					role = "inner"
				}
				wayID := alloc.Next()
				nodeIDs := synthesizeNodes(t, alloc, orb.LineString(ring))
				t.AddWay(&Way{ID: wayID, Nodes: nodeIDs})
				rel.Members = append(rel.Members, Member{Type: "way", Ref: wayID, Role: role})
			}
		}
	}
	t.Rels[rel.ID] = rel
	return nil
}

// synthesizeNodes allocates one fresh negative-id node per unique
// coordinate of ls and returns the resulting node id sequence.
func synthesizeNodes(t *Tree, alloc *negativeIDAllocator, ls orb.LineString) []int64 {
	seen := make(map[orb.Point]int64, len(ls))
	ids := make([]int64, len(ls))
	for i, pt := range ls {
		if id, ok := seen[pt]; ok {
			ids[i] = id
			continue
		}
		id := alloc.Next()
		t.Nodes[id] = &Node{ID: id, Lon: pt.X(), Lat: pt.Y()}
		seen[pt] = id
		ids[i] = id
	}
	return ids
}

func idOf(raw any, alloc *negativeIDAllocator) int64 {
	switch v := raw.(type) {
	case int64:
		if v != 0 {
			return v
		}
	case float64:
		if v != 0 {
			return int64(v)
		}
	}
	return alloc.Next()
}

func propertiesToTags(props geojson.Properties) map[string]string {
	tags := make(map[string]string, len(props))
	for k, v := range props {
		if k == "members" {
			continue
		}
		tags[k] = EncodeTagValue(v)
	}
	return tags
}
