package osm

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/mapbox/hecate-go/internal/errs"
)

// xmlChangeset is the OSM 0.6 osmChange grammar: <create>|<modify>|
// <delete> blocks, each containing any mix of node/way/relation
// elements.
type xmlChangeset struct {
	XMLName xml.Name      `xml:"osmChange"`
	Create  *xmlActionSet `xml:"create"`
	Modify  *xmlActionSet `xml:"modify"`
	Delete  *xmlActionSet `xml:"delete"`
}

type xmlActionSet struct {
	Nodes []xmlNode `xml:"node"`
	Ways  []xmlWay  `xml:"way"`
	Rels  []xmlRel  `xml:"relation"`
}

type xmlTag struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type xmlNode struct {
	ID      int64    `xml:"id,attr"`
	Lat     *float64 `xml:"lat,attr"`
	Lon     *float64 `xml:"lon,attr"`
	Version *int64   `xml:"version,attr"`
	Tags    []xmlTag `xml:"tag"`
}

type xmlNd struct {
	Ref int64 `xml:"ref,attr"`
}

type xmlWay struct {
	ID      int64    `xml:"id,attr"`
	Version *int64   `xml:"version,attr"`
	Nds     []xmlNd  `xml:"nd"`
	Tags    []xmlTag `xml:"tag"`
}

type xmlMember struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type xmlRel struct {
	ID      int64       `xml:"id,attr"`
	Version *int64      `xml:"version,attr"`
	Members []xmlMember `xml:"member"`
	Tags    []xmlTag    `xml:"tag"`
}

// ParseChangeset parses an osmChange document into a Tree, applying the
// validation rules of: every failure returns UnprocessableEntity.
func ParseChangeset(data []byte) (*Tree, error) {
	var doc xmlChangeset
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.UnprocessableEntity, "Malformed osmChange document", err)
	}

	t := NewTree()
	if doc.Create != nil {
		if err := t.ingest(doc.Create, "create"); err != nil {
			return nil, err
		}
	}
	if doc.Modify != nil {
		if err := t.ingest(doc.Modify, "modify"); err != nil {
			return nil, err
		}
	}
	if doc.Delete != nil {
		if err := t.ingest(doc.Delete, "delete"); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) ingest(set *xmlActionSet, action string) error {
	for _, n := range set.Nodes {
		if n.ID == 0 || n.Lat == nil || n.Lon == nil || n.Version == nil {
			return errs.New(errs.UnprocessableEntity, fmt.Sprintf("node %d missing id/lat/lon/version", n.ID))
		}
		node := &Node{ID: n.ID, Lat: *n.Lat, Lon: *n.Lon, Version: *n.Version, Tags: tagsToMap(n.Tags), Action: action}
		t.Nodes[n.ID] = node
	}

	for _, w := range set.Ways {
		if w.ID == 0 || w.Version == nil || len(w.Nds) < 2 {
			return errs.New(errs.UnprocessableEntity, fmt.Sprintf("way %d requires id, version, and >=2 nodes", w.ID))
		}
		nodeIDs := make([]int64, len(w.Nds))
		for i, nd := range w.Nds {
			nodeIDs[i] = nd.Ref
			if nd.Ref <= 0 {
				if _, ok := t.Nodes[nd.Ref]; !ok {
					return errs.New(errs.UnprocessableEntity, fmt.Sprintf("way %d references unresolved placeholder node %d", w.ID, nd.Ref))
				}
			}
		}
		way := &Way{ID: w.ID, Version: *w.Version, Nodes: nodeIDs, Tags: tagsToMap(w.Tags), Action: action}
		t.AddWay(way)
	}

	for _, r := range set.Rels {
		if r.ID == 0 || r.Version == nil {
			return errs.New(errs.UnprocessableEntity, fmt.Sprintf("relation %d requires id and version", r.ID))
		}
		members := make([]Member, len(r.Members))
		for i, m := range r.Members {
			members[i] = Member{Type: m.Type, Ref: m.Ref, Role: m.Role}
		}
		t.Rels[r.ID] = &Rel{ID: r.ID, Version: *r.Version, Members: members, Tags: tagsToMap(r.Tags), Action: action}
	}

	return nil
}

// tagsToMap stores tag values as their raw strings; JSON coercion
// (number/bool/object/array) is applied by CoerceTagValue when GeoJSON
// properties are built, so values can be reverse-translated on emit.
func tagsToMap(tags []xmlTag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.K] = t.V
	}
	return m
}

// CoerceTagValue parses a tag's string value into JSON when it is a
// valid JSON number, boolean, object or array, otherwise (including
// "null" and quoted strings) returns it as a JSON string literal — the
// reverse of EncodeTagValue, used when building GeoJSON properties.
func CoerceTagValue(v string) json.RawMessage {
	if json.Valid([]byte(v)) {
		var probe any
		if err := json.Unmarshal([]byte(v), &probe); err == nil {
			switch probe.(type) {
			case float64, bool, map[string]any, []any:
				return json.RawMessage(v)
			}
		}
	}
	b, _ := json.Marshal(v)
	return json.RawMessage(b)
}

// EncodeTagValue serialises a JSON property value back into an OSM tag
// string fixed rule: true→"yes", false→"no", null→"",
// numbers via canonical form, objects/arrays re-serialised as JSON text.
func EncodeTagValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
