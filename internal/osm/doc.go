package osm

import "encoding/xml"

// Document is the full OSM 0.6 `<osm>` wrapper emitted by the map-query
// endpoint — the verbose node/way/relation form, as opposed to the
// compact osmChange grammar accepted on upload.
type Document struct {
	XMLName   xml.Name    `xml:"osm"`
	Version   string      `xml:"version,attr"`
	Generator string      `xml:"generator,attr"`
	Nodes     []xmlNodeOut `xml:"node"`
	Ways      []xmlWayOut  `xml:"way"`
	Rels      []xmlRelOut  `xml:"relation"`
}

type xmlTagOut struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type xmlNodeOut struct {
	ID      int64       `xml:"id,attr"`
	Lat     float64     `xml:"lat,attr"`
	Lon     float64     `xml:"lon,attr"`
	Version int64       `xml:"version,attr"`
	Tags    []xmlTagOut `xml:"tag"`
}

type xmlNdOut struct {
	Ref int64 `xml:"ref,attr"`
}

type xmlWayOut struct {
	ID      int64       `xml:"id,attr"`
	Version int64       `xml:"version,attr"`
	Nds     []xmlNdOut  `xml:"nd"`
	Tags    []xmlTagOut `xml:"tag"`
}

type xmlMemberOut struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type xmlRelOut struct {
	ID      int64          `xml:"id,attr"`
	Version int64          `xml:"version,attr"`
	Members []xmlMemberOut `xml:"member"`
	Tags    []xmlTagOut    `xml:"tag"`
}

// ToXML renders the tree as a full OSM 0.6 `<osm>` document, the format
// `GET /api/0.6/map` replies with.
func (t *Tree) ToXML() ([]byte, error) {
	doc := Document{Version: "0.6", Generator: "hecate"}
	for _, n := range t.Nodes {
		doc.Nodes = append(doc.Nodes, xmlNodeOut{ID: n.ID, Lat: n.Lat, Lon: n.Lon, Version: n.Version, Tags: tagsOut(n.Tags)})
	}
	for _, w := range t.Ways {
		nds := make([]xmlNdOut, len(w.Nodes))
		for i, id := range w.Nodes {
			nds[i] = xmlNdOut{Ref: id}
		}
		doc.Ways = append(doc.Ways, xmlWayOut{ID: w.ID, Version: w.Version, Nds: nds, Tags: tagsOut(w.Tags)})
	}
	for _, rel := range t.Rels {
		members := make([]xmlMemberOut, len(rel.Members))
		for i, m := range rel.Members {
			members[i] = xmlMemberOut{Type: m.Type, Ref: m.Ref, Role: m.Role}
		}
		doc.Rels = append(doc.Rels, xmlRelOut{ID: rel.ID, Version: rel.Version, Members: members, Tags: tagsOut(rel.Tags)})
	}
	return xml.MarshalIndent(doc, "", "  ")
}

func tagsOut(tags map[string]string) []xmlTagOut {
	out := make([]xmlTagOut, 0, len(tags))
	for k, v := range tags {
		out = append(out, xmlTagOut{K: k, V: v})
	}
	return out
}
