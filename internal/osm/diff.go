package osm

import "encoding/xml"

// DiffResult is /upload reply: for each submitted element, the
// mapping from its old (possibly negative placeholder) id to its new
// server-assigned id and version. Deletes omit NewID.
type DiffResult struct {
	XMLName xml.Name         `xml:"diffResult"`
	Version string           `xml:"version,attr"`
	Nodes   []DiffResultElem `xml:"node"`
	Ways    []DiffResultElem `xml:"way"`
	Rels    []DiffResultElem `xml:"relation"`
}

// DiffResultElem is one <node|way|relation old_id="" new_id="" new_version=""/>.
type DiffResultElem struct {
	OldID      int64  `xml:"old_id,attr"`
	NewID      *int64 `xml:"new_id,attr,omitempty"`
	NewVersion *int64 `xml:"new_version,attr,omitempty"`
}

// NewDiffResult builds an empty diffResult ready to be populated as the
// upload applies each element's mutation.
func NewDiffResult() *DiffResult {
	return &DiffResult{Version: "0.6"}
}

// AddNode records a node's upload result (deletes pass newID=nil).
func (d *DiffResult) AddNode(oldID int64, newID, newVersion *int64) {
	d.Nodes = append(d.Nodes, DiffResultElem{OldID: oldID, NewID: newID, NewVersion: newVersion})
}

// AddWay records a way's upload result.
func (d *DiffResult) AddWay(oldID int64, newID, newVersion *int64) {
	d.Ways = append(d.Ways, DiffResultElem{OldID: oldID, NewID: newID, NewVersion: newVersion})
}

// AddRelation records a relation's upload result.
func (d *DiffResult) AddRelation(oldID int64, newID, newVersion *int64) {
	d.Rels = append(d.Rels, DiffResultElem{OldID: oldID, NewID: newID, NewVersion: newVersion})
}

// Marshal serialises the diffResult to OSM XML.
func (d *DiffResult) Marshal() ([]byte, error) {
	return xml.MarshalIndent(d, "", "  ")
}
