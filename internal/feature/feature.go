// Package feature implements the CRUD/restore feature engine: the
// per-feature monotonic version counter, natural-key uniqueness, geometry
// normalisation, and optional JSON-Schema validation of properties.
package feature

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Action identifies which of the four mutation kinds a Feature carries.
type Action string

const (
	ActionCreate  Action = "create"
	ActionModify  Action = "modify"
	ActionDelete  Action = "delete"
	ActionRestore Action = "restore"
)

// Feature is the wire/storage representation: a GeoJSON feature plus
// Hecate's versioning metadata.
type Feature struct {
	ID         int64           `json:"id,omitempty"`
	Key        *string         `json:"key,omitempty"`
	Version    int64           `json:"version,omitempty"`
	Action     Action          `json:"action,omitempty"`
	Force      bool            `json:"force,omitempty"`
	Geometry   orb.Geometry    `json:"-"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Deltas     []int64         `json:"deltas,omitempty"`
}

// MarshalJSON emits a standard GeoJSON Feature, with Hecate's extra fields
// folded into top-level keys the way the source embeds them alongside
// "type"/"geometry"/"properties".
func (f Feature) MarshalJSON() ([]byte, error) {
	gf := geojson.NewFeature(f.Geometry)
	if len(f.Properties) > 0 {
		var props map[string]any
		if err := json.Unmarshal(f.Properties, &props); err != nil {
			return nil, err
		}
		gf.Properties = props
	}
	gf.ID = f.ID

	raw, err := gf.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if f.Version != 0 {
		v, _ := json.Marshal(f.Version)
		m["version"] = v
	}
	if f.Key != nil {
		k, _ := json.Marshal(*f.Key)
		m["key"] = k
	}
	if len(f.Deltas) > 0 {
		d, _ := json.Marshal(f.Deltas)
		m["deltas"] = d
	}
	return json.Marshal(m)
}

// UnmarshalJSON parses a GeoJSON Feature plus Hecate's extra fields.
func (f *Feature) UnmarshalJSON(data []byte) error {
	var gf geojson.Feature
	if err := json.Unmarshal(data, &gf); err != nil {
		return err
	}
	var extra struct {
		Action  Action  `json:"action"`
		Version int64   `json:"version"`
		Key     *string `json:"key"`
		Force   bool    `json:"force"`
		Deltas  []int64 `json:"deltas"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}

	if id, ok := gf.ID.(float64); ok {
		f.ID = int64(id)
	}
	f.Geometry = gf.Geometry
	f.Action = extra.Action
	f.Version = extra.Version
	f.Key = extra.Key
	f.Force = extra.Force
	f.Deltas = extra.Deltas

	props, err := json.Marshal(gf.Properties)
	if err != nil {
		return err
	}
	f.Properties = props
	return nil
}

// Partition names the two storage partitions a feature row can live in.
type Partition string

const (
	PartitionLive      Partition = "live"
	PartitionTombstone Partition = "tombstone"
)

// MutationResult is the {old_id?, new_id?, version?} body specifies
// for a successful action() call.
type MutationResult struct {
	OldID   *int64 `json:"old_id,omitempty"`
	NewID   *int64 `json:"new_id,omitempty"`
	Version *int64 `json:"version,omitempty"`
}

// HistoryEntry is one row of a feature's delta history, used by
// history.Replay.
type HistoryEntry struct {
	DeltaID int64   `json:"delta"`
	Feature Feature `json:"feature"`
}
