// Package loader implements the bulk feature-import tool: parsing
// records from CSV or a GeoJSON FeatureCollection file and validating
// them before they are submitted through the feature engine.
package loader

import (
	"encoding/json"

	"github.com/paulmach/orb"
)

// Record is one candidate feature read from an import source, prior to
// being handed to the feature engine as a create mutation.
type Record struct {
	Key        *string
	Geometry   orb.Geometry
	Properties json.RawMessage
}

// RecordLoader defines the interface for loading feature records from a
// bulk import source.
type RecordLoader interface {
	Load(filename string) ([]Record, error)
}
