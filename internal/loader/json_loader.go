package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"
)

// JSONLoader reads a GeoJSON FeatureCollection, supporting any geometry
// type the feature engine accepts (not just points).
type JSONLoader struct{}

func NewJSONLoader() *JSONLoader {
	return &JSONLoader{}
}

func (j *JSONLoader) Load(filename string) ([]Record, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FeatureCollection: %w", err)
	}

	records := make([]Record, 0, len(fc.Features))
	for _, f := range fc.Features {
		props, err := json.Marshal(f.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode properties: %w", err)
		}
		rec := Record{Geometry: f.Geometry, Properties: props}
		if key, ok := f.ID.(string); ok && key != "" {
			rec.Key = &key
		}
		records = append(records, rec)
	}
	return records, nil
}
