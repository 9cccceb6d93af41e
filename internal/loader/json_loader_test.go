package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoader_Load(t *testing.T) {
	body := `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "id": "poi-1", "geometry": {"type": "Point", "coordinates": [-73.98, 40.75]}, "properties": {"name": "Library"}}
		]
	}`
	path := filepath.Join(t.TempDir(), "import.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	records, err := NewJSONLoader().Load(path)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.NotNil(t, rec.Key)
	assert.Equal(t, "poi-1", *rec.Key)
	assert.Equal(t, orb.Point{-73.98, 40.75}, rec.Geometry)
	assert.JSONEq(t, `{"name":"Library"}`, string(rec.Properties))
}

func TestJSONLoader_Load_FileNotFound(t *testing.T) {
	_, err := NewJSONLoader().Load("nonexistent.json")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open JSON file")
}
