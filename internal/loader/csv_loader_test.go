package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCSVLoader_Load(t *testing.T) {
	path := writeTempCSV(t, "key,lng,lat,properties\npoi-1,-73.98,40.75,\"{\"\"name\"\":\"\"Library\"\"}\"\n")

	records, err := NewCSVLoader().Load(path)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.NotNil(t, rec.Key)
	assert.Equal(t, "poi-1", *rec.Key)
	assert.Equal(t, orb.Point{-73.98, 40.75}, rec.Geometry)
	assert.JSONEq(t, `{"name":"Library"}`, string(rec.Properties))
}

func TestCSVLoader_Load_FileNotFound(t *testing.T) {
	_, err := NewCSVLoader().Load("nonexistent.csv")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open CSV file")
}

func TestCSVLoader_Load_InvalidCoordinate(t *testing.T) {
	path := writeTempCSV(t, "key,lng,lat\npoi-1,not-a-number,40.75\n")

	_, err := NewCSVLoader().Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid lng")
}
