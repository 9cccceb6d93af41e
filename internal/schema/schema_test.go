package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "props.schema.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"required": ["name"]
	}`), 0o644))

	v, err := Compile(path)
	require.NoError(t, err)

	require.NoError(t, v.Validate([]byte(`{"name":"ana"}`)))
	require.Error(t, v.Validate([]byte(`{}`)))
}
