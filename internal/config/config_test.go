package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvFallsBackToDefault(t *testing.T) {
	os.Unsetenv("HECATE_TEST_VAR")
	assert.Equal(t, "fallback", getEnv("HECATE_TEST_VAR", "fallback"))

	os.Setenv("HECATE_TEST_VAR", "set")
	defer os.Unsetenv("HECATE_TEST_VAR")
	assert.Equal(t, "set", getEnv("HECATE_TEST_VAR", "fallback"))
}

func TestGetEnvIntParsesOrFallsBack(t *testing.T) {
	os.Unsetenv("HECATE_TEST_INT")
	assert.Equal(t, 168, getEnvInt("HECATE_TEST_INT", 168))

	os.Setenv("HECATE_TEST_INT", "42")
	defer os.Unsetenv("HECATE_TEST_INT")
	assert.Equal(t, 42, getEnvInt("HECATE_TEST_INT", 168))

	os.Setenv("HECATE_TEST_INT", "not-a-number")
	assert.Equal(t, 168, getEnvInt("HECATE_TEST_INT", 168))
}

func TestLoadAuthConfigEmptyPathReturnsPublicDefault(t *testing.T) {
	cfg, err := LoadAuthConfig("")
	require.NoError(t, err)
	assert.Equal(t, "public", string(cfg.Default))
}

func TestLoadAuthConfigRejectsInvalidLeafValue(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "auth-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`{"default":"public","leaves":{"user::info":{"kind":"self","value":"public"}}}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = LoadAuthConfig(f.Name())
	require.Error(t, err)
}
