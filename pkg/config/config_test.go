package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Vector.Provider)
	assert.Equal(t, 16, cfg.Retrieval.MinK)
	assert.Equal(t, 64, cfg.Retrieval.MaxK)
	assert.Equal(t, 3, cfg.Filter.FallbackThreshold)
	assert.Len(t, cfg.Suggest.Fallback, 3)
	assert.Len(t, cfg.Policy.Suggestions, 3)
	assert.Contains(t, cfg.Policy.Terms, "refund")
	assert.InDelta(t, 0.55, cfg.Synth.Temperature, 1e-6)
	assert.False(t, cfg.Themes.Enabled)
	assert.Equal(t, 180, cfg.Research.TimeoutSec)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reco.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
retrieval:
  maxK: 32
policy:
  terms: [refund]
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Retrieval.MaxK)
	assert.Equal(t, []string{"refund"}, cfg.Policy.Terms)
	assert.Equal(t, 16, cfg.Retrieval.MinK)
}

func TestLoadFileEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reco.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))
	t.Setenv("RECO_SERVER_PORT", "7070")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
