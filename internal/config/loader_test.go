package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
store:
  backend: chromem
  path: /var/lib/strata
  enable_sparse: true
gateway:
  provider: openai
  api_key: sk-from-file
  dimension: 1536
retrieval:
  strategy: rrf
  top_k: 25
server:
  shutdown_timeout: 30s
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "chromem", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/strata", cfg.Store.Path)
	assert.True(t, cfg.Store.EnableSparse)
	assert.Equal(t, "openai", cfg.Gateway.Provider)
	assert.Equal(t, "sk-from-file", cfg.Gateway.APIKey.Value())
	assert.Equal(t, 1536, cfg.Gateway.Dimension)
	assert.Equal(t, "rrf", cfg.Retrieval.Strategy)
	assert.Equal(t, 25, cfg.Retrieval.TopK)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())

	// Untouched sections keep defaults.
	assert.Equal(t, 6000, cfg.Layer.WindowTokens)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "store:\n  backend: chromem\n  path: /var/lib/strata\n", 0600)

	t.Setenv("STRATA_STORE_BACKEND", "redis")
	t.Setenv("STRATA_STORE_ENDPOINT", "localhost:6379")
	t.Setenv("STRATA_RETRIEVAL_SPARSE_WEIGHT", "0.7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Endpoint)
	assert.InDelta(t, 0.7, cfg.Retrieval.SparseWeight, 1e-9)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := writeConfigFile(t, "store:\n  backend: memory\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	path := writeConfigFile(t, string(big), 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "store: [unterminated", 0600)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadValidatesResult(t *testing.T) {
	path := writeConfigFile(t, "store:\n  backend: qdrant\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an endpoint")
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"STRATA_STORE_BACKEND", "store.backend"},
		{"STRATA_GATEWAY_API_KEY", "gateway.api_key"},
		{"STRATA_SERVER_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"STRATA_RETRIEVAL_TOP_K", "retrieval.top_k"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransform(tt.in), tt.in)
	}
}
