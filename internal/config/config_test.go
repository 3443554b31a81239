package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, int64(DefaultModelConfigID), cfg.ModelConfigID)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.ClientID)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
client_id: yaml-client
listen_addr: ":9000"
store: file
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "yaml-client", cfg.ClientID)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client_id: yaml-client\nlisten_addr: \":9000\"\n"), 0o644))

	t.Setenv("QWEN_OAUTH_CLIENT_ID", "env-client")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-client", cfg.ClientID)
	// Untouched YAML values survive the env layer.
	assert.Equal(t, ":9000", cfg.ListenAddr)
}

func TestLoadMissingFileIsOptional(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StoreFile, cfg.Store)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateStoreBackend(t *testing.T) {
	t.Setenv("QWENAUTH_STORE", "redis")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestPostgresRequiresDSN(t *testing.T) {
	t.Setenv("QWENAUTH_STORE", "postgres")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QWENAUTH_DATABASE_DSN")

	t.Setenv("QWENAUTH_DATABASE_DSN", "postgres://localhost/qwenauth")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
}

func TestAllowedOriginsSeparator(t *testing.T) {
	t.Setenv("QWENAUTH_ALLOWED_ORIGINS", "http://localhost:3000,https://app.example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.AllowedOrigins)
}
