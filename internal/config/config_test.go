package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_Defaults(t *testing.T) {
	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadServer_Overrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("SESSION_IDLE_TTL", "5m")
	t.Setenv("ALLOWED_ORIGINS", "localhost:*,example.com")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 5*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, []string{"localhost:*", "example.com"}, cfg.AllowedOrigins)
}

func TestLoadServer_Invalid(t *testing.T) {
	t.Run("unparsable", func(t *testing.T) {
		t.Setenv("PING_INTERVAL", "soon")
		_, err := LoadServer()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse env:")
	})

	t.Run("zero ttl", func(t *testing.T) {
		t.Setenv("SESSION_IDLE_TTL", "0s")
		_, err := LoadServer()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SESSION_IDLE_TTL")
	})
}

func TestLoadClient_Defaults(t *testing.T) {
	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.ServerURL)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 3*time.Second, cfg.NoticeTTL)
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CHESS_TEST_DOTENV_KEY=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CHESS_TEST_DOTENV_KEY") })

	assert.True(t, LoadDotenv(path))
	assert.Equal(t, "loaded", os.Getenv("CHESS_TEST_DOTENV_KEY"))
	assert.False(t, LoadDotenv(filepath.Join(dir, "missing.env")))
}
