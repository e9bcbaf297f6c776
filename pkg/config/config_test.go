package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/classloop/portal-go/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("A full config parses with durations and overrides", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, `
base_url: https://api.school.test
request_timeout: 30s
log_level: debug
store:
  kind: file
  path: /tmp/portal.json
cache:
  max_keys_per_prefix: 16
  ttl:
    teachers: 5m
    branches: 30m
    sessions: 90s
auth:
  validation_window: 2m
`)

		// Act
		cfg, err := config.Load(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "https://api.school.test", cfg.BaseURL)
		assert.Equal(t, 30*time.Second, cfg.RequestTimeout.Std())
		assert.Equal(t, config.StoreFile, cfg.Store.Kind)
		assert.Equal(t, 16, cfg.Cache.MaxKeysPerPrefix)
		assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.Teachers.Std())
		assert.Equal(t, 90*time.Second, cfg.Cache.TTL.Sessions.Std())
		assert.Equal(t, time.Duration(0), cfg.Cache.TTL.Students.Std(), "Unset TTLs stay zero so defaults apply")
		assert.Equal(t, 2*time.Minute, cfg.Auth.ValidationWindow.Std())
	})

	t.Run("A minimal config gets defaults", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, "base_url: https://api.school.test\n")

		// Act
		cfg, err := config.Load(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 15*time.Second, cfg.RequestTimeout.Std())
		assert.Equal(t, config.StoreMemory, cfg.Store.Kind)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("Missing base_url is rejected", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, "log_level: debug\n")

		// Act
		_, err := config.Load(path)

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "base_url is required")
	})

	t.Run("A file store without a path is rejected", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, "base_url: x\nstore:\n  kind: file\n")

		// Act
		_, err := config.Load(path)

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.path is required")
	})

	t.Run("An invalid duration is rejected", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, "base_url: x\nrequest_timeout: banana\n")

		// Act
		_, err := config.Load(path)

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid duration")
	})

	t.Run("An unknown store kind is rejected", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, "base_url: x\nstore:\n  kind: cassandra\n")

		// Act
		_, err := config.Load(path)

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown store kind")
	})
}
