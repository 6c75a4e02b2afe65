package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "SYNC_INTERVAL_SECONDS", "SYNC_AUTOSTART", "DATABASE_PATH", "PRESENCE_TTL_SECONDS", "ACCESS_TOKEN_TTL_MINUTES"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 300*time.Second, cfg.SyncInterval())
	assert.Equal(t, 15*time.Minute, cfg.PresenceTTL())
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL())
	assert.False(t, cfg.SyncAutostart)
	assert.Empty(t, cfg.DatabasePath)
}

func TestLoadEnvFallbacksOnBadNumbers(t *testing.T) {
	t.Setenv("SYNC_INTERVAL_SECONDS", "soon")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("SYNC_AUTOSTART", "yes please")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()
	assert.Equal(t, DefaultSyncIntervalSeconds, cfg.SyncIntervalSeconds)
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
	assert.False(t, cfg.SyncAutostart)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tezgah.yaml")
	body := []byte(`port: "9000"
database_path: /var/lib/tezgah/pos.db
sync_interval_seconds: 60
sync_autostart: true
device_id: "AA:BB:CC:DD:EE:FF"
relay_database_url: postgres://relay@localhost/relay
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("PORT", "")
	t.Setenv("SYNC_AUTOSTART", "")
	t.Setenv("DEVICE_ID", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("RELAY_DATABASE_URL", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("SYNC_INTERVAL_SECONDS", "120")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "/var/lib/tezgah/pos.db", cfg.DatabasePath)
	assert.Equal(t, 120, cfg.SyncIntervalSeconds)
	assert.True(t, cfg.SyncAutostart)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.DeviceID)
	assert.Equal(t, "postgres://relay@localhost/relay", cfg.RelayDatabaseURL)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [unterminated"), 0o600))
	_, err = LoadFile(path)
	require.Error(t, err)
}
