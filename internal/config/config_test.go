package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("POSTGRES_PASSWORD", "pw")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 5, cfg.Engine.MaxSteps)
	assert.Equal(t, 30*time.Second, cfg.Engine.TurnTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Engine.SessionTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://flowbot:pw@localhost:5432/flowbot?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: sqlite
  dsn: "file::memory:"
graph:
  source: file
  dir: /srv/flows
engine:
  max_steps: 8
  turn_timeout: 5s
  messages:
    welcome: Ola!
whatsapp:
  tenants:
    "123": clinic
`), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "file::memory:", cfg.Storage.DSN)
	assert.Equal(t, "file", cfg.Graph.Source)
	assert.Equal(t, "/srv/flows", cfg.Graph.Dir)
	assert.Equal(t, 8, cfg.Engine.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Engine.TurnTimeout)
	assert.Equal(t, "Ola!", cfg.Engine.Messages.Welcome)
	assert.Equal(t, "clinic", cfg.WhatsApp.Tenants["123"])
	// untouched sections keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Engine.LockTimeout)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestEngineLocation(t *testing.T) {
	assert.Equal(t, time.UTC, EngineConfig{}.Location())
	assert.Equal(t, time.UTC, EngineConfig{Timezone: "Not/AZone"}.Location())

	loc := EngineConfig{Timezone: "Europe/Lisbon"}.Location()
	assert.Equal(t, "Europe/Lisbon", loc.String())
}
