package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Agents, again.Agents)
	assert.Equal(t, cfg.Digest, again.Digest)
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listen: ":9000"
agents:
  - id: a1
    name: Alex
    clients:
      - id: c1
        name: Client One
mock:
  enabled: true
basic_auth:
  username: ""
  password: ""
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./data/calendars", cfg.CalendarsDir)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "Client One", cfg.Agents[0].Clients[0].Name)
	assert.True(t, cfg.Mock.Enabled)
	assert.Equal(t, 10, cfg.Mock.Events)
	assert.Equal(t, 14, cfg.Mock.HorizonDays)
	assert.Empty(t, cfg.Digest.Cron)
	assert.Equal(t, 90, cfg.Digest.MinBlockMinutes)
	assert.Nil(t, cfg.BasicAuth)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: [unclosed"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Listen = "0.0.0.0:8181"
	cfg.BasicAuth = &BasicAuthConfig{Username: "ops", Password: "secret"}

	require.NoError(t, Save(path, cfg))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	assert.Error(t, Save(path, nil))
}
