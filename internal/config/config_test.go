package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.Listen)
	assert.Equal(t, "./bay.db", cfg.DBPath)
	assert.Equal(t, "auto", cfg.Docker.ConnectMode)
	assert.Equal(t, "127.0.0.1", cfg.Docker.HostAddress)
	assert.True(t, cfg.Docker.PublishPorts)
	assert.True(t, cfg.Idempotency.Enabled)
	assert.Equal(t, 1, cfg.Idempotency.TTLHours)
	assert.True(t, cfg.Reaper.Enabled)

	// Built-in profiles kick in when none are configured.
	p := cfg.Profile("python-default")
	require.NotNil(t, p)
	assert.Equal(t, "ship", p.RuntimeType)
	assert.Equal(t, 8123, p.RuntimePort)
	assert.Equal(t, 1800, p.IdleTimeout)
	assert.True(t, p.HasCapability("python"))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/bay.yaml")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8000", cfg.Listen)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
listen: "0.0.0.0:9000"
db_path: /var/lib/bay/bay.db
docker:
  network: bay-net
  connect_mode: container_network
profiles:
  - id: custom
    image: myship:latest
    cpus: 2.0
    memory: 2g
    pids_limit: 512
    capabilities: [python]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "bay-net", cfg.Docker.Network)
	assert.Equal(t, "container_network", cfg.Docker.ConnectMode)

	require.Len(t, cfg.Profiles, 1)
	p := cfg.Profile("custom")
	require.NotNil(t, p)
	assert.Equal(t, "myship:latest", p.Image)
	// Omitted profile fields pick up the documented defaults.
	assert.Equal(t, "ship", p.RuntimeType)
	assert.Equal(t, 8123, p.RuntimePort)
	assert.Equal(t, 1800, p.IdleTimeout)
}

func TestLoadRejectsBadConnectMode(t *testing.T) {
	path := writeConfigFile(t, `
docker:
  connect_mode: teleport
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_mode")
}

func TestLoadRejectsProfileWithoutID(t *testing.T) {
	path := writeConfigFile(t, `
profiles:
  - image: myship:latest
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BAY_LISTEN", "127.0.0.1:7777")
	t.Setenv("BAY_API_KEY", "sekrit")
	t.Setenv("BAY_DOCKER_CONNECT_MODE", "host_port")
	t.Setenv("BAY_DOCKER_PUBLISH_PORTS", "false")
	t.Setenv("BAY_IDEMPOTENCY_TTL_HOURS", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.Listen)
	assert.Equal(t, "sekrit", cfg.APIKey)
	assert.Equal(t, "host_port", cfg.Docker.ConnectMode)
	assert.False(t, cfg.Docker.PublishPorts)
	assert.Equal(t, 4, cfg.Idempotency.TTLHours)
}

func TestEnvProfileImagePins(t *testing.T) {
	t.Setenv("BAY_PROFILE_IMAGES", "python-default=ship:pinned, python-data=ship:data-pinned")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ship:pinned", cfg.Profile("python-default").Image)
	assert.Equal(t, "ship:data-pinned", cfg.Profile("python-data").Image)
}

func TestProfileLookupUnknown(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Nil(t, cfg.Profile("nope"))
}
