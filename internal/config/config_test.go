package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A bcrypt hash of "secret".
const testHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ftpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: JSON
server:
  address: "127.0.0.1:2121"
  idle_timeout: 90s
  max_connections: 20
  public_host: ftp.example.com
  passive_ports:
    min: 30000
    max: 30100
  bandwidth_limit: 1048576
metrics:
  enabled: true
users:
  - name: bob
    password_hash: "`+testHash+`"
    root: /srv/ftp/bob
    read_only: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "127.0.0.1:2121", cfg.Server.Address)
	assert.Equal(t, 90*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, DefaultDataTimeout, cfg.Server.DataTimeout)
	assert.Equal(t, 20, cfg.Server.MaxConnections)
	assert.Equal(t, PassivePortsConfig{Min: 30000, Max: 30100}, cfg.Server.PassivePorts)
	assert.Equal(t, int64(1048576), cfg.Server.BandwidthLimit)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultMetricsAddress, cfg.Metrics.Address)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, UserConfig{Name: "bob", PasswordHash: testHash, Root: "/srv/ftp/bob", ReadOnly: true}, cfg.Users[0])
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":2121"
anonymous:
  enabled: true
  root: /srv/ftp/pub
`)
	t.Setenv("FTPD_SERVER_ADDRESS", ":2222")
	t.Setenv("FTPD_SERVER_DATA_TIMEOUT", "3s")
	t.Setenv("FTPD_SERVER_MAX_CONNECTIONS", "7")
	t.Setenv("FTPD_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":2222", cfg.Server.Address)
	assert.Equal(t, 3*time.Second, cfg.Server.DataTimeout)
	assert.Equal(t, 7, cfg.Server.MaxConnections)
	assert.Equal(t, "WARN", cfg.Logging.Level)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("FTPD_ANONYMOUS_ENABLED", "true")
	t.Setenv("FTPD_ANONYMOUS_ROOT", "/srv/ftp")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
	assert.True(t, cfg.Anonymous.Enabled)
	assert.Equal(t, "/srv/ftp", cfg.Anonymous.Root)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "not found")
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "no accounts",
			content: "server:\n  address: \":2121\"\n",
			want:    "no users configured",
		},
		{
			name:    "bad level",
			content: "logging:\n  level: loud\nanonymous:\n  enabled: true\n  root: /srv\n",
			want:    "Logging.Level",
		},
		{
			name:    "bad address",
			content: "server:\n  address: nowhere\nanonymous:\n  enabled: true\n  root: /srv\n",
			want:    "Server.Address",
		},
		{
			name:    "anonymous without root",
			content: "anonymous:\n  enabled: true\n",
			want:    "Anonymous.Root",
		},
		{
			name:    "plaintext password",
			content: "users:\n  - name: bob\n    password_hash: secret\n    root: /srv\n",
			want:    "PasswordHash",
		},
		{
			name:    "inverted passive range",
			content: "server:\n  passive_ports:\n    min: 40000\n    max: 30000\nanonymous:\n  enabled: true\n  root: /srv\n",
			want:    "PassivePorts.Max",
		},
		{
			name:    "half passive range",
			content: "server:\n  passive_ports:\n    min: 40000\nanonymous:\n  enabled: true\n  root: /srv\n",
			want:    "min and max",
		},
		{
			name: "duplicate user",
			content: "users:\n" +
				"  - {name: bob, password_hash: \"" + testHash + "\", root: /a}\n" +
				"  - {name: bob, password_hash: \"" + testHash + "\", root: /b}\n",
			want: "duplicate user",
		},
		{
			name:    "bad duration",
			content: "server:\n  idle_timeout: soon\nanonymous:\n  enabled: true\n  root: /srv\n",
			want:    "unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
	assert.Equal(t, DefaultIdleTimeout, cfg.Server.IdleTimeout)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	// Defaults alone have no accounts.
	assert.Error(t, Validate(cfg))
}
