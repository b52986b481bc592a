package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gonzalop/ftpengine/internal/config"
	"github.com/gonzalop/ftpengine/internal/logger"
	ftpprom "github.com/gonzalop/ftpengine/metrics/prometheus"
)

func TestHashPasswordCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader("s3cret\n"))
	cmd.SetArgs([]string{"hash-password"})

	require.NoError(t, cmd.Execute())
	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"hash-password"})

	assert.ErrorContains(t, cmd.Execute(), "empty password")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ftpd "+Version)
}

func TestBuildServer(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:2121"
	cfg.Server.PassivePorts = config.PassivePortsConfig{Min: 30000, Max: 30010}
	cfg.Server.PublicHost = "203.0.113.7"
	cfg.Anonymous = config.AnonymousConfig{Enabled: true, Root: t.TempDir()}

	srv, err := buildServer(cfg, logger.Discard(), nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2121", srv.Addr())
}

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := ftpprom.NewCollector(reg)
	collector.RecordConnection(true, "accepted")
	collector.RecordTransfer("send", 10, time.Millisecond)

	ts := httptest.NewServer(newMetricsRouter(reg, func() int { return 3 }))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `ftpengine_connections_total{accepted="true",reason="accepted"} 1`)
	assert.Contains(t, string(body), `ftpengine_transfer_bytes_total{direction="send"} 10`)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 3, health.Sessions)

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
