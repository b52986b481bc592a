package prometheus

import (
	"context"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpengine/internal/logger"
	"github.com/gonzalop/ftpengine/server"
)

func TestCollectorRecords(t *testing.T) {
	t.Parallel()
	c := NewCollector(prometheus.NewRegistry())

	c.RecordCommand("RETR", true, 12*time.Millisecond)
	c.RecordCommand("RETR", false, time.Millisecond)
	c.RecordCommand("SITE CHMOD", true, time.Millisecond)
	c.RecordTransfer("send", 4096, 5*time.Millisecond)
	c.RecordTransfer("send", 1024, time.Millisecond)
	c.RecordTransfer("receive", 0, time.Millisecond)
	c.RecordConnection(true, "accepted")
	c.RecordConnection(false, "global_limit_reached")
	c.RecordAuthentication(false, "mallory")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("RETR", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("RETR", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsTotal.WithLabelValues("SITE CHMOD", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.transfersTotal.WithLabelValues("send")))
	assert.Equal(t, 5120.0, testutil.ToFloat64(c.transferBytes.WithLabelValues("send")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transfersTotal.WithLabelValues("receive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsTotal.WithLabelValues("false", "global_limit_reached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loginsTotal.WithLabelValues("error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.commandDuration))
}

func TestCollectorDuplicateRegistration(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestCollectorWithServer(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)

	hash, err := server.HashPassword("secret")
	require.NoError(t, err)
	auth := server.NewStaticAuthenticator([]server.Account{
		{Name: "bob", PasswordHash: hash, Root: t.TempDir()},
	})
	s, err := server.NewServer("127.0.0.1:0",
		server.WithAuthenticator(auth),
		server.WithLogger(logger.Discard()),
		server.WithMetricsCollector(collector),
	)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	conn, err := textproto.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadResponse(220)
	require.NoError(t, err)
	for _, step := range []struct {
		line string
		code int
	}{
		{"USER bob", 331},
		{"PASS wrong", 530},
		{"USER bob", 331},
		{"PASS secret", 230},
		{"NOOP", 200},
		{"BOGUS", 502},
	} {
		require.NoError(t, conn.PrintfLine("%s", step.line))
		_, _, err := conn.ReadResponse(step.code)
		require.NoError(t, err, step.line)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.connectionsTotal.WithLabelValues("true", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.loginsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.loginsTotal.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.commandsTotal.WithLabelValues("USER", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.commandsTotal.WithLabelValues("PASS", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.commandsTotal.WithLabelValues("NOOP", "success")))
}
