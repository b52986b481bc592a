// Package prometheus implements server.MetricsCollector on top of
// prometheus/client_golang.
//
//	reg := prometheus.NewRegistry()
//	srv, err := server.NewServer(":21",
//	    server.WithAuthenticator(auth),
//	    server.WithMetricsCollector(ftpprom.NewCollector(reg)),
//	)
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gonzalop/ftpengine/server"
)

const namespace = "ftpengine"

// Collector is the Prometheus implementation of server.MetricsCollector.
type Collector struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	transfersTotal   *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	connectionsTotal *prometheus.CounterVec
	loginsTotal      *prometheus.CounterVec
}

var _ server.MetricsCollector = (*Collector)(nil)

// NewCollector registers the engine metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
//
// Registering twice with the same registerer panics, as with promauto.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of dispatched FTP commands by verb and status",
			},
			[]string{"command", "status"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_milliseconds",
				Help:      "Duration of FTP commands in milliseconds, including data transfers",
				Buckets: []float64{
					1,     // 1ms - control-only commands
					10,    // 10ms
					100,   // 100ms - small listings
					1000,  // 1s
					10000, // 10s - large transfers
					60000, // 1m
				},
			},
			[]string{"command"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Total number of data transfers by direction",
			},
			[]string{"direction"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_bytes_total",
				Help:      "Total payload bytes moved over data connections",
			},
			[]string{"direction"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_milliseconds",
				Help:      "Duration of data transfers in milliseconds",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"direction"},
		),
		connectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Control connections by outcome",
			},
			[]string{"accepted", "reason"},
		),
		loginsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Login attempts by status",
			},
			[]string{"status"},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordCommand implements server.MetricsCollector.
func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	c.commandsTotal.WithLabelValues(cmd, status(success)).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(float64(duration.Milliseconds()))
}

// RecordTransfer implements server.MetricsCollector.
func (c *Collector) RecordTransfer(direction string, bytes int64, duration time.Duration) {
	c.transfersTotal.WithLabelValues(direction).Inc()
	if bytes > 0 {
		c.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	}
	c.transferDuration.WithLabelValues(direction).Observe(float64(duration.Milliseconds()))
}

// RecordConnection implements server.MetricsCollector.
func (c *Collector) RecordConnection(accepted bool, reason string) {
	c.connectionsTotal.WithLabelValues(strconv.FormatBool(accepted), reason).Inc()
}

// RecordAuthentication implements server.MetricsCollector. The user name is
// not a label, to keep cardinality bounded.
func (c *Collector) RecordAuthentication(success bool, _ string) {
	c.loginsTotal.WithLabelValues(status(success)).Inc()
}
