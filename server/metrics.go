package server

import "time"

// MetricsCollector is an optional interface for collecting engine metrics.
// See the metrics/prometheus package for a Prometheus implementation.
//
// Methods are called inline from session goroutines and must not block.
// The server checks for a nil collector, so implementations don't need to
// handle nil receivers.
type MetricsCollector interface {
	// RecordCommand records one dispatched command. cmd is the verb
	// ("RETR", "SITE CHMOD"); success is false when the terminating reply
	// was a 4xx or 5xx.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records one data transfer. direction is "send" or
	// "receive"; bytes are payload bytes before ASCII translation.
	RecordTransfer(direction string, bytes int64, duration time.Duration)

	// RecordConnection records an accepted or rejected control connection.
	// reason is "accepted" or the rejection cause ("global_limit_reached").
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication records a login attempt.
	RecordAuthentication(success bool, user string)
}
