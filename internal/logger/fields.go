package logger

// Standard field keys for structured logging.
// Every log statement of the engine uses these keys so that sessions can be
// followed across lines.
const (
	// Session & connection
	KeySessionID = "session_id" // Control connection identifier
	KeyClientIP  = "client_ip"  // Peer IP address without port
	KeyUsername  = "username"   // Username, once USER was sent
	KeyAddr      = "addr"       // Listen or dial address

	// Command dispatch
	KeyProcedure = "procedure" // FTP verb: RETR, STOR, SITE CHMOD, ...
	KeyArgs      = "args"      // Command arguments (PASS is redacted)
	KeyStatus    = "status"    // Reply code
	KeyStatusMsg = "status_msg"

	// Transfers
	KeyBytes      = "bytes"
	KeyMode       = "mode" // ascii or binary
	KeyDirection  = "direction"
	KeyPath       = "path"
	KeyDurationMs = "duration_ms"

	// Failures
	KeyError  = "error"
	KeyReason = "reason"
	KeyLimit  = "limit"
)
