package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/gonzalop/ftpengine/internal/logger"
	"github.com/gonzalop/ftpengine/internal/ratelimit"
)

// TransferMode is the representation type selected with TYPE.
type TransferMode int32

const (
	// ModeBinary copies data byte for byte (TYPE I). It is the default.
	ModeBinary TransferMode = iota
	// ModeASCII expands bare LF to CRLF on outbound data (TYPE A).
	ModeASCII
)

func (m TransferMode) String() string {
	if m == ModeASCII {
		return "ascii"
	}
	return "binary"
}

// Conn is one FTP control connection and its session state.
//
// A Conn is created by the Server for each accepted connection and served by
// a single goroutine that reads a line, dispatches it and replies, strictly
// in arrival order. Data transfers started by a command run inside that
// dispatch step, so they complete before the next line is read.
//
// Methods documented as safe for concurrent use may be called by the host
// from any goroutine: Close, SendResponse, the accessors and the registry
// lookups.
type Conn struct {
	server   *Server
	netConn  net.Conn
	reader   *lineReader
	logger   *slog.Logger
	id       string
	remoteIP string

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes replies and guards the per-command reply tracking.
	mu           sync.Mutex
	writer       *bufio.Writer
	responseSent bool
	lastCode     int

	closed atomic.Bool

	stateMu       sync.RWMutex
	username      string
	authenticated bool
	fs            FileSystem
	dataFactory   DataSocketFactory

	mode             atomic.Int32
	bytesTransferred atomic.Int64

	commands     *commandRegistry
	siteCommands *commandRegistry
	data         *dataChannel
	limiter      *rate.Limiter
}

// newConn wraps a freshly accepted socket and populates the registries:
// SITE, the built-in command sets, then the host's sets, so that host
// registrations win.
func newConn(s *Server, netConn net.Conn) *Conn {
	remoteAddr := netConn.RemoteAddr().String()
	remoteIP, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		remoteIP = remoteAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	c := &Conn{
		server:       s,
		netConn:      netConn,
		reader:       newLineReader(netConn, MaxCommandLength),
		writer:       bufio.NewWriter(netConn),
		logger:       s.logger.With(logger.KeySessionID, id),
		id:           id,
		remoteIP:     remoteIP,
		ctx:          ctx,
		cancel:       cancel,
		commands:     newCommandRegistry(false),
		siteCommands: newCommandRegistry(true),
		limiter:      ratelimit.New(s.bandwidthLimit),
	}
	c.data = newDataChannel(c)
	c.dataFactory = c.data

	c.RegisterCommand("SITE", "SITE <command> [args]", c.site, true)
	newConnectionCommands(c).register()
	newFileCommands(c).register()
	for _, set := range s.commandSets {
		set.RegisterCommands(c)
	}

	return c
}

// serve runs the control loop until the client leaves or the session is
// closed.
func (c *Conn) serve() {
	defer c.Close()

	c.logger.Info("session_started", logger.KeyClientIP, c.remoteIP)

	c.runHook("on_connect", c.server.hooks.OnConnect)
	c.SendResponse(220, c.server.welcomeMessage)

	for !c.closed.Load() {
		if c.server.idleTimeout > 0 {
			_ = c.netConn.SetReadDeadline(time.Now().Add(c.server.idleTimeout))
		}

		line, err := c.reader.readLine()
		if line != "" {
			c.processLine(line)
		}
		if err != nil {
			c.handleReadError(err)
			return
		}
	}
}

// handleReadError decides how a failed read ends the session.
func (c *Conn) handleReadError(err error) {
	var netErr net.Error
	switch {
	case c.closed.Load(), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.logger.Debug("client_disconnected", logger.KeyClientIP, c.remoteIP)
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Info("idle_timeout", logger.KeyClientIP, c.remoteIP)
		c.SendResponse(421, "Idle timeout, closing control connection.")
	case errors.Is(err, errLineTooLong):
		c.SendResponse(500, "Command line too long.")
	default:
		c.logger.Warn("read_error",
			logger.KeyClientIP, c.remoteIP,
			logger.KeyUsername, c.Username(),
			logger.KeyError, err,
		)
	}
}

// processLine tokenizes one control line and dispatches it.
func (c *Conn) processLine(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}
	args[0] = strings.ToUpper(args[0])

	label := args[0]
	if label == "SITE" && len(args) > 1 {
		label = "SITE " + strings.ToUpper(args[1])
	}
	c.logger.Debug("command_received",
		logger.KeyUsername, c.Username(),
		logger.KeyProcedure, label,
		logger.KeyArgs, logArgs(args),
	)

	info, ok := c.commands.lookup(args[0])
	if !ok {
		c.SendResponse(502, "Unknown command")
		return
	}

	start := time.Now()
	c.execute(info, args)

	if m := c.server.metricsCollector; m != nil {
		m.RecordCommand(label, c.lastReplyCode() < 400, time.Since(start))
	}
}

func logArgs(args []string) string {
	if args[0] == "PASS" && len(args) > 1 {
		return "***"
	}
	return joinArgs(args)
}

// execute enforces authentication, runs the handler and makes sure exactly
// one terminating reply is sent for the command.
func (c *Conn) execute(info CommandInfo, args []string) {
	if info.NeedsAuth && !c.IsAuthenticated() {
		c.SendResponse(530, "Needs authentication")
		return
	}

	c.resetResponse()
	err := c.invoke(info, args)
	if err == nil {
		c.replyOnce(200, "Done")
		return
	}

	code, message, internal := replyForError(err)
	if internal {
		c.logger.Error("command_failed",
			logger.KeyUsername, c.Username(),
			logger.KeyProcedure, info.Label,
			logger.KeyError, err,
		)
	} else {
		c.logger.Debug("command_error",
			logger.KeyProcedure, info.Label,
			logger.KeyStatus, code,
			logger.KeyError, err,
		)
	}

	if !c.replyOnce(code, message) {
		c.logger.Warn("reply_suppressed",
			logger.KeyProcedure, info.Label,
			logger.KeyStatus, code,
			logger.KeyError, err,
		)
	}
}

// invoke calls the handler, turning a panic into an internal error.
func (c *Conn) invoke(info CommandInfo, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler_panic",
				logger.KeyProcedure, info.Label,
				logger.KeyError, r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic in %s: %v", info.Label, r)
		}
	}()
	return info.Func(args)
}

// Close ends the session: it stops the control loop and any transfer in
// flight, runs the OnDisconnect hook, closes the control socket and the file
// system, and removes the session from its server. Every step runs even if
// an earlier one fails.
//
// Close is safe for concurrent use and idempotent; calls after the first,
// including calls from hooks run by the first, return nil at once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	c.runHook("on_disconnect", c.server.hooks.OnDisconnect)

	var result *multierror.Error
	if err := c.netConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("close control connection: %w", err))
	}
	if err := c.data.close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close data channel: %w", err))
	}
	if closer, ok := c.FileSystem().(io.Closer); ok {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close file system: %w", err))
		}
	}
	c.server.removeConn(c)

	c.logger.Debug("session_closed",
		logger.KeyClientIP, c.remoteIP,
		logger.KeyUsername, c.Username(),
		logger.KeyBytes, c.BytesTransferred(),
	)
	return result.ErrorOrNil()
}

func (c *Conn) runHook(name string, hook func(*Conn)) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("hook_panic", "hook", name, logger.KeyError, r)
		}
	}()
	hook(c)
}

func (c *Conn) lastReplyCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCode
}

// ID returns the unique session identifier used in logs.
func (c *Conn) ID() string {
	return c.id
}

// Server returns the server that accepted the connection.
func (c *Conn) Server() *Server {
	return c.server
}

// RemoteAddr returns the client's control connection address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// LocalAddr returns the local end of the control connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.netConn.LocalAddr()
}

// Context is canceled when the session closes.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Logger returns the session logger, tagged with the session id.
func (c *Conn) Logger() *slog.Logger {
	return c.logger
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// BytesTransferred returns the payload bytes moved over data connections so
// far, in both directions.
func (c *Conn) BytesTransferred() int64 {
	return c.bytesTransferred.Load()
}

// TransferMode returns the current representation type.
func (c *Conn) TransferMode() TransferMode {
	return TransferMode(c.mode.Load())
}

// SetTransferMode changes the representation type for later transfers.
func (c *Conn) SetTransferMode(m TransferMode) {
	c.mode.Store(int32(m))
}

// IsAuthenticated reports whether the login completed.
func (c *Conn) IsAuthenticated() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.authenticated
}

// Username returns the name given with USER, or "" before that.
func (c *Conn) Username() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.username
}

// FileSystem returns the session's file system, nil before login.
func (c *Conn) FileSystem() FileSystem {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.fs
}

// SetFileSystem replaces the session's file system. It is an administrative
// escape hatch; the regular way to provide one is the Authenticator. The
// previous file system is not closed.
func (c *Conn) SetFileSystem(fs FileSystem) {
	c.stateMu.Lock()
	c.fs = fs
	c.stateMu.Unlock()
}

// setUsername records the USER argument. It fails once authenticated.
func (c *Conn) setUsername(user string) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.authenticated {
		return false
	}
	c.username = user
	return true
}

// authenticate adopts fs and marks the session authenticated. There is no
// way back to the unauthenticated state.
func (c *Conn) authenticate(user string, fs FileSystem) {
	c.stateMu.Lock()
	c.username = user
	c.fs = fs
	c.authenticated = true
	c.stateMu.Unlock()
}
