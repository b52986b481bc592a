package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonzalop/ftpengine/internal/logger"
)

// Server accepts FTP control connections and runs one Conn per connection.
//
// Lifecycle:
//  1. Create the server with NewServer()
//  2. Start it with ListenAndServe() or Serve()
//  3. Stop it with Shutdown(), which also closes every session
//
// Basic example:
//
//	auth := server.NewStaticAuthenticator([]server.Account{
//	    {Name: "bob", PasswordHash: hash, Root: "/srv/ftp/bob"},
//	})
//	s, err := server.NewServer(":21", server.WithAuthenticator(auth))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	// addr is the TCP address to listen on (e.g., ":21").
	addr string

	// authenticator resolves credentials to a file system.
	authenticator Authenticator

	logger           *slog.Logger
	metricsCollector MetricsCollector
	hooks            Hooks
	commandSets      []CommandSet

	// welcomeMessage is the text of the 220 banner.
	welcomeMessage string

	// systemType is the SYST reply text.
	systemType string

	// maxConnections is the maximum number of simultaneous sessions.
	// If 0, there is no limit.
	maxConnections int

	// idleTimeout closes sessions that send nothing for that long.
	// If 0, sessions may idle forever.
	idleTimeout time.Duration

	// dataTimeout bounds the establishment of a data connection.
	dataTimeout time.Duration

	// publicHost is announced in PASV replies instead of the local address.
	publicHost string
	publicIP   atomic.Pointer[net.IP]

	pasvMinPort     int
	pasvMaxPort     int
	nextPassivePort atomic.Uint32

	// bandwidthLimit is the per-session data rate in bytes per second.
	bandwidthLimit int64

	mu         sync.Mutex
	listener   net.Listener
	conns      map[*Conn]struct{}
	pending    int
	inShutdown atomic.Bool
	sessions   sync.WaitGroup
}

// NewServer creates a server with the given address and options.
// The Authenticator must be provided via the WithAuthenticator option.
//
// Default values:
//   - Logger: slog.Default()
//   - Welcome message: "FTP Server Ready"
//   - Idle timeout: 5 minutes
//   - Data timeout: 10 seconds
//   - MaxConnections: 0 (unlimited)
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:           addr,
		logger:         slog.Default(),
		welcomeMessage: "FTP Server Ready",
		systemType:     "UNIX Type: L8",
		idleTimeout:    5 * time.Minute,
		dataTimeout:    10 * time.Second,
		conns:          make(map[*Conn]struct{}),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.authenticator == nil {
		return nil, fmt.Errorf("authenticator is required (use WithAuthenticator option)")
	}

	return s, nil
}

// Addr returns the listener address once serving, or the configured address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("server_listening", logger.KeyAddr, ln.Addr().String())
	return s.Serve(ln)
}

// Serve accepts connections on l until Shutdown is called, running each
// session in its own goroutine. It always returns a non-nil error; after
// Shutdown the error is ErrServerClosed. l is closed on return.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	var tempDelay time.Duration
	for {
		netConn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				tempDelay = min(max(2*tempDelay, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept_error", logger.KeyError, err, "retry_in", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		s.handleConnection(netConn)
	}
}

// handleConnection registers a session for netConn and starts it, or turns
// the connection away. Limits are checked before the session is built, so a
// rejected connection never runs the host's command sets. The slot is held
// as pending while the session is built.
func (s *Server) handleConnection(netConn net.Conn) {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		netConn.Close()
		return
	}
	if s.maxConnections > 0 && len(s.conns)+s.pending >= s.maxConnections {
		s.mu.Unlock()
		s.reject(netConn, "global_limit_reached")
		return
	}
	s.pending++
	s.mu.Unlock()

	c := newConn(s, netConn)

	s.mu.Lock()
	s.pending--
	if s.inShutdown.Load() {
		s.mu.Unlock()
		c.cancel()
		netConn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.sessions.Add(1)
	s.mu.Unlock()

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}

	go func() {
		defer s.sessions.Done()
		c.serve()
	}()
}

func (s *Server) reject(netConn net.Conn, reason string) {
	remoteIP, _, err := net.SplitHostPort(netConn.RemoteAddr().String())
	if err != nil {
		remoteIP = netConn.RemoteAddr().String()
	}
	s.logger.Warn("connection_rejected",
		logger.KeyClientIP, remoteIP,
		logger.KeyReason, reason,
		logger.KeyLimit, s.maxConnections,
	)
	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(false, reason)
	}
	_, _ = fmt.Fprintf(netConn, "421 Too many users, sorry.\r\n")
	netConn.Close()
}

// removeConn drops c from the session list. The OnRemove hook runs only
// when c was actually listed, so repeated calls are harmless.
func (s *Server) removeConn(c *Conn) bool {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()

	if ok {
		c.runHook("on_remove", s.hooks.OnRemove)
	}
	return ok
}

// Connections returns a snapshot of the live sessions.
func (s *Server) Connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Shutdown stops accepting connections, closes every session and waits for
// their goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	// Sessions are closed off the caller's goroutine so that a slow hook
	// cannot hold Shutdown past ctx.
	done := make(chan struct{})
	go func() {
		for _, c := range s.Connections() {
			_ = c.Close()
		}
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// passiveIP returns the IPv4 address announced by PASV for a session whose
// control connection arrived on local.
func (s *Server) passiveIP(local net.Addr) net.IP {
	var ip net.IP
	if tcpAddr, ok := local.(*net.TCPAddr); ok {
		ip = tcpAddr.IP
	}

	if s.publicHost != "" {
		if parsed := net.ParseIP(s.publicHost); parsed != nil {
			ip = parsed
		} else if cached := s.publicIP.Load(); cached != nil {
			ip = *cached
		} else if addrs, err := net.LookupIP(s.publicHost); err == nil {
			for _, resolved := range addrs {
				if v4 := resolved.To4(); v4 != nil {
					ip = v4
					s.publicIP.Store(&v4)
					break
				}
			}
		} else {
			s.logger.Warn("public_host_lookup_failed", logger.KeyAddr, s.publicHost, logger.KeyError, err)
		}
	}

	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return nil
}
