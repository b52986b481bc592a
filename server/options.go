package server

import (
	"fmt"
	"log/slog"
	"time"
)

// Option is a functional option for configuring a Server.
type Option func(*Server) error

// WithAuthenticator sets the credential check that also provides each
// session's file system. This option is required and can only be set once.
//
// Example:
//
//	auth := server.NewStaticAuthenticator(accounts)
//	s, _ := server.NewServer(":21", server.WithAuthenticator(auth))
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Server) error {
		if auth == nil {
			return fmt.Errorf("authenticator must not be nil")
		}
		if s.authenticator != nil {
			return fmt.Errorf("authenticator already set")
		}
		s.authenticator = auth
		return nil
	}
}

// WithLogger sets a custom logger for the server and its sessions.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21",
//	    server.WithAuthenticator(auth),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithMetricsCollector sets the collector notified of commands, transfers,
// connections and logins.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithHooks sets the session lifecycle callbacks.
func WithHooks(hooks Hooks) Option {
	return func(s *Server) error {
		s.hooks = hooks
		return nil
	}
}

// WithCommandSet adds a family of commands registered on every new session,
// after the built-in ones. Sets run in option order, so a later set can
// override an earlier one.
//
// Example:
//
//	server.WithCommandSet(server.CommandSetFunc(func(c *server.Conn) {
//	    c.RegisterSiteCommand("WHO", "SITE WHO", server.NoArgs(func() error {
//	        c.SendResponse(200, c.Username())
//	        return nil
//	    }))
//	}))
func WithCommandSet(set CommandSet) Option {
	return func(s *Server) error {
		if set == nil {
			return fmt.Errorf("command set must not be nil")
		}
		s.commandSets = append(s.commandSets, set)
		return nil
	}
}

// WithWelcomeMessage sets the text sent with the 220 banner.
func WithWelcomeMessage(message string) Option {
	return func(s *Server) error {
		s.welcomeMessage = message
		return nil
	}
}

// WithSystemType sets the SYST reply. Defaults to "UNIX Type: L8".
func WithSystemType(systemType string) Option {
	return func(s *Server) error {
		s.systemType = systemType
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous sessions.
// If 0, there is no limit. This is the default.
//
// When the limit is reached, new connections receive a "421 Too many users"
// reply and are closed.
func WithMaxConnections(max int) Option {
	return func(s *Server) error {
		if max < 0 {
			return fmt.Errorf("max connections must not be negative: %d", max)
		}
		s.maxConnections = max
		return nil
	}
}

// WithIdleTimeout sets how long a session may stay silent before it is sent
// a 421 and closed. 0 disables the timeout. Defaults to 5 minutes.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.idleTimeout = d
		return nil
	}
}

// WithDataTimeout bounds the wait for a data connection (the client
// connecting to a passive port, or the server dialing an active one).
// Defaults to 10 seconds.
func WithDataTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.dataTimeout = d
		return nil
	}
}

// WithPublicHost sets the address announced in PASV replies, for servers
// behind NAT. It may be an IPv4 address or a host name resolved on first use.
func WithPublicHost(host string) Option {
	return func(s *Server) error {
		s.publicHost = host
		return nil
	}
}

// WithPassivePortRange restricts passive listeners to [min, max].
//
// Example:
//
//	server.WithPassivePortRange(30000, 30100)
func WithPassivePortRange(min, max int) Option {
	return func(s *Server) error {
		if min <= 0 || max < min || max > 65535 {
			return fmt.Errorf("invalid passive port range [%d, %d]", min, max)
		}
		s.pasvMinPort = min
		s.pasvMaxPort = max
		return nil
	}
}

// WithBandwidthLimit caps each session's data transfers at bytesPerSecond.
// 0 means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("bandwidth limit must not be negative: %d", bytesPerSecond)
		}
		s.bandwidthLimit = bytesPerSecond
		return nil
	}
}
