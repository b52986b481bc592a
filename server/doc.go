// Package server implements an embeddable FTP protocol engine.
//
// # Overview
//
// The engine owns the protocol: it accepts control connections, parses
// commands, gates them on authentication, guarantees exactly one terminating
// reply per command and moves data over passive or active data connections.
// The host application supplies the rest:
//   - An Authenticator that checks credentials and returns a FileSystem
//   - Optionally, extra commands and SITE sub-commands (CommandSet)
//   - Optionally, lifecycle Hooks and a MetricsCollector
//
// # Getting Started
//
// Serve a local directory to one account:
//
//	package main
//
//	import (
//	    "log"
//	    "github.com/gonzalop/ftpengine/server"
//	)
//
//	func main() {
//	    hash, err := server.HashPassword("secret")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    auth := server.NewStaticAuthenticator([]server.Account{
//	        {Name: "bob", PasswordHash: hash, Root: "/srv/ftp/bob"},
//	    })
//
//	    s, err := server.NewServer(":2121", server.WithAuthenticator(auth))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    log.Fatal(s.ListenAndServe())
//	}
//
// # Custom Commands
//
// A CommandSet runs once per session, after the built-in commands are
// registered, so it can add verbs or replace built-in ones. Commands
// registered later replace earlier ones with the same label.
//
//	stats := server.CommandSetFunc(func(c *server.Conn) {
//	    c.RegisterSiteCommand("BYTES", "Syntax: SITE BYTES", server.NoArgs(func() error {
//	        c.SendResponse(200, fmt.Sprintf("%d bytes transferred.", c.BytesTransferred()))
//	        return nil
//	    }))
//	})
//	s, _ := server.NewServer(":2121",
//	    server.WithAuthenticator(auth),
//	    server.WithCommandSet(stats),
//	)
//
// A handler either sends its own terminating reply or returns:
//   - nil: the engine answers "200 Done"
//   - a *ResponseError: sent as is
//   - fs.ErrNotExist or fs.ErrPermission: 550
//   - other I/O errors: 450
//   - anything else: 451, and the error is logged
//
// Preliminary replies (1xx) do not count as terminating, so a handler may
// send 150, transfer data with SendData, SendDataFrom or ReceiveData, and
// then send 226 or return the transfer error.
//
// # Data Connections
//
// PASV/EPSV and PORT/EPRT configure the built-in data channel. A host that
// carries data some other way (another transport, a proxy) installs its own
// DataSocketFactory from a CommandSet with Conn.SetDataSocketFactory.
//
// Transfers move in 1024-byte chunks. In ASCII mode (TYPE A) outgoing bare
// LF is expanded to CRLF; incoming data is always stored as received.
//
// # Passive Mode Configuration
//
// When behind NAT or in containerized environments:
//
//	s, _ := server.NewServer(":21",
//	    server.WithAuthenticator(auth),
//	    server.WithPublicHost("ftp.example.com"),
//	    server.WithPassivePortRange(30000, 30100),
//	)
//
// The public host is advertised in PASV replies. Without it the server uses
// the control connection's local address.
//
// # Server Configuration
//
// Connection limits and timeouts:
//
//	s, _ := server.NewServer(":21",
//	    server.WithAuthenticator(auth),
//	    server.WithMaxConnections(100),
//	    server.WithIdleTimeout(10*time.Minute),
//	    server.WithDataTimeout(30*time.Second),
//	    server.WithBandwidthLimit(1<<20), // 1 MiB/s per session
//	)
//
// Logging uses log/slog; pass a logger with WithLogger. Every line of a
// session carries its session_id.
//
// # Troubleshooting
//
// Problem: Passive mode connections fail
//   - Solution: Set WithPublicHost to your public IP/hostname
//   - Solution: Ensure the firewall allows the passive port range
//
// Problem: PORT is refused with 500
//   - Solution: Active targets must be the client's own IP; the server
//     refuses third-party addresses
//
// Problem: Connection refused on port 21
//   - Solution: Port 21 requires root/admin privileges on most systems
//   - Solution: Use a higher port (e.g., :2121) for development
package server
