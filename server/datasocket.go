package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/gonzalop/ftpengine/internal/logger"
)

// DataSocketFactory opens the data connection for one transfer.
//
// The default factory of every Conn follows the last PASV/EPSV or PORT/EPRT
// command. Hosts may install their own with Conn.SetDataSocketFactory, for
// example to tunnel data through another transport.
//
// ctx carries the data timeout and is canceled when the session closes.
type DataSocketFactory interface {
	OpenDataSocket(ctx context.Context) (net.Conn, error)
}

// DataSocketFactoryFunc adapts a function to a DataSocketFactory.
type DataSocketFactoryFunc func(ctx context.Context) (net.Conn, error)

// OpenDataSocket calls f(ctx).
func (f DataSocketFactoryFunc) OpenDataSocket(ctx context.Context) (net.Conn, error) {
	return f(ctx)
}

var errNoDataConnection = errors.New("no data connection set up (use PASV or PORT)")

// dataChannel is the built-in DataSocketFactory. Each PASV or PORT replaces
// whatever the previous one set up; each passive listener serves a single
// connection.
type dataChannel struct {
	conn *Conn

	mu         sync.Mutex
	listener   net.Listener
	activeAddr string
}

func newDataChannel(c *Conn) *dataChannel {
	return &dataChannel{conn: c}
}

// listenPassive opens a listener for the next transfer and returns the port.
func (d *dataChannel) listenPassive() (int, error) {
	s := d.conn.server

	host := ""
	if tcpAddr, ok := d.conn.LocalAddr().(*net.TCPAddr); ok {
		host = tcpAddr.IP.String()
	}

	var (
		ln  net.Listener
		err error
	)
	if s.pasvMinPort > 0 && s.pasvMaxPort >= s.pasvMinPort {
		rangeLen := uint32(s.pasvMaxPort - s.pasvMinPort + 1)
		start := s.nextPassivePort.Add(1)
		for i := range rangeLen {
			port := s.passivePort(start + i)
			ln, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err == nil {
				break
			}
		}
		if ln == nil {
			return 0, fmt.Errorf("no available ports in range [%d, %d]", s.pasvMinPort, s.pasvMaxPort)
		}
	} else {
		ln, err = net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return 0, err
		}
	}

	d.mu.Lock()
	old := d.listener
	d.listener = ln
	d.activeAddr = ""
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	return ln.Addr().(*net.TCPAddr).Port, nil
}

// passivePort maps a rotation counter onto the passive port range. The
// counter may wrap.
func (s *Server) passivePort(n uint32) int {
	rangeLen := uint32(s.pasvMaxPort - s.pasvMinPort + 1)
	return s.pasvMinPort + int(n%rangeLen)
}

// setActive records the client address given with PORT or EPRT.
func (d *dataChannel) setActive(addr string) {
	d.mu.Lock()
	old := d.listener
	d.listener = nil
	d.activeAddr = addr
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// OpenDataSocket accepts on the passive listener or dials the active address.
func (d *dataChannel) OpenDataSocket(ctx context.Context) (net.Conn, error) {
	d.mu.Lock()
	ln := d.listener
	addr := d.activeAddr
	d.listener = nil
	d.activeAddr = ""
	d.mu.Unlock()

	switch {
	case ln != nil:
		return d.acceptPassive(ctx, ln)
	case addr != "":
		d.conn.logger.Debug("active_dial", logger.KeyAddr, addr)
		var dialer net.Dialer
		return dialer.DialContext(ctx, "tcp", addr)
	default:
		return nil, errNoDataConnection
	}
}

func (d *dataChannel) acceptPassive(ctx context.Context, ln net.Listener) (net.Conn, error) {
	defer ln.Close()

	d.conn.logger.Debug("passive_accept", logger.KeyAddr, ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return conn, nil
}

// close releases a pending passive listener.
func (d *dataChannel) close() error {
	d.mu.Lock()
	ln := d.listener
	d.listener = nil
	d.activeAddr = ""
	d.mu.Unlock()

	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// validateActiveIP ensures the data connection target matches the control
// connection source, which prevents FTP bounce attacks.
func (c *Conn) validateActiveIP(ip net.IP) bool {
	remoteIP := net.ParseIP(c.remoteIP)
	if remoteIP == nil {
		return false
	}
	return ip.Equal(remoteIP)
}

// SetDataSocketFactory replaces the source of data connections. Passing nil
// restores the built-in PASV/PORT handling.
func (c *Conn) SetDataSocketFactory(f DataSocketFactory) {
	if f == nil {
		f = c.data
	}
	c.stateMu.Lock()
	c.dataFactory = f
	c.stateMu.Unlock()
}

// DataSocketFactory returns the current source of data connections.
func (c *Conn) DataSocketFactory() DataSocketFactory {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.dataFactory
}
