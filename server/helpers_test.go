package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gonzalop/ftpengine/internal/logger"
)

const (
	testUser     = "bob"
	testPassword = "secret"
)

// testAuthenticator accepts bob/secret rooted at root. MinCost keeps the
// tests fast.
func testAuthenticator(t *testing.T, root string) *StaticAuthenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	return NewStaticAuthenticator([]Account{
		{Name: testUser, PasswordHash: string(hash), Root: root},
	})
}

type testServer struct {
	*Server
	addr string
	root string
}

// startServer runs a server on a loopback port until the test ends.
func startServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	root := t.TempDir()

	opts = append([]Option{
		WithAuthenticator(testAuthenticator(t, root)),
		WithLogger(logger.Discard()),
		WithDataTimeout(2 * time.Second),
	}, opts...)

	s, err := NewServer("127.0.0.1:0", opts...)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		if err := <-done; err != nil && !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve returned %v", err)
		}
	})

	return &testServer{Server: s, addr: ln.Addr().String(), root: root}
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

// controlClient speaks raw FTP on a control connection.
type controlClient struct {
	t    *testing.T
	conn net.Conn
	text *textproto.Conn
}

// dialControl connects and consumes the 220 banner.
func dialControl(t *testing.T, addr string) *controlClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &controlClient{t: t, conn: conn, text: textproto.NewConn(conn)}
	code, _ := c.read()
	require.Equal(t, 220, code)
	return c
}

// send writes one raw line, without the CRLF.
func (c *controlClient) send(format string, args ...any) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := fmt.Fprintf(c.conn, format+"\r\n", args...)
	require.NoError(c.t, err)
}

// read returns the next reply. Multi-line replies are joined with "\n".
func (c *controlClient) read() (int, string) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	code, msg, err := c.text.ReadResponse(0)
	require.NoError(c.t, err)
	return code, msg
}

// cmd sends a command and returns its reply.
func (c *controlClient) cmd(format string, args ...any) (int, string) {
	c.t.Helper()
	c.send(format, args...)
	return c.read()
}

// expect sends a command and checks the reply code.
func (c *controlClient) expect(code int, format string, args ...any) string {
	c.t.Helper()
	got, msg := c.cmd(format, args...)
	require.Equal(c.t, code, got, "reply to %q: %s", fmt.Sprintf(format, args...), msg)
	return msg
}

func (c *controlClient) login() {
	c.t.Helper()
	c.expect(331, "USER %s", testUser)
	c.expect(230, "PASS %s", testPassword)
}

// expectClosed waits for the server to close the connection.
func (c *controlClient) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		_, err = c.text.ReadLine()
	}
	var netErr net.Error
	require.False(c.t, errors.As(err, &netErr) && netErr.Timeout(), "connection still open")
}

// newTestConn returns a session over an in-memory pipe that is not served.
// The peer end is returned for tests that read replies.
func newTestConn(t *testing.T, opts ...Option) (*Conn, net.Conn) {
	t.Helper()
	opts = append([]Option{
		WithAuthenticator(testAuthenticator(t, t.TempDir())),
		WithLogger(logger.Discard()),
	}, opts...)
	s, err := NewServer("127.0.0.1:0", opts...)
	require.NoError(t, err)

	local, peer := net.Pipe()
	c := newConn(s, local)
	t.Cleanup(func() {
		_ = c.Close()
		_ = peer.Close()
	})
	return c, peer
}
