package server

import (
	"bytes"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientSession drives the server with a third-party FTP client.
func TestClientSession(t *testing.T) {
	t.Parallel()
	s := startServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "readme.txt"), []byte("read me\n"), 0644))

	c, err := ftp.Dial(s.addr, ftp.DialWithTimeout(2*time.Second))
	require.NoError(t, err)
	defer c.Quit()

	require.NoError(t, c.Login(testUser, testPassword))

	// Upload
	payload := bytes.Repeat([]byte("ftp engine "), 1000)
	require.NoError(t, c.Stor("upload.bin", bytes.NewReader(payload)))
	onDisk, err := os.ReadFile(filepath.Join(s.root, "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	size, err := c.FileSize("upload.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	// Download
	r, err := c.Retr("readme.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "read me\n", string(data))

	// Directories
	require.NoError(t, c.MakeDir("docs"))
	require.NoError(t, c.ChangeDir("docs"))
	cwd, err := c.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/docs", cwd)
	require.NoError(t, c.ChangeDirToParent())

	entries, err := c.List("")
	require.NoError(t, err)
	names := make(map[string]ftp.EntryType)
	for _, e := range entries {
		names[e.Name] = e.Type
	}
	assert.Equal(t, map[string]ftp.EntryType{
		"docs":       ftp.EntryTypeFolder,
		"readme.txt": ftp.EntryTypeFile,
		"upload.bin": ftp.EntryTypeFile,
	}, names)

	// Rename and delete
	require.NoError(t, c.Rename("upload.bin", "docs/moved.bin"))
	_, err = os.Stat(filepath.Join(s.root, "docs", "moved.bin"))
	require.NoError(t, err)
	require.NoError(t, c.Delete("docs/moved.bin"))
	require.NoError(t, c.RemoveDir("docs"))

	_, err = c.Retr("missing.txt")
	assert.Error(t, err)

	conns := s.Connections()
	require.Len(t, conns, 1)
	assert.GreaterOrEqual(t, conns[0].BytesTransferred(), int64(len(payload)+len("read me\n")))
}

func TestClientAppend(t *testing.T) {
	t.Parallel()
	s := startServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "log.txt"), []byte("Part1"), 0644))

	c, err := ftp.Dial(s.addr, ftp.DialWithTimeout(2*time.Second))
	require.NoError(t, err)
	defer c.Quit()
	require.NoError(t, c.Login(testUser, testPassword))

	require.NoError(t, c.Append("log.txt", bytes.NewBufferString("Part2")))
	data, err := os.ReadFile(filepath.Join(s.root, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Part1Part2", string(data))
}

func TestClientReadOnlyAccount(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	auth := NewStaticAuthenticator(nil, WithAnonymous(root, false))
	s := startServer(t, func(s *Server) error {
		s.authenticator = auth
		return nil
	})

	c, err := ftp.Dial(s.addr, ftp.DialWithTimeout(2*time.Second))
	require.NoError(t, err)
	defer c.Quit()
	require.NoError(t, c.Login("anonymous", "guest@example.com"))

	err = c.Stor("nope.txt", bytes.NewBufferString("x"))
	require.Error(t, err)
	var protoErr *textproto.Error
	if assert.ErrorAs(t, err, &protoErr) {
		assert.Equal(t, 550, protoErr.Code)
	}
	_, err = os.Stat(filepath.Join(root, "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
