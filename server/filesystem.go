package server

import (
	"io"
	"os"
)

// FileSystem is the virtual file system a session works on once logged in.
// The engine never inspects it; only the built-in file commands call it.
//
// Paths are as sent by the client: absolute ("/pub/a.txt") or relative to
// the working directory, always with forward slashes.
//
// Error handling:
//   - Return an error matching fs.ErrNotExist for missing files (550)
//   - Return an error matching fs.ErrPermission for denied access (550)
//   - Return an error matching syscall.ENOTDIR or syscall.EISDIR when the
//     path is the wrong kind of entry (550)
//   - Other *fs.PathError values are reported as 450
//   - A *ResponseError is sent to the client verbatim
//
// A FileSystem that also implements io.Closer is closed with its session.
type FileSystem interface {
	// ChangeDir changes the working directory.
	ChangeDir(path string) error

	// GetWd returns the working directory as an absolute virtual path.
	GetWd() (string, error)

	MakeDir(path string) error
	RemoveDir(path string) error
	DeleteFile(path string) error
	Rename(fromPath, toPath string) error

	// ListDir returns the entries of a directory. An empty path is the
	// working directory.
	ListDir(path string) ([]os.FileInfo, error)

	// OpenFile opens a file for a transfer. flag uses the os.O_* constants.
	OpenFile(path string, flag int) (io.ReadWriteCloser, error)

	GetFileInfo(path string) (os.FileInfo, error)

	// Chmod is used by SITE CHMOD.
	Chmod(path string, mode os.FileMode) error
}
