package server

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
)

// NativeFileSystem serves a directory of the local file system.
//
// Every operation goes through an os.Root handle, so paths (including
// symlinks) cannot escape the root directory. Read-only instances refuse all
// modifications with os.ErrPermission.
type NativeFileSystem struct {
	root     *os.Root
	rootPath string
	cwd      string
	readOnly bool
}

// NewNativeFileSystem opens rootPath as the virtual "/".
func NewNativeFileSystem(rootPath string, readOnly bool) (*NativeFileSystem, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	rootPath, err = filepath.EvalSymlinks(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	root, err := os.OpenRoot(rootPath)
	if err != nil {
		return nil, err
	}

	return &NativeFileSystem{
		root:     root,
		rootPath: rootPath,
		cwd:      "/",
		readOnly: readOnly,
	}, nil
}

// Close releases the root directory handle.
func (n *NativeFileSystem) Close() error {
	return n.root.Close()
}

// ReadOnly reports whether modifications are refused.
func (n *NativeFileSystem) ReadOnly() bool {
	return n.readOnly
}

// abs returns the cleaned absolute virtual path of p.
func (n *NativeFileSystem) abs(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(n.cwd, p)
	}
	return path.Clean("/" + p)
}

// resolve returns p relative to the root handle. "/" becomes ".".
func (n *NativeFileSystem) resolve(p string) string {
	rel := strings.TrimPrefix(n.abs(p), "/")
	if rel == "" {
		return "."
	}
	return rel
}

func (n *NativeFileSystem) ChangeDir(p string) error {
	info, err := n.root.Stat(n.resolve(p))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "chdir", Path: p, Err: syscall.ENOTDIR}
	}
	n.cwd = n.abs(p)
	return nil
}

func (n *NativeFileSystem) GetWd() (string, error) {
	return n.cwd, nil
}

func (n *NativeFileSystem) MakeDir(p string) error {
	if n.readOnly {
		return os.ErrPermission
	}
	return n.root.Mkdir(n.resolve(p), 0755)
}

func (n *NativeFileSystem) RemoveDir(p string) error {
	if n.readOnly {
		return os.ErrPermission
	}
	rel := n.resolve(p)
	info, err := n.root.Stat(rel)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "rmdir", Path: p, Err: syscall.ENOTDIR}
	}
	return n.root.Remove(rel)
}

func (n *NativeFileSystem) DeleteFile(p string) error {
	if n.readOnly {
		return os.ErrPermission
	}
	rel := n.resolve(p)
	info, err := n.root.Stat(rel)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &os.PathError{Op: "delete", Path: p, Err: syscall.EISDIR}
	}
	return n.root.Remove(rel)
}

func (n *NativeFileSystem) Rename(fromPath, toPath string) error {
	if n.readOnly {
		return os.ErrPermission
	}
	return n.root.Rename(n.resolve(fromPath), n.resolve(toPath))
}

func (n *NativeFileSystem) ListDir(p string) ([]os.FileInfo, error) {
	f, err := n.root.Open(n.resolve(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil {
			infos = append(infos, info)
		}
	}
	slices.SortFunc(infos, func(a, b os.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return infos, nil
}

func (n *NativeFileSystem) OpenFile(p string, flag int) (io.ReadWriteCloser, error) {
	const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND
	if n.readOnly && flag&writeFlags != 0 {
		return nil, os.ErrPermission
	}
	return n.root.OpenFile(n.resolve(p), flag, 0644)
}

func (n *NativeFileSystem) GetFileInfo(p string) (os.FileInfo, error) {
	return n.root.Stat(n.resolve(p))
}

func (n *NativeFileSystem) Chmod(p string, mode os.FileMode) error {
	if n.readOnly {
		return os.ErrPermission
	}
	if mode > 0777 {
		return os.ErrInvalid
	}
	return n.root.Chmod(n.resolve(p), mode)
}

// Root returns the resolved host directory served as "/".
func (n *NativeFileSystem) Root() string {
	return n.rootPath
}
