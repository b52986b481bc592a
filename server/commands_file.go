package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gonzalop/ftpengine/internal/logger"
)

// fileCommands work on the session's FileSystem. All of them require login.
type fileCommands struct {
	c *Conn

	// renameFrom is the path given with RNFR, pending an RNTO.
	renameFrom string
}

func newFileCommands(c *Conn) *fileCommands {
	return &fileCommands{c: c}
}

func (h *fileCommands) register() {
	c := h.c

	for _, label := range []string{"PWD", "XPWD"} {
		c.RegisterCommand(label, label, NoArgs(h.handlePWD), true)
	}
	for _, label := range []string{"CWD", "XCWD"} {
		c.RegisterCommand(label, label+" <path>", SingleArg(h.handleCWD), true)
	}
	for _, label := range []string{"CDUP", "XCUP"} {
		c.RegisterCommand(label, label, NoArgs(h.handleCDUP), true)
	}
	for _, label := range []string{"MKD", "XMKD"} {
		c.RegisterCommand(label, label+" <path>", SingleArg(h.handleMKD), true)
	}
	for _, label := range []string{"RMD", "XRMD"} {
		c.RegisterCommand(label, label+" <path>", SingleArg(h.handleRMD), true)
	}

	c.RegisterCommand("LIST", "LIST [path]", h.handleLIST, true)
	c.RegisterCommand("NLST", "NLST [path]", h.handleNLST, true)
	c.RegisterCommand("RETR", "RETR <path>", SingleArg(h.handleRETR), true)
	c.RegisterCommand("STOR", "STOR <path>", SingleArg(h.handleSTOR), true)
	c.RegisterCommand("APPE", "APPE <path>", SingleArg(h.handleAPPE), true)
	c.RegisterCommand("DELE", "DELE <path>", SingleArg(h.handleDELE), true)
	c.RegisterCommand("RNFR", "RNFR <path>", SingleArg(h.handleRNFR), true)
	c.RegisterCommand("RNTO", "RNTO <path>", SingleArg(h.handleRNTO), true)
	c.RegisterCommand("SIZE", "SIZE <path>", SingleArg(h.handleSIZE), true)
	c.RegisterCommand("MDTM", "MDTM <path>", SingleArg(h.handleMDTM), true)

	c.RegisterSiteCommand("CHMOD", "SITE CHMOD <mode> <path>", h.handleSiteCHMOD)
}

// fs returns the session's file system. An authenticator may legitimately
// return none, in which case every file command fails with 550.
func (h *fileCommands) fs() (FileSystem, error) {
	fs := h.c.FileSystem()
	if fs == nil {
		return nil, NewResponseError(550, "No file system available.")
	}
	return fs, nil
}

func requirePath(path string) error {
	if path == "" {
		return NewResponseError(501, "Syntax error in parameters or arguments.")
	}
	return nil
}

func (h *fileCommands) handlePWD() error {
	fs, err := h.fs()
	if err != nil {
		return err
	}
	cwd, err := fs.GetWd()
	if err != nil {
		return err
	}
	h.c.SendResponse(257, fmt.Sprintf("%q is the current directory.", cwd))
	return nil
}

func (h *fileCommands) handleCWD(path string) error {
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}
	if err := fs.ChangeDir(path); err != nil {
		return err
	}
	h.c.SendResponse(250, "Directory successfully changed.")
	return nil
}

func (h *fileCommands) handleCDUP() error {
	return h.handleCWD("..")
}

// listArg drops ls-style flags ("-la") that clients send with LIST and NLST.
func listArg(args []string) string {
	var parts []string
	for _, arg := range args[1:] {
		if len(parts) == 0 && strings.HasPrefix(arg, "-") {
			continue
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// entries lists path, which may also name a single file.
func (h *fileCommands) entries(path string) ([]os.FileInfo, error) {
	fs, err := h.fs()
	if err != nil {
		return nil, err
	}
	if path != "" {
		info, err := fs.GetFileInfo(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return []os.FileInfo{info}, nil
		}
	}
	return fs.ListDir(path)
}

func (h *fileCommands) handleLIST(args []string) error {
	entries, err := h.entries(listArg(args))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, entry := range entries {
		// Unix-style listing, the format most clients parse.
		fmt.Fprintf(&buf, "%s 1 owner group %d %s %s\r\n",
			entry.Mode().String(), entry.Size(), entry.ModTime().Format("Jan 02 15:04"), entry.Name())
	}

	h.c.SendResponse(150, "Here comes the directory listing.")
	if err := h.c.SendData(buf.Bytes()); err != nil {
		return err
	}
	h.c.SendResponse(226, "Directory send OK.")
	return nil
}

func (h *fileCommands) handleNLST(args []string) error {
	entries, err := h.entries(listArg(args))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, entry := range entries {
		fmt.Fprintf(&buf, "%s\r\n", entry.Name())
	}

	h.c.SendResponse(150, "Here comes the file list.")
	if err := h.c.SendData(buf.Bytes()); err != nil {
		return err
	}
	h.c.SendResponse(226, "Transfer complete.")
	return nil
}

func (h *fileCommands) handleRETR(path string) error {
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}

	info, err := fs.GetFileInfo(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return NewResponseError(550, "Not a plain file.")
	}

	file, err := fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		return err
	}

	h.c.SendResponse(150, fmt.Sprintf("Opening %s mode data connection for %s (%d bytes).",
		h.c.TransferMode(), path, info.Size()))
	if err := h.c.SendDataFrom(file); err != nil {
		return err
	}
	h.c.SendResponse(226, "Transfer complete.")
	return nil
}

func (h *fileCommands) handleSTOR(path string) error {
	return h.store("STOR", path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

func (h *fileCommands) handleAPPE(path string) error {
	return h.store("APPE", path, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

// store writes an upload to path. The destination is opened before the 150
// so that permission errors are answered up front, but an existing file is
// only truncated once the data connection is open, and a file created here
// is removed again if the data connection cannot be opened.
func (h *fileCommands) store(verb, path string, flag int) error {
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}

	_, statErr := fs.GetFileInfo(path)
	existed := statErr == nil

	truncate := flag&os.O_TRUNC != 0
	file, err := fs.OpenFile(path, flag&^os.O_TRUNC)
	if err != nil {
		return err
	}

	var ready func() error
	if truncate {
		if t, ok := file.(interface{ Truncate(size int64) error }); ok {
			ready = func() error { return t.Truncate(0) }
		} else {
			_ = file.Close()
			if file, err = fs.OpenFile(path, flag); err != nil {
				return err
			}
		}
	}

	h.c.SendResponse(150, fmt.Sprintf("Opening data connection for %s.", verb))
	if err := h.c.receiveData(file, ready); err != nil {
		var re *ResponseError
		if !existed && errors.As(err, &re) && re.Code == ErrDataConnection.Code {
			if rerr := fs.DeleteFile(path); rerr != nil {
				h.c.logger.Debug("store_cleanup_failed", logger.KeyPath, path, logger.KeyError, rerr)
			}
		}
		return err
	}

	h.c.logger.Info("file_stored",
		logger.KeyUsername, h.c.Username(),
		logger.KeyProcedure, verb,
		logger.KeyPath, path,
	)
	h.c.SendResponse(226, "Transfer complete.")
	return nil
}

func (h *fileCommands) handleDELE(path string) error {
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}
	if err := fs.DeleteFile(path); err != nil {
		return err
	}
	h.c.logger.Info("file_deleted",
		logger.KeyUsername, h.c.Username(),
		logger.KeyPath, path,
	)
	h.c.SendResponse(250, "File deleted.")
	return nil
}

func (h *fileCommands) handleMKD(path string) error {
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}
	if err := fs.MakeDir(path); err != nil {
		return err
	}
	h.c.logger.Info("directory_created",
		logger.KeyUsername, h.c.Username(),
		logger.KeyPath, path,
	)
	// RFC 959: 257 "PATHNAME" created.
	h.c.SendResponse(257, fmt.Sprintf("%q created.", path))
	return nil
}

func (h *fileCommands) handleRMD(path string) error {
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}
	if err := fs.RemoveDir(path); err != nil {
		return err
	}
	h.c.logger.Info("directory_removed",
		logger.KeyUsername, h.c.Username(),
		logger.KeyPath, path,
	)
	h.c.SendResponse(250, "Directory removed.")
	return nil
}

func (h *fileCommands) handleRNFR(path string) error {
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}
	if _, err := fs.GetFileInfo(path); err != nil {
		return err
	}

	h.renameFrom = path
	h.c.SendResponse(350, "Requested file action pending further information.")
	return nil
}

func (h *fileCommands) handleRNTO(path string) error {
	from := h.renameFrom
	h.renameFrom = ""

	if from == "" {
		return NewResponseError(503, "Bad sequence of commands. Send RNFR first.")
	}
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}
	if err := fs.Rename(from, path); err != nil {
		return err
	}
	h.c.SendResponse(250, "Requested file action successful, file renamed.")
	return nil
}

func (h *fileCommands) handleSIZE(path string) error {
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}
	info, err := fs.GetFileInfo(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return NewResponseError(550, "Not a plain file.")
	}
	h.c.SendResponse(213, strconv.FormatInt(info.Size(), 10))
	return nil
}

func (h *fileCommands) handleMDTM(path string) error {
	if err := requirePath(path); err != nil {
		return err
	}
	fs, err := h.fs()
	if err != nil {
		return err
	}
	info, err := fs.GetFileInfo(path)
	if err != nil {
		return err
	}
	// RFC 3659 Section 2.3: "Time values are always represented in UTC"
	h.c.SendResponse(213, info.ModTime().UTC().Format("20060102150405"))
	return nil
}

// handleSiteCHMOD handles SITE CHMOD <mode> <path>. args[0] is "CHMOD".
func (h *fileCommands) handleSiteCHMOD(args []string) error {
	if len(args) < 3 {
		return NewResponseError(501, "Syntax error in parameters or arguments.")
	}
	path := strings.Join(args[2:], " ")

	mode, err := strconv.ParseUint(args[1], 8, 32)
	if err != nil {
		return NewResponseError(501, "Invalid mode.")
	}
	// Only the standard permission bits (0-777).
	if mode > 0777 {
		return NewResponseError(501, "Invalid mode: special bits not allowed.")
	}

	fs, err := h.fs()
	if err != nil {
		return err
	}
	if err := fs.Chmod(path, os.FileMode(mode)); err != nil {
		if errors.Is(err, os.ErrInvalid) {
			return NewResponseError(501, "Invalid mode.")
		}
		return err
	}
	h.c.SendResponse(200, "SITE CHMOD command successful.")
	return nil
}
