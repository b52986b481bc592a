package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"
)

// ResponseError is a protocol-level failure carrying the exact reply a
// command handler wants sent to the client.
//
// Handlers return it instead of calling SendResponse when they want the engine
// to write the reply:
//
//	if len(args) < 2 {
//	    return server.NewResponseError(501, "Missing file name")
//	}
type ResponseError struct {
	Code    int
	Message string

	// Err is an optional underlying cause, used for logging only.
	Err error
}

// NewResponseError returns a *ResponseError with the given code and message.
func NewResponseError(code int, message string) *ResponseError {
	return &ResponseError{Code: code, Message: message}
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

var (
	// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
	ErrServerClosed = errors.New("ftp: Server closed")

	// ErrDataConnection reports that a data connection could not be
	// established, whatever the underlying reason (refused, timeout, no PASV
	// or PORT issued).
	ErrDataConnection = &ResponseError{Code: 425, Message: "Can't open data connection."}

	// ErrAuthFailed is returned by authenticators for bad credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// errLineTooLong is returned by the control reader for oversized lines.
	errLineTooLong = errors.New("command too long")
)

// dataConnectionError wraps an establishment failure so the cause is kept
// for logs while the client still gets a 425.
func dataConnectionError(cause error) error {
	return &ResponseError{Code: ErrDataConnection.Code, Message: ErrDataConnection.Message, Err: cause}
}

// transferAbortedError wraps a failure that happened mid-copy.
func transferAbortedError(cause error) error {
	return &ResponseError{Code: 426, Message: "Connection closed; transfer aborted.", Err: cause}
}

// replyForError maps a handler failure to a reply. The internal result is
// true for failures not explained by the protocol or the file system.
func replyForError(err error) (code int, message string, internal bool) {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Code, re.Message, false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return 550, errorMessage(err, "File not found."), false
	}
	if errors.Is(err, fs.ErrPermission) {
		return 550, errorMessage(err, "Permission denied."), false
	}
	if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR) {
		return 550, errorMessage(err, "File unavailable."), false
	}
	if isIOError(err) {
		return 450, errorMessage(err, "Requested file action not taken."), false
	}
	return 451, errorMessage(err, "Requested action aborted: local error in processing."), true
}

func isIOError(err error) bool {
	var (
		pathErr *fs.PathError
		linkErr *os.LinkError
		sysErr  *os.SyscallError
		netErr  net.Error
	)
	switch {
	case errors.As(err, &pathErr), errors.As(err, &linkErr), errors.As(err, &sysErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, io.ErrShortWrite):
		return true
	case errors.Is(err, fs.ErrExist), errors.Is(err, fs.ErrInvalid), errors.Is(err, fs.ErrClosed):
		return true
	case errors.Is(err, os.ErrDeadlineExceeded):
		return true
	}
	return false
}

func errorMessage(err error, fallback string) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
