package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplyForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		code     int
		internal bool
	}{
		{"response error", NewResponseError(501, "Missing file name"), 501, false},
		{"wrapped response error", fmt.Errorf("stor: %w", NewResponseError(552, "Quota")), 552, false},
		{"data connection", dataConnectionError(errors.New("refused")), 425, false},
		{"transfer aborted", transferAbortedError(io.ErrClosedPipe), 426, false},
		{"not exist", fs.ErrNotExist, 550, false},
		{"path not exist", &fs.PathError{Op: "open", Path: "a", Err: fs.ErrNotExist}, 550, false},
		{"permission", os.ErrPermission, 550, false},
		{"not a directory", &fs.PathError{Op: "chdir", Path: "a", Err: syscall.ENOTDIR}, 550, false},
		{"is a directory", &fs.PathError{Op: "delete", Path: "a", Err: syscall.EISDIR}, 550, false},
		{"path error", &fs.PathError{Op: "read", Path: "a", Err: errors.New("device busy")}, 450, false},
		{"unexpected eof", io.ErrUnexpectedEOF, 450, false},
		{"already exists", fs.ErrExist, 450, false},
		{"other", errors.New("boom"), 451, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, msg, internal := replyForError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.internal, internal)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestResponseErrorMessage(t *testing.T) {
	t.Parallel()

	err := dataConnectionError(errors.New("i/o timeout"))
	code, msg, _ := replyForError(err)
	assert.Equal(t, 425, code)
	assert.Equal(t, "Can't open data connection.", msg)
	assert.ErrorContains(t, err, "i/o timeout")

	var re *ResponseError
	assert.ErrorAs(t, err, &re)
	assert.Equal(t, "i/o timeout", errors.Unwrap(re).Error())
}
