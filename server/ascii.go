package server

import (
	"bytes"
	"io"
)

// asciiWriter expands bare LF to CRLF on the way to the data connection
// (RETR, LIST in TYPE A). A LF already preceded by CR is left alone, also when
// the CR ended the previous Write.
//
// Uploads are not translated back; data received in TYPE A is stored as sent.
type asciiWriter struct {
	w         io.Writer
	prevWasCR bool
	buf       []byte
}

func newASCIIWriter(w io.Writer) *asciiWriter {
	return &asciiWriter{w: w}
}

// Write reports len(p) on success: the count is of source bytes, not of the
// expanded output.
func (a *asciiWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	out := a.buf[:0]
	rest := p
	for len(rest) > 0 {
		idx := bytes.IndexByte(rest, '\n')
		if idx == -1 {
			out = append(out, rest...)
			a.prevWasCR = rest[len(rest)-1] == '\r'
			break
		}

		out = append(out, rest[:idx]...)
		if idx > 0 {
			a.prevWasCR = rest[idx-1] == '\r'
		}
		if !a.prevWasCR {
			out = append(out, '\r')
		}
		out = append(out, '\n')
		a.prevWasCR = false
		rest = rest[idx+1:]
	}
	a.buf = out

	if _, err := a.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
