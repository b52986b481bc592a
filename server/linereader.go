package server

import (
	"bufio"
	"io"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

// Telnet bytes that may appear on the control connection (RFC 854).
const (
	telnetIAC  = 0xFF
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
)

// lineReader reads control lines, dropping Telnet option negotiation and
// unescaping IAC IAC. Lines end at LF; a trailing CR is removed.
type lineReader struct {
	r   *bufio.Reader
	max int
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{r: bufio.NewReader(r), max: max}
}

// readLine returns the next line without its terminator. A line over the
// limit yields errLineTooLong. At EOF a partial last line is returned
// together with io.EOF.
func (l *lineReader) readLine() (string, error) {
	var line []byte
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return trimCR(line), io.EOF
			}
			return "", err
		}

		if b == telnetIAC {
			keep, err := l.telnetCommand()
			if err != nil {
				return "", err
			}
			if !keep {
				continue
			}
		}

		if b == '\n' {
			return trimCR(line), nil
		}
		if len(line) >= l.max {
			l.discardLine()
			return "", errLineTooLong
		}
		line = append(line, b)
	}
}

// telnetCommand consumes the bytes following an IAC. It reports true for an
// escaped 0xFF data byte.
func (l *lineReader) telnetCommand() (bool, error) {
	next, err := l.r.ReadByte()
	if err != nil {
		return false, err
	}

	switch next {
	case telnetIAC:
		return true, nil
	case telnetWILL, telnetWONT, telnetDO, telnetDONT:
		// IAC CMD OPT
		if _, err := l.r.ReadByte(); err != nil {
			return false, err
		}
	}
	return false, nil
}

// discardLine skips the rest of an oversized line, at most 64 KiB.
func (l *lineReader) discardLine() {
	for range 64 << 10 {
		b, err := l.r.ReadByte()
		if err != nil || b == '\n' {
			return
		}
	}
}

func trimCR(line []byte) string {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line)
}
