package server

import (
	"fmt"
	"strings"

	"github.com/gonzalop/ftpengine/internal/logger"
)

// sanitizeLine keeps a reply on a single protocol line.
var sanitizeLine = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// SendResponse writes "<code> <message>\r\n" to the control connection and
// flushes it. It is a no-op once the control connection is closed. A write
// failure closes the session.
//
// Replies with a code of 200 or above terminate the current command; the
// engine then skips its own default reply.
func (c *Conn) SendResponse(code int, message string) {
	if code < 100 || code > 599 {
		c.logger.Error("invalid_reply_code", logger.KeyStatus, code)
		code = 451
	}

	c.writeReply(code, false, func() error {
		_, err := fmt.Fprintf(c.writer, "%d %s\r\n", code, sanitizeLine.Replace(message))
		return err
	})
}

// SendMultilineResponse writes a multi-line reply:
//
//	211-Features:
//	 SIZE
//	 MDTM
//	211 End
//
// The whole reply is written as one unit.
func (c *Conn) SendMultilineResponse(code int, header string, lines []string, footer string) {
	c.writeReply(code, false, func() error {
		if _, err := fmt.Fprintf(c.writer, "%d-%s\r\n", code, sanitizeLine.Replace(header)); err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := fmt.Fprintf(c.writer, " %s\r\n", sanitizeLine.Replace(line)); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(c.writer, "%d %s\r\n", code, sanitizeLine.Replace(footer))
		return err
	})
}

// writeReply runs write under the writer lock. With once set, nothing is
// written if a terminating reply was already sent for the current command.
func (c *Conn) writeReply(code int, once bool, write func() error) bool {
	if c.closed.Load() {
		return false
	}

	c.mu.Lock()
	if once && c.responseSent {
		c.mu.Unlock()
		return false
	}
	err := write()
	if err == nil {
		err = c.writer.Flush()
	}
	if code >= 200 {
		c.responseSent = true
		c.lastCode = code
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("reply_write_failed",
			logger.KeyClientIP, c.remoteIP,
			logger.KeyError, err,
		)
		_ = c.Close()
	}
	return true
}

// replyOnce sends a reply only if no terminating reply was sent yet for the
// current command. It reports whether it wrote.
func (c *Conn) replyOnce(code int, message string) bool {
	return c.writeReply(code, true, func() error {
		_, err := fmt.Fprintf(c.writer, "%d %s\r\n", code, sanitizeLine.Replace(message))
		return err
	})
}

func (c *Conn) resetResponse() {
	c.mu.Lock()
	c.responseSent = false
	c.mu.Unlock()
}

func (c *Conn) responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseSent
}
