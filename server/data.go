package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gonzalop/ftpengine/internal/logger"
	"github.com/gonzalop/ftpengine/internal/ratelimit"
)

// transferChunkSize is the copy unit of data transfers. The session byte
// counter advances once per chunk.
const transferChunkSize = 1024

// SendData writes data over a new data connection.
//
// See SendDataFrom for the error contract.
func (c *Conn) SendData(data []byte) error {
	return c.SendDataFrom(bytes.NewReader(data))
}

// SendDataFrom copies src over a new data connection, expanding bare LF to
// CRLF in ASCII mode. src is closed if it implements io.Closer, whatever the
// outcome.
//
// It returns nil without doing anything once the session is closed,
// ErrDataConnection (425) when the data connection cannot be opened and a
// 426 *ResponseError when the client side fails mid-copy. Read errors on src
// are returned as is.
func (c *Conn) SendDataFrom(src io.Reader) error {
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}
	if c.closed.Load() {
		return nil
	}

	sock, err := c.openDataSocket()
	if err != nil {
		return err
	}
	defer sock.Close()
	stop := context.AfterFunc(c.ctx, func() {
		_ = sock.Close()
	})
	defer stop()

	var dst io.Writer = ratelimit.NewWriter(c.ctx, sock, c.limiter)
	mode := c.TransferMode()
	if mode == ModeASCII {
		dst = newASCIIWriter(dst)
	}

	start := time.Now()
	n, cerr := c.copyChunks(dst, src)
	c.recordTransfer("send", mode, n, start)
	return cerr.sender()
}

// ReceiveData copies an incoming data connection into dst. dst is flushed if
// it has a Flush method and closed if it implements io.Closer, whatever the
// outcome. Inbound data is stored as received, in every mode.
//
// Errors follow SendDataFrom, with write errors on dst returned as is.
func (c *Conn) ReceiveData(dst io.Writer) error {
	return c.receiveData(dst, nil)
}

// receiveData is ReceiveData with a ready callback, run once the data
// connection is open and before anything is written to dst. A ready error
// ends the transfer and is returned as is.
func (c *Conn) receiveData(dst io.Writer, ready func() error) (err error) {
	if closer, ok := dst.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); err == nil && cerr != nil {
				err = cerr
			}
		}()
	}
	if c.closed.Load() {
		return nil
	}

	sock, err := c.openDataSocket()
	if err != nil {
		return err
	}
	defer sock.Close()
	stop := context.AfterFunc(c.ctx, func() {
		_ = sock.Close()
	})
	defer stop()

	if ready != nil {
		if err := ready(); err != nil {
			return err
		}
	}

	src := ratelimit.NewReader(c.ctx, sock, c.limiter)

	start := time.Now()
	n, cerr := c.copyChunks(dst, src)
	if f, ok := dst.(interface{ Flush() error }); ok && cerr == nil {
		if ferr := f.Flush(); ferr != nil {
			cerr = &copyError{err: ferr}
		}
	}
	c.recordTransfer("receive", c.TransferMode(), n, start)
	return cerr.receiver()
}

// openDataSocket asks the current factory for a connection, bounded by the
// data timeout.
func (c *Conn) openDataSocket() (net.Conn, error) {
	ctx := c.ctx
	if c.server.dataTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.server.dataTimeout)
		defer cancel()
	}

	sock, err := c.DataSocketFactory().OpenDataSocket(ctx)
	if err != nil {
		c.logger.Info("data_connection_failed",
			logger.KeyClientIP, c.remoteIP,
			logger.KeyError, err,
		)
		return nil, dataConnectionError(err)
	}
	return sock, nil
}

// copyError records which side of a copy failed.
type copyError struct {
	err     error
	readErr bool
}

// sender maps a failure of an outbound copy: the network is the write side.
func (e *copyError) sender() error {
	if e == nil {
		return nil
	}
	if e.readErr {
		return e.err
	}
	return transferAbortedError(e.err)
}

// receiver maps a failure of an inbound copy: the network is the read side.
func (e *copyError) receiver() error {
	if e == nil {
		return nil
	}
	if e.readErr {
		return transferAbortedError(e.err)
	}
	return e.err
}

// copyChunks copies src to dst one chunk at a time, counting each chunk into
// the session once it has been written.
func (c *Conn) copyChunks(dst io.Writer, src io.Reader) (int64, *copyError) {
	buf := make([]byte, transferChunkSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, &copyError{err: werr}
			}
			total += int64(n)
			c.bytesTransferred.Add(int64(n))
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, &copyError{err: rerr, readErr: true}
		}
	}
}

func (c *Conn) recordTransfer(direction string, mode TransferMode, n int64, start time.Time) {
	duration := time.Since(start)

	c.logger.Info("transfer_complete",
		logger.KeyClientIP, c.remoteIP,
		logger.KeyUsername, c.Username(),
		logger.KeyDirection, direction,
		logger.KeyMode, mode.String(),
		logger.KeyBytes, n,
		logger.KeyDurationMs, duration.Milliseconds(),
	)

	if m := c.server.metricsCollector; m != nil {
		m.RecordTransfer(direction, n, duration)
	}
}
