// Package ratelimit throttles data connections to a bandwidth budget.
//
// It wraps golang.org/x/time/rate with io.Reader and io.Writer adapters that
// block until enough tokens (one per byte) are available. Waits are bound to
// a context so that stopping a session releases a throttled transfer.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// New returns a limiter allowing bytesPerSecond with a burst of one second
// worth of data. It returns nil for a non-positive limit, meaning unlimited.
func New(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(bytesPerSecond)
	if int64(burst) != bytesPerSecond || burst < 0 {
		burst = int(^uint(0) >> 1)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

type reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewReader returns r throttled by limiter. A nil limiter returns r unchanged.
func NewReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, limiter: limiter}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}

	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type writer struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

// NewWriter returns w throttled by limiter. A nil limiter returns w unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiter *rate.Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, limiter: limiter}
}

func (w *writer) Write(p []byte) (int, error) {
	burst := w.limiter.Burst()
	written := 0
	for written < len(p) {
		chunk := len(p) - written
		if chunk > burst {
			chunk = burst
		}
		if err := w.limiter.WaitN(w.ctx, chunk); err != nil {
			return written, err
		}
		n, err := w.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
