package resource

import (
	"context"
	"io"
)

// RateLimitedWriter wraps an io.Writer with the controller's transfer IO
// limit.
type RateLimitedWriter struct {
	ctx  context.Context
	ctrl *Controller
	w    io.Writer
}

// NewRateLimitedWriter creates a new RateLimitedWriter.
func NewRateLimitedWriter(ctx context.Context, ctrl *Controller, w io.Writer) *RateLimitedWriter {
	return &RateLimitedWriter{
		ctx:  ctx,
		ctrl: ctrl,
		w:    w,
	}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.ctrl.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// RateLimitedReader wraps an io.Reader with the controller's transfer IO
// limit.
type RateLimitedReader struct {
	ctx  context.Context
	ctrl *Controller
	r    io.Reader
}

// NewRateLimitedReader creates a new RateLimitedReader.
func NewRateLimitedReader(ctx context.Context, ctrl *Controller, r io.Reader) *RateLimitedReader {
	return &RateLimitedReader{
		ctx:  ctx,
		ctrl: ctrl,
		r:    r,
	}
}

func (r *RateLimitedReader) Read(p []byte) (int, error) {
	// The read size is unknown up front; admit the full buffer.
	if err := r.ctrl.AcquireIO(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
