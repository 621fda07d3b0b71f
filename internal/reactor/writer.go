package reactor

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"
)

// ErrSpaceBound is returned (via onError) when a writer's buffered size
// would exceed its configured space bound. It wraps syscall.EPIPE.
var ErrSpaceBound = fmt.Errorf("reactor: writer space bound exceeded: %w", syscall.EPIPE)

// ErrTimeBound is returned (via onError) when too long has elapsed since
// the writer's last successful write.
var ErrTimeBound = errors.New("reactor: writer time bound exceeded")

const (
	// DefaultTimeBound is the maximum time between successful writes
	// before a connection is declared dead (spec.md §4.1).
	DefaultTimeBound = 600 * time.Second
	// DefaultSpaceBound is the maximum buffered size before a writer is
	// abandoned with EPIPE (spec.md §4.1).
	DefaultSpaceBound = 512 * 1024
)

// WriterHandle is a buffered writer over an fd-like sink. All of buf's
// lifetime is owned by the reactor goroutine; the background write-pump
// goroutine only ever sees an immutable snapshot handed to it at dispatch
// time, so no mutex guards it (matches spec.md §5's "no locks required").
type WriterHandle struct {
	r        *Reactor
	sink     io.Writer
	onError  func(error)
	label    string
	SpaceBound int
	TimeBound  time.Duration

	buf       []byte
	writing   bool
	lastWrite time.Time
	watchdog  *TimerHandle
	closed    bool
}

// WriterOptions configures a registered writer; the zero value uses the
// package defaults.
type WriterOptions struct {
	SpaceBound int
	TimeBound  time.Duration
}

// RegisterWriter wraps sink in a buffered writer. onError is invoked on the
// reactor goroutine whenever a write fails or a bound is exceeded; EPIPE is
// passed through for the caller to log at a lower severity than other
// errors, matching spec.md's error taxonomy.
func (r *Reactor) RegisterWriter(sink io.Writer, label string, opts WriterOptions, onError func(error)) (*WriterHandle, error) {
	if err := r.checkDescriptorBudget(); err != nil {
		return nil, err
	}
	if opts.SpaceBound <= 0 {
		opts.SpaceBound = DefaultSpaceBound
	}
	if opts.TimeBound <= 0 {
		opts.TimeBound = DefaultTimeBound
	}
	h := &WriterHandle{
		r: r, sink: sink, label: label, onError: onError,
		SpaceBound: opts.SpaceBound, TimeBound: opts.TimeBound,
		lastWrite: time.Now(),
	}
	h.armWatchdog()
	return h, nil
}

// Enqueue appends data to the writer's buffer and, if no write is currently
// in flight, kicks off a background write attempt. Must be called from the
// reactor goroutine.
func (h *WriterHandle) Enqueue(data []byte) {
	if h.closed || len(data) == 0 {
		return
	}
	if len(h.buf)+len(data) > h.SpaceBound {
		h.fail(ErrSpaceBound)
		return
	}
	h.buf = append(h.buf, data...)
	if !h.writing {
		h.kick()
	}
}

// Buffered reports the number of bytes currently queued for write.
func (h *WriterHandle) Buffered() int { return len(h.buf) }

func (h *WriterHandle) kick() {
	if len(h.buf) == 0 || h.closed {
		return
	}
	snapshot := h.buf
	h.writing = true
	go func() {
		n, err := writeFull(h.sink, snapshot)
		h.r.post(func() { h.onWriteDone(n, err) })
	}()
}

func writeFull(w io.Writer, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := w.Write(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (h *WriterHandle) onWriteDone(n int, err error) {
	h.writing = false
	if n > 0 {
		h.buf = append([]byte(nil), h.buf[n:]...)
		h.lastWrite = time.Now()
		h.rearmWatchdog()
	}
	if err != nil {
		h.fail(err)
		return
	}
	if len(h.buf) > 0 {
		h.kick()
	}
}

func (h *WriterHandle) fail(err error) {
	if h.closed {
		return
	}
	if h.onError != nil {
		h.onError(err)
	}
	h.Cancel()
}

func (h *WriterHandle) armWatchdog() {
	h.watchdog = h.r.RegisterTimeout(time.Now().Add(h.TimeBound), h.checkWatchdog)
}

func (h *WriterHandle) rearmWatchdog() {
	if h.watchdog != nil {
		h.watchdog.Cancel()
	}
	h.armWatchdog()
}

func (h *WriterHandle) checkWatchdog() {
	if h.closed {
		return
	}
	if time.Since(h.lastWrite) >= h.TimeBound {
		h.fail(ErrTimeBound)
		return
	}
	h.rearmWatchdog()
}

// Cancel stops the writer. Idempotent and safe to call from its own
// callback (e.g. from within onError).
func (h *WriterHandle) Cancel() {
	if h.closed {
		return
	}
	h.closed = true
	if h.watchdog != nil {
		h.watchdog.Cancel()
	}
	h.r.releaseDescriptorBudget()
}
