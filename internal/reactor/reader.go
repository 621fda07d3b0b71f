package reactor

import (
	"io"
	"sync"

	"github.com/crazyscot/disorder/internal/bufpool"
)

// ReaderHandle is a buffered reader over an fd-like source. Bytes arrive on
// the reactor goroutine via Callback; the callback reports how much of the
// delivered prefix it consumed, and unconsumed bytes are retained and
// prefixed to the next delivery (the reader never calls back with less than
// one full unconsumed remainder plus whatever new bytes arrived).
type ReaderHandle struct {
	r       *Reactor
	src     io.Reader
	label   string
	onData  func(data []byte, eof bool) (consumed int)
	onError func(error)

	mu      sync.Mutex
	pending []byte
	gate    chan struct{}
	enabled bool
	closed  bool
}

// RegisterReader starts a background goroutine that performs blocking reads
// from src and posts the resulting bytes onto the reactor's event channel,
// so onData always executes on the reactor goroutine. onData receives the
// accumulated unconsumed buffer and must return how many leading bytes it
// consumed (0 is legal — "come back when there's more"). On EOF, onData is
// invoked once more with eof=true and then the reader is torn down.
func (r *Reactor) RegisterReader(src io.Reader, label string, onData func([]byte, bool) int, onError func(error)) (*ReaderHandle, error) {
	if err := r.checkDescriptorBudget(); err != nil {
		return nil, err
	}
	h := &ReaderHandle{
		r: r, src: src, label: label,
		onData: onData, onError: onError,
		gate:    make(chan struct{}, 1),
		enabled: true,
	}
	h.gate <- struct{}{}
	go h.pump()
	return h, nil
}

func (h *ReaderHandle) pump() {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-h.gate:
		case <-h.r.quit:
			return
		}
		n, err := h.src.Read(buf)
		chunk := bufpool.Get(n)
		copy(chunk, buf[:n])
		eof := err == io.EOF
		select {
		case h.r.ch <- event{kind: evRead, fn: func() { h.deliver(chunk, eof, err) }}:
		case <-h.r.quit:
			return
		}
		if err != nil {
			return
		}
	}
}

func (h *ReaderHandle) deliver(chunk []byte, eof bool, readErr error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.pending = append(h.pending, chunk...)
	data := h.pending
	h.mu.Unlock()
	bufpool.Put(chunk)

	consumed := h.onData(data, eof && readErr == io.EOF)

	h.mu.Lock()
	if consumed > 0 {
		if consumed > len(h.pending) {
			consumed = len(h.pending)
		}
		h.pending = append([]byte(nil), h.pending[consumed:]...)
	}
	stillEnabled := h.enabled && !h.closed
	h.mu.Unlock()

	if readErr != nil {
		if readErr != io.EOF && h.onError != nil {
			h.onError(readErr)
		}
		h.Cancel()
		return
	}
	if stillEnabled {
		select {
		case h.gate <- struct{}{}:
		default:
		}
	}
}

// Disable hides the reader from further delivery without closing it; bytes
// already in the OS receive buffer accumulate there, providing natural
// back-pressure to the remote peer.
func (h *ReaderHandle) Disable() {
	h.mu.Lock()
	h.enabled = false
	h.mu.Unlock()
}

// Enable resumes delivery after Disable.
func (h *ReaderHandle) Enable() {
	h.mu.Lock()
	wasDisabled := !h.enabled
	h.enabled = true
	h.mu.Unlock()
	if wasDisabled {
		select {
		case h.gate <- struct{}{}:
		default:
		}
	}
}

// Cancel permanently removes the reader. Idempotent and safe to call from
// within its own callback.
func (h *ReaderHandle) Cancel() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	h.r.releaseDescriptorBudget()
}
