package reactor

import (
	"errors"
	"net"
	"syscall"
)

// ListenHandle controls a registered listener.
type ListenHandle struct {
	l net.Listener
	r *Reactor
}

// Cancel stops accepting and closes the listener.
func (h *ListenHandle) Cancel() error {
	if h == nil || h.l == nil {
		return nil
	}
	h.r.releaseDescriptorBudget()
	return h.l.Close()
}

// Listen registers a listener whose accept-callback runs on the reactor
// goroutine for every accepted connection. The accept loop itself runs on a
// dedicated goroutine (Go's net.Listener.Accept is blocking and has no
// readiness-only mode), but every accepted net.Conn is handed to cb only
// after being posted onto the reactor's single event channel, so
// application-level accept handling still happens on the reactor thread.
// Per spec.md §4.1, EAGAIN/EINTR/ECONNABORTED/EPROTO-class transient accept
// errors are swallowed and the loop continues; anything else ends the loop.
func (r *Reactor) Listen(l net.Listener, cb func(net.Conn)) (*ListenHandle, error) {
	if err := r.checkDescriptorBudget(); err != nil {
		return nil, err
	}
	h := &ListenHandle{l: l, r: r}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if isTransientAcceptError(err) {
					continue
				}
				return
			}
			c := conn
			select {
			case r.ch <- event{kind: evAccept, fn: func() { cb(c) }}:
			case <-r.quit:
				_ = c.Close()
				return
			}
		}
	}()
	return h, nil
}

func isTransientAcceptError(err error) bool {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPROTO) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
