package reactor

import (
	"net"
	"sync"
)

// Tie pairs a ReaderHandle and WriterHandle that share one net.Conn so that
// the fd's lifetime is controlled by both halves: closing one half shuts
// that direction down but the underlying conn is only actually closed once
// both halves have released it (spec.md §9 "Cyclic references").
type Tie struct {
	conn   net.Conn
	mu     sync.Mutex
	rDone  bool
	wDone  bool
	closed bool
}

// NewTie wraps conn for bidirectional use, returning the Tie plus the
// registered reader and writer handles. onData/onError/writerErr behave as
// documented on RegisterReader/RegisterWriter; the Tie wraps each half's
// error callback to implement half-close semantics.
func NewTie(r *Reactor, conn net.Conn, label string, opts WriterOptions,
	onData func([]byte, bool) int, onReadError func(error), onWriteError func(error)) (*Tie, *ReaderHandle, *WriterHandle, error) {

	t := &Tie{conn: conn}

	rh, err := r.RegisterReader(conn, label+":r", onData, func(e error) {
		t.releaseRead()
		if onReadError != nil {
			onReadError(e)
		}
	})
	if err != nil {
		return nil, nil, nil, err
	}
	wh, err := r.RegisterWriter(conn, label+":w", opts, func(e error) {
		t.releaseWrite()
		if onWriteError != nil {
			onWriteError(e)
		}
	})
	if err != nil {
		rh.Cancel()
		return nil, nil, nil, err
	}
	return t, rh, wh, nil
}

func (t *Tie) releaseRead() {
	t.mu.Lock()
	t.rDone = true
	shouldClose := t.wDone && !t.closed
	if shouldClose {
		t.closed = true
	}
	t.mu.Unlock()
	if shouldClose {
		_ = t.conn.Close()
	} else {
		_ = halfCloseRead(t.conn)
	}
}

func (t *Tie) releaseWrite() {
	t.mu.Lock()
	t.wDone = true
	shouldClose := t.rDone && !t.closed
	if shouldClose {
		t.closed = true
	}
	t.mu.Unlock()
	if shouldClose {
		_ = t.conn.Close()
	} else {
		_ = halfCloseWrite(t.conn)
	}
}

// halfCloseReader and halfCloseWriter are implemented by *net.TCPConn and
// *net.UnixConn.
type halfCloseReader interface{ CloseRead() error }
type halfCloseWriter interface{ CloseWrite() error }

func halfCloseRead(c net.Conn) error {
	if hc, ok := c.(halfCloseReader); ok {
		return hc.CloseRead()
	}
	return nil
}

func halfCloseWrite(c net.Conn) error {
	if hc, ok := c.(halfCloseWriter); ok {
		return hc.CloseWrite()
	}
	return nil
}

// Close force-closes both halves immediately, e.g. on shutdown.
func (t *Tie) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}
