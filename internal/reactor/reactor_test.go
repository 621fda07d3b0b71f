package reactor

import (
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFiresInOrder(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	var order []int
	done := make(chan struct{})
	r.RegisterTimeout(time.Now().Add(30*time.Millisecond), func() {
		order = append(order, 2)
	})
	r.RegisterTimeout(time.Now().Add(10*time.Millisecond), func() {
		order = append(order, 1)
	})
	r.RegisterTimeout(time.Now().Add(60*time.Millisecond), func() {
		order = append(order, 3)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers never fired")
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected firing order: %v", order)
	}
}

func TestTimerCancelIsIdempotentAndSafeFromCallback(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	var fired atomic.Bool
	var h *TimerHandle
	h = r.RegisterTimeout(time.Now().Add(10*time.Millisecond), func() {
		fired.Store(true)
		h.Cancel() // safe to call from within own callback
		h.Cancel() // idempotent
	})

	time.Sleep(100 * time.Millisecond)
	if !fired.Load() {
		t.Fatal("timer never fired")
	}
}

func TestCancelledTimerNeverFires(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	var fired atomic.Bool
	h := r.RegisterTimeout(time.Now().Add(20*time.Millisecond), func() {
		fired.Store(true)
	})
	h.Cancel()
	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled timer fired")
	}
}

func TestListenAcceptDeliversOnReactorGoroutine(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	accepted := make(chan net.Conn, 1)
	if _, err := r.Listen(ln, func(c net.Conn) { accepted <- c }); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer dialed.Close()

	select {
	case c := <-accepted:
		defer c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("accept callback never fired")
	}
}

func TestReaderDeliversAndRespectsDisable(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var got []byte
	done := make(chan struct{})
	var rh *ReaderHandle
	rh, err := r.RegisterReader(server, "test", func(data []byte, eof bool) int {
		got = append(got, data...)
		if len(got) >= 5 {
			close(done)
		}
		return len(data)
	}, nil)
	if err != nil {
		t.Fatalf("RegisterReader: %v", err)
	}
	_ = rh

	go client.Write([]byte("hello"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never delivered expected bytes")
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestWriterEnqueueDeliversBytes(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := client.Read(buf)
		readDone <- buf[:n]
	}()

	wh, err := r.RegisterWriter(server, "test", WriterOptions{}, func(error) {})
	if err != nil {
		t.Fatalf("RegisterWriter: %v", err)
	}
	r.post(func() { wh.Enqueue([]byte("250 OK\n")) })

	select {
	case got := <-readDone:
		if string(got) != "250 OK\n" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write never observed")
	}
}

func TestDescriptorBudgetEnforced(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()
	r.mu.Lock()
	r.fdCount = MaxDescriptors
	r.mu.Unlock()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if _, err := r.Listen(ln, func(net.Conn) {}); err == nil {
		t.Fatal("expected descriptor budget error")
	}
}
