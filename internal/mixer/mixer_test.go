package mixer

import (
	"testing"
	"time"

	"github.com/crazyscot/disorder/internal/queue"
)

type fakeBackend struct {
	played   []byte
	activated bool
	failInit bool
	err      error
}

func (f *fakeBackend) Init() error { return nil }
func (f *fakeBackend) Activate() error {
	f.activated = true
	return nil
}
func (f *fakeBackend) Play(pcm []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.played = append(f.played, pcm...)
	return len(pcm) / BytesPerFrame, nil
}
func (f *fakeBackend) Deactivate() error          { f.activated = false; return nil }
func (f *fakeBackend) BeforePoll() *time.Duration { return nil }
func (f *fakeBackend) Ready() bool                { return f.activated }

func TestFeedDrainsWholeFramesOnly(t *testing.T) {
	fb := &fakeBackend{}
	d := NewDriver(fb, nil)
	e := &queue.Entry{ID: "q1"}
	if err := d.Activate(e); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	d.Feed([]byte{1, 2, 3}) // not a whole frame (4 bytes)
	if len(fb.played) != 0 {
		t.Fatalf("expected partial frame held back, got %d bytes", len(fb.played))
	}
	d.Feed([]byte{4, 5, 6, 7}) // completes one frame, three extra bytes pending
	if len(fb.played) != 4 {
		t.Fatalf("expected 4 bytes played, got %d", len(fb.played))
	}
	if e.FramesSoFar != 1 {
		t.Fatalf("expected 1 frame accounted, got %d", e.FramesSoFar)
	}
}

func TestBackendErrorTransitionsToErrorState(t *testing.T) {
	fb := &fakeBackend{err: errBoom{}}
	d := NewDriver(fb, nil)
	e := &queue.Entry{ID: "q1"}
	d.Activate(e)
	d.Feed([]byte{1, 2, 3, 4})
	if d.State() != StateError {
		t.Fatalf("expected StateError, got %v", d.State())
	}
	if d.Retryable() {
		t.Fatal("should not be retryable immediately after error")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestDeactivateClearsEntry(t *testing.T) {
	fb := &fakeBackend{}
	d := NewDriver(fb, nil)
	e := &queue.Entry{ID: "q1"}
	d.Activate(e)
	if err := d.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	d.Feed([]byte{1, 2, 3, 4})
	if len(fb.played) != 0 {
		t.Fatal("expected no frames played after deactivate")
	}
}
