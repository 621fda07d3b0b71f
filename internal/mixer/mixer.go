// Package mixer implements the driver that pulls PCM from the playing
// queue entry's decoder and hands whole frames to a backend vtable
// (spec.md §4.5), mirroring the teacher's RTMPClientFactory indirection
// pattern (internal/rtmp/relay.Destination delegating to a pluggable
// client) but for audio sinks instead of RTMP destinations.
package mixer

import (
	"time"

	"github.com/crazyscot/disorder/internal/eventlog"
	"github.com/crazyscot/disorder/internal/logger"
	"github.com/crazyscot/disorder/internal/queue"
)

// BytesPerFrame is fixed at 16-bit stereo PCM (the only format the decoder
// contract promises, spec.md §1 "uniform PCM stream").
const BytesPerFrame = 4

// DeviceState is the mixer driver's own lifecycle, independent of any one
// queue entry (spec.md §4.5 "device-state field").
type DeviceState int

const (
	StateClosed DeviceState = iota
	StateOpen
	StateError
)

func (s DeviceState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Backend is the vtable every mixer sink implements (spec.md §4.5):
// {init, activate, play, deactivate, beforepoll, ready}.
type Backend interface {
	Init() error
	Activate() error
	// Play consumes whole frames from pcm (len(pcm) is a multiple of
	// BytesPerFrame) and returns how many frames it actually accepted;
	// a backend may accept fewer than offered (e.g. a full write buffer).
	Play(pcm []byte) (framesPlayed int, err error)
	Deactivate() error
	// BeforePoll lets a backend narrow the reactor's wait timeout (e.g. "I
	// will be ready to accept more in 20ms"); nil means no opinion.
	BeforePoll() *time.Duration
	Ready() bool
}

// ErrorRetryDelay is the pause imposed after a backend error before the
// driver retries, preventing a busy loop (spec.md §4.5).
const ErrorRetryDelay = 2 * time.Second

// Driver owns one Backend and the currently-playing queue entry's PCM
// buffer. It is driven entirely from the reactor goroutine: Feed is called
// (through internal/player) by the decoder's stdout reader callback, and
// Retryable/ClearError by a periodic reactor timer in cmd/disorderd.
type Driver struct {
	backend     Backend
	state       DeviceState
	volumeLeft  int
	volumeRight int
	bus         *eventlog.Bus

	entry    *queue.Entry
	buf      []byte
	lastErr  time.Time
	progress time.Time
}

// NewDriver wires backend as the active sink. bus is used to publish
// throttled progress and volume events; may be nil in tests.
func NewDriver(backend Backend, bus *eventlog.Bus) *Driver {
	return &Driver{backend: backend, state: StateClosed, volumeLeft: 100, volumeRight: 100, bus: bus}
}

// State returns the driver's current device state.
func (d *Driver) State() DeviceState { return d.state }

// CurrentEntryID returns the ID of the entry currently bound via Activate,
// or "" if none. internal/player's decoder-output handling uses this to drop
// stray PCM from a decoder whose entry already fell off the head (e.g. it
// was just scratched).
func (d *Driver) CurrentEntryID() string {
	if d.entry == nil {
		return ""
	}
	return d.entry.ID
}

// Activate opens the backend and binds entry as the track currently being
// drained. Safe to call repeatedly for the same entry.
func (d *Driver) Activate(entry *queue.Entry) error {
	if d.state == StateClosed {
		if err := d.backend.Init(); err != nil {
			d.fail(err)
			return err
		}
		d.state = StateOpen
	}
	if err := d.backend.Activate(); err != nil {
		d.fail(err)
		return err
	}
	d.entry = entry
	return nil
}

// Deactivate stops consumption, e.g. on pause or track completion.
func (d *Driver) Deactivate() error {
	d.entry = nil
	d.buf = nil
	if d.state != StateOpen {
		return nil
	}
	if err := d.backend.Deactivate(); err != nil {
		d.fail(err)
		return err
	}
	return nil
}

func (d *Driver) fail(err error) {
	d.state = StateError
	d.lastErr = time.Now()
	logger.Logger().Error("mixer backend error", "err", err)
}

// Retryable reports whether enough time has passed since the last error to
// attempt Activate again (spec.md §4.5 "short delay before retry").
func (d *Driver) Retryable() bool {
	return d.state == StateError && time.Since(d.lastErr) >= ErrorRetryDelay
}

// ClearError transitions an errored driver back to closed so the next
// Activate attempts a fresh Init.
func (d *Driver) ClearError() {
	if d.state == StateError {
		d.state = StateClosed
	}
}

// Feed appends freshly decoded PCM to the internal buffer and drains whole
// frames to the backend, updating entry.FramesSoFar by what the backend
// actually accepted (spec.md §4.5).
func (d *Driver) Feed(pcm []byte) {
	if d.entry == nil || d.state != StateOpen {
		return
	}
	d.buf = append(d.buf, pcm...)
	wholeFrames := (len(d.buf) / BytesPerFrame) * BytesPerFrame
	if wholeFrames == 0 {
		return
	}
	played, err := d.backend.Play(d.buf[:wholeFrames])
	if err != nil {
		d.fail(err)
		return
	}
	consumed := played * BytesPerFrame
	d.buf = d.buf[consumed:]
	d.entry.FramesSoFar += int64(played)
	d.maybePublishProgress()
}

// progressInterval throttles progress events (spec.md §4.5 "periodic
// progress events (throttled)").
const progressInterval = 2 * time.Second

func (d *Driver) maybePublishProgress() {
	if d.bus == nil || d.entry == nil {
		return
	}
	if time.Since(d.progress) < progressInterval {
		return
	}
	d.progress = time.Now()
	d.bus.Publish(eventlog.PlayingMessage(d.entry.ID))
}

// SetVolume updates the left/right volume scalars and publishes the
// volume event.
func (d *Driver) SetVolume(left, right int) {
	d.volumeLeft, d.volumeRight = left, right
	if d.bus != nil {
		d.bus.Publish(eventlog.VolumeMessage(left, right))
	}
}

// Volume returns the current left/right volume.
func (d *Driver) Volume() (int, int) { return d.volumeLeft, d.volumeRight }

// BeforePoll delegates to the backend, used by the server's reactor-wait
// timeout computation.
func (d *Driver) BeforePoll() *time.Duration {
	if d.backend == nil {
		return nil
	}
	return d.backend.BeforePoll()
}

// Ready delegates to the backend.
func (d *Driver) Ready() bool {
	return d.backend != nil && d.backend.Ready()
}
