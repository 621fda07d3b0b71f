// Package queue implements the playback queue state machine (spec.md
// §4.3): an ordered list of pending tracks, head-of-queue decoder
// preparation, random-track top-up, and the play/pause/scratch state
// machine. The engine is mutated only from the reactor goroutine, so like
// internal/eventlog it carries no internal mutex.
package queue

import "time"

// State is a queue entry's position in the playback state machine:
// unplayed → prepared → started → {ok|scratched|failed}, with paused
// reachable from and returning to started (spec.md §4.3).
type State string

const (
	StateUnplayed State = "unplayed"
	StatePrepared State = "prepared"
	StateStarted  State = "started"
	StatePaused   State = "paused"
	StateOK       State = "ok"
	StateScratched State = "scratched"
	StateFailed   State = "failed"
	StateQuitting State = "quitting"
	StateNoPlayer State = "no_player"
	StateIsScratch State = "is_scratch"
)

// Origin records how an entry entered the queue (spec.md §3).
type Origin string

const (
	OriginPicked   Origin = "picked"
	OriginRandom   Origin = "random"
	OriginScratch  Origin = "scratch"
	OriginAdopted  Origin = "adopted"
	OriginScheduled Origin = "scheduled"
)

// DecoderHandle is the minimal lifecycle surface the queue engine needs
// from a running decoder subprocess, kept as an interface so this package
// does not depend on internal/decoder (avoiding a cycle — the decoder
// package instead depends on queue.Entry's identity only via the ID string
// passed at spawn time).
type DecoderHandle interface {
	// Kill terminates the subprocess if still running; safe to call more
	// than once.
	Kill()
}

// Entry is one queue slot (spec.md §3 "Queue entry"). Exported fields are
// read directly by the protocol layer when marshalling `queue`/`recent`
// responses; mutation always goes through Engine methods so invariants
// (single playing entry, recent-list transfer) are centrally enforced.
type Entry struct {
	ID     string
	Path   string
	// Submitter is "" for random-origin entries.
	Submitter     string
	SubmittedAt   time.Time
	ExpectedStart time.Time
	State         State
	Origin        Origin
	ScratchedBy   string
	ExitStatus    int
	FramesSoFar   int64
	PausedAt      time.Time
	ResumedAt     time.Time
	FramesAtPause int64
	Decoder       DecoderHandle
	Prepared      bool
}

// IsRandom reports whether the entry originated from the random injector,
// used by the own/random/any rights checks (internal/auth.CanMove et al).
func (e *Entry) IsRandom() bool { return e.Origin == OriginRandom }

// IsOwn reports whether user submitted e directly.
func (e *Entry) IsOwn(user string) bool { return e.Submitter != "" && e.Submitter == user }

// IsPlaying reports whether e currently holds the device (started or
// paused); at most one entry in an Engine satisfies this (spec.md §3
// invariant).
func (e *Entry) IsPlaying() bool { return e.State == StateStarted || e.State == StatePaused }

// IsTerminal reports whether e has finished and is eligible to move to the
// recent-list.
func (e *Entry) IsTerminal() bool {
	switch e.State {
	case StateOK, StateScratched, StateFailed:
		return true
	default:
		return false
	}
}
