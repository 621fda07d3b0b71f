package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crazyscot/disorder/internal/eventlog"
)

// Preparer spawns (or re-spawns, idempotently) the decoder subprocess that
// will feed e once it reaches the head of the queue. internal/decoder
// implements this; queue only needs to know "prepare has been asked for",
// tracked via Entry.Prepared so repeated calls are safely deduplicated
// (spec.md §4.3 "safe to prepare a track repeatedly").
type Preparer interface {
	Prepare(e *Entry)
}

// RandomChooser selects the next random-origin track, excluding anything
// played within replayMin and biasing toward tracks newer than newBiasAge
// by newBias (spec.md §4.3 "Random-track injection").
type RandomChooser interface {
	ChooseRandom(ctx context.Context, replayMin time.Duration, newBiasAge time.Duration, newBias float64) (path string, err error)
}

// Config holds the tunables spec.md §4.3/§6 exposes for random injection
// and history retention.
type Config struct {
	QueuePad   int
	ReplayMin  time.Duration
	NewBiasAge time.Duration
	NewBias    float64
	RecentMax  int
}

// DefaultConfig mirrors the values spec.md's glossary cites as defaults.
func DefaultConfig() Config {
	return Config{QueuePad: 10, ReplayMin: 8 * time.Hour, NewBiasAge: 24 * time.Hour, NewBias: 0.5, RecentMax: 50}
}

// Engine holds the ordered pending queue plus the bounded recent-list. It
// is mutated only from the reactor goroutine (spec.md §5), so it carries
// no mutex of its own.
type Engine struct {
	cfg      Config
	bus      *eventlog.Bus
	prep     Preparer
	chooser  RandomChooser
	entries  []*Entry
	recent   []*Entry
	playOn   bool
	randomOn bool
}

// New creates an empty engine. bus may be nil in tests that don't care
// about event publication.
func New(cfg Config, bus *eventlog.Bus, prep Preparer, chooser RandomChooser) *Engine {
	return &Engine{cfg: cfg, bus: bus, prep: prep, chooser: chooser, playOn: true, randomOn: true}
}

func (q *Engine) publish(msg string) {
	if q.bus != nil {
		q.bus.Publish(msg)
	}
}

func newID() string { return uuid.NewString() }

// Entries returns the pending queue in play order (head first). Callers
// must not mutate the returned slice.
func (q *Engine) Entries() []*Entry { return q.entries }

// Recent returns the bounded terminal-entry history, most recent last.
func (q *Engine) Recent() []*Entry { return q.recent }

// Head returns the entry that is playing or about to play, or nil if the
// queue is empty.
func (q *Engine) Head() *Entry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// find locates an entry by ID anywhere in the pending queue.
func (q *Engine) find(id string) (int, *Entry) {
	for i, e := range q.entries {
		if e.ID == id {
			return i, e
		}
	}
	return -1, nil
}

// Play appends a new picked-origin entry at the tail and re-derives head
// preparation. playafter anchors after an existing entry instead; Play
// with afterID == "" appends at the tail (spec.md §6 "play"/"playafter").
func (q *Engine) Play(path, submitter, afterID string) (*Entry, error) {
	e := &Entry{
		ID:          newID(),
		Path:        path,
		Submitter:   submitter,
		SubmittedAt: time.Now(),
		State:       StateUnplayed,
		Origin:      OriginPicked,
	}
	if afterID == "" {
		q.entries = append(q.entries, e)
	} else {
		idx, anchor := q.find(afterID)
		if anchor == nil {
			return nil, fmt.Errorf("queue: playafter: no such entry %q", afterID)
		}
		q.insertAt(idx+1, e)
	}
	q.publish(eventlog.QueueMessage(q.Marshal()))
	q.reconcileHead()
	return e, nil
}

func (q *Engine) insertAt(idx int, e *Entry) {
	q.entries = append(q.entries, nil)
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = e
}

// Remove deletes a pending, not-yet-playing entry. Removing the playing
// entry is rejected — use Scratch instead (spec.md §4.3 "Move/moveafter"
// extends the same "never touch the playing entry directly" rule to
// remove).
func (q *Engine) Remove(id string) error {
	idx, e := q.find(id)
	if e == nil {
		return fmt.Errorf("queue: remove: no such entry %q", id)
	}
	if e.IsPlaying() {
		return fmt.Errorf("queue: remove: cannot remove the playing entry")
	}
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	q.publish(eventlog.QueueMessage(q.Marshal()))
	q.reconcileHead()
	return nil
}

// Move relocates entry id by offset within the pending queue (negative
// moves it earlier). Moving the playing entry is forbidden; moving other
// entries past it is allowed (spec.md §4.3 "Move/moveafter").
func (q *Engine) Move(id string, offset int) error {
	idx, e := q.find(id)
	if e == nil {
		return fmt.Errorf("queue: move: no such entry %q", id)
	}
	if e.IsPlaying() {
		return fmt.Errorf("queue: move: cannot move the playing entry")
	}
	dest := idx + offset
	if dest < 0 {
		dest = 0
	}
	if dest >= len(q.entries) {
		dest = len(q.entries) - 1
	}
	q.reorder(idx, dest)
	q.publish(eventlog.QueueMessage(q.Marshal()))
	q.reconcileHead()
	return nil
}

// MoveAfter relocates entry id to sit immediately after afterID.
func (q *Engine) MoveAfter(id, afterID string) error {
	idx, e := q.find(id)
	if e == nil {
		return fmt.Errorf("queue: moveafter: no such entry %q", id)
	}
	if e.IsPlaying() {
		return fmt.Errorf("queue: moveafter: cannot move the playing entry")
	}
	afterIdx, anchor := q.find(afterID)
	if anchor == nil {
		return fmt.Errorf("queue: moveafter: no such entry %q", afterID)
	}
	dest := afterIdx
	if idx < afterIdx {
		dest = afterIdx
	} else {
		dest = afterIdx + 1
	}
	q.reorder(idx, dest)
	q.publish(eventlog.QueueMessage(q.Marshal()))
	q.reconcileHead()
	return nil
}

func (q *Engine) reorder(from, to int) {
	e := q.entries[from]
	q.entries = append(q.entries[:from], q.entries[from+1:]...)
	if to > len(q.entries) {
		to = len(q.entries)
	}
	q.insertAt(to, e)
}

// Adopt converts a random-origin entry to submitter's ownership (spec.md
// §4.3 "Adoption").
func (q *Engine) Adopt(id, submitter string) error {
	_, e := q.find(id)
	if e == nil {
		return fmt.Errorf("queue: adopt: no such entry %q", id)
	}
	if e.Origin != OriginRandom {
		return fmt.Errorf("queue: adopt: entry %q is not random-origin", id)
	}
	e.Origin = OriginAdopted
	e.Submitter = submitter
	q.publish(eventlog.AdoptedMessage(id, submitter))
	return nil
}

// Start marks the head entry as playing; the caller (mixer driver) invokes
// this once its decoder has begun producing frames (spec.md §4.3 "Play
// selection").
func (q *Engine) Start() error {
	h := q.Head()
	if h == nil {
		return fmt.Errorf("queue: start: queue is empty")
	}
	if h.State != StatePrepared && h.State != StateUnplayed {
		return fmt.Errorf("queue: start: head is in state %q, not preparable", h.State)
	}
	h.State = StateStarted
	h.ExpectedStart = time.Now()
	q.publish(eventlog.PlayingMessage(h.ID))
	return nil
}

// Pause stops consumption of the playing entry's PCM. A no-op (returns nil)
// if it is already paused, matching the 250-response idempotence spec.md
// §4.3 requires.
// Pause pauses the playing entry. alreadyPaused reports whether it was
// already paused (a no-op), so callers can distinguish the two outcomes in
// their response code (spec.md §4.6 "pause").
func (q *Engine) Pause() (alreadyPaused bool, err error) {
	h := q.Head()
	if h == nil || !h.IsPlaying() {
		return false, fmt.Errorf("queue: pause: nothing is playing")
	}
	if h.State == StatePaused {
		return true, nil
	}
	h.State = StatePaused
	h.PausedAt = time.Now()
	h.FramesAtPause = h.FramesSoFar
	q.publish(eventlog.StateMessage("pause"))
	return false, nil
}

// Resume re-enables consumption of a paused entry.
func (q *Engine) Resume() error {
	h := q.Head()
	if h == nil || h.State != StatePaused {
		return fmt.Errorf("queue: resume: nothing is paused")
	}
	h.State = StateStarted
	h.ResumedAt = time.Now()
	q.publish(eventlog.StateMessage("resume"))
	return nil
}

// Scratch resumes the playing entry if paused, marks it scratched, inserts
// jingle as the next-to-play, and publishes `scratched` (spec.md §4.3
// "Scratch").
func (q *Engine) Scratch(user, jingle string) error {
	h := q.Head()
	if h == nil || !h.IsPlaying() {
		return fmt.Errorf("queue: scratch: nothing is playing")
	}
	if h.State == StatePaused {
		h.State = StateStarted
		h.ResumedAt = time.Now()
		q.publish(eventlog.StateMessage("resume"))
	}
	if h.Decoder != nil {
		h.Decoder.Kill()
	}
	h.State = StateScratched
	h.ScratchedBy = user
	q.publish(eventlog.ScratchedMessage(h.ID, user))
	q.moveToRecent(h)
	q.entries = q.entries[1:]

	jingleEntry := &Entry{
		ID:          newID(),
		Path:        jingle,
		SubmittedAt: time.Now(),
		State:       StateUnplayed,
		Origin:      OriginScratch,
	}
	q.entries = append([]*Entry{jingleEntry}, q.entries...)
	q.publish(eventlog.QueueMessage(q.Marshal()))
	q.reconcileHead()
	return nil
}

// Complete transitions the playing entry to a terminal state (ok, failed)
// on decoder EOF or error, moves it to the recent-list, and re-establishes
// head preparation for the new head.
func (q *Engine) Complete(exitStatus int) error {
	h := q.Head()
	if h == nil || !h.IsPlaying() {
		return fmt.Errorf("queue: complete: nothing is playing")
	}
	h.ExitStatus = exitStatus
	if exitStatus == 0 {
		h.State = StateOK
	} else {
		h.State = StateFailed
	}
	q.moveToRecent(h)
	q.entries = q.entries[1:]
	q.publish(eventlog.QueueMessage(q.Marshal()))
	q.reconcileHead()
	q.MaybeInjectRandom(context.Background())
	return nil
}

func (q *Engine) moveToRecent(e *Entry) {
	q.recent = append(q.recent, e)
	if max := q.cfg.RecentMax; max > 0 && len(q.recent) > max {
		q.recent = q.recent[len(q.recent)-max:]
	}
	q.publish(eventlog.RecentMessage(e.ID))
}

// reconcileHead requests decoder preparation for the new head if it has
// not already been asked for (spec.md §4.3 "Head preparation").
func (q *Engine) reconcileHead() {
	h := q.Head()
	if h == nil || h.Prepared || h.IsPlaying() || h.IsTerminal() {
		return
	}
	if q.prep == nil {
		return
	}
	h.Prepared = true
	h.State = StatePrepared
	q.prep.Prepare(h)
}

// EnablePlay/DisablePlay/PlayEnabled implement spec.md §6's
// enable/disable/enabled trio.
func (q *Engine) EnablePlay()        { q.playOn = true; q.publish(eventlog.StateMessage("enable_play")) }
func (q *Engine) DisablePlay()       { q.playOn = false; q.publish(eventlog.StateMessage("disable_play")) }
func (q *Engine) PlayEnabled() bool  { return q.playOn }

// EnableRandom/DisableRandom/RandomEnabled implement spec.md §6's
// random-enable/random-disable/random-enabled trio.
func (q *Engine) EnableRandom() {
	q.randomOn = true
	q.publish(eventlog.StateMessage("enable_random"))
}
func (q *Engine) DisableRandom() {
	q.randomOn = false
	q.publish(eventlog.StateMessage("disable_random"))
}
func (q *Engine) RandomEnabled() bool { return q.randomOn }

// pendingBelowHead counts queue entries below the currently-playing head,
// the quantity compared against queue_pad (spec.md §4.3).
func (q *Engine) pendingBelowHead() int {
	if len(q.entries) == 0 {
		return 0
	}
	if q.entries[0].IsPlaying() {
		return len(q.entries) - 1
	}
	return len(q.entries)
}

// MaybeInjectRandom tops the queue up with random-chooser tracks while
// pendingBelowHead is under queue_pad (spec.md §4.3 "Random-track
// injection"). A no-op when random injection is disabled or no chooser is
// configured.
func (q *Engine) MaybeInjectRandom(ctx context.Context) {
	if !q.randomOn || q.chooser == nil {
		return
	}
	for q.pendingBelowHead() < q.cfg.QueuePad {
		path, err := q.chooser.ChooseRandom(ctx, q.cfg.ReplayMin, q.cfg.NewBiasAge, q.cfg.NewBias)
		if err != nil || path == "" {
			return
		}
		e := &Entry{
			ID:          newID(),
			Path:        path,
			SubmittedAt: time.Now(),
			State:       StateUnplayed,
			Origin:      OriginRandom,
		}
		q.entries = append(q.entries, e)
		q.publish(eventlog.QueueMessage(q.Marshal()))
	}
	q.reconcileHead()
}

// Marshal renders the pending queue as the wire form the `queue` command's
// body streams, one line per entry: "<id> <state> <origin> <submitter> <path>".
func (q *Engine) Marshal() string {
	out := ""
	for i, e := range q.entries {
		if i > 0 {
			out += "\n"
		}
		submitter := e.Submitter
		if submitter == "" {
			submitter = "-"
		}
		out += fmt.Sprintf("%s %s %s %s %s", e.ID, e.State, e.Origin, submitter, e.Path)
	}
	return out
}
