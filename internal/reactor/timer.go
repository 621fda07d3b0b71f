package reactor

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled callback. active is cleared by Cancel; the
// heap tolerates cancel-during-fire by checking active when popped instead
// of searching the heap for the entry (spec.md §4.1 "scheduler heap
// tolerates cancel-during-fire via the active flag").
type timerEntry struct {
	deadline time.Time
	cb       func()
	active   bool
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerHandle cancels a previously registered timeout. Cancellation is
// idempotent and safe from within the timer's own callback.
type TimerHandle struct {
	r *Reactor
	e *timerEntry
}

// Cancel marks the timeout inactive. An already-fired or already-cancelled
// timer is a silent no-op.
func (h *TimerHandle) Cancel() {
	if h == nil || h.e == nil {
		return
	}
	h.r.mu.Lock()
	h.e.active = false
	h.r.mu.Unlock()
}

// RegisterTimeout schedules cb to run on the reactor goroutine at deadline.
// A zero deadline means "next loop iteration" (fires as soon as the loop
// next wakes, after any already-due timers).
func (r *Reactor) RegisterTimeout(deadline time.Time, cb func()) *TimerHandle {
	if deadline.IsZero() {
		deadline = time.Now()
	}
	e := &timerEntry{deadline: deadline, cb: cb, active: true}
	r.mu.Lock()
	heap.Push(&r.timers, e)
	r.mu.Unlock()
	// Wake the loop so a newly-registered, sooner deadline is honored even
	// if the current select is blocked on a later timeout.
	r.post(func() {})
	return &TimerHandle{r: r, e: e}
}

// RegisterInterval schedules cb to run repeatedly every d until the
// returned handle is cancelled. Unlike RegisterTimeout this re-arms itself;
// Cancel takes effect before the next firing.
func (r *Reactor) RegisterInterval(d time.Duration, cb func()) *TimerHandle {
	h := &TimerHandle{r: r}
	var arm func()
	arm = func() {
		cb()
		r.mu.Lock()
		active := h.e.active
		r.mu.Unlock()
		if active {
			next := r.RegisterTimeout(time.Now().Add(d), arm)
			r.mu.Lock()
			h.e = next.e
			r.mu.Unlock()
		}
	}
	h.e = r.RegisterTimeout(time.Now().Add(d), arm).e
	return h
}
