// Package player is the glue between the decoder pool, the mixer driver,
// and the queue engine: it owns the "what happens when the head track's
// decoder produces frames or exits" policy that spec.md §4.3/§4.5 split
// across those three collaborators. Grounded on the teacher's
// attachCommandHandling indirection in internal/rtmp/server (a small
// wiring function kept out of server.go's accept loop so the loop itself
// stays about connections, not playback).
package player

import (
	"context"
	"time"

	"github.com/crazyscot/disorder/internal/logger"
	"github.com/crazyscot/disorder/internal/mixer"
	"github.com/crazyscot/disorder/internal/queue"
	"github.com/crazyscot/disorder/internal/trackdb"
)

// Loop binds a decoder.Pool's output callbacks to q and driver. Call
// OnFrames/OnDone from the decoder pool's constructor arguments.
type Loop struct {
	q      *queue.Engine
	driver *mixer.Driver
	db     trackdb.Store
}

// New returns a Loop ready to be wired as a decoder.Pool's onFrames/onDone
// callbacks. db may be nil in tests that don't exercise replay-min
// tracking.
func New(q *queue.Engine, driver *mixer.Driver, db trackdb.Store) *Loop {
	return &Loop{q: q, driver: driver, db: db}
}

// OnFrames is the decoder pool's onFrames callback: on an entry's first
// delivery it activates the mixer and marks the queue entry started, then
// feeds every delivery to the mixer. Frames from an entry that is no
// longer current (e.g. it was scratched mid-decode) are dropped.
func (l *Loop) OnFrames(id string, pcm []byte) {
	h := l.q.Head()
	if h == nil || h.ID != id {
		return
	}
	if h.State == queue.StatePrepared {
		if err := l.driver.Activate(h); err != nil {
			logger.Logger().Error("mixer activate failed", "entry_id", id, "err", err)
			return
		}
		if err := l.q.Start(); err != nil {
			logger.Logger().Error("queue start failed", "entry_id", id, "err", err)
			return
		}
		if l.db != nil {
			if err := l.db.RecordPlayed(context.Background(), h.Path, time.Now()); err != nil {
				logger.Logger().Warn("record played failed", "entry_id", id, "path", h.Path, "err", err)
			}
		}
	}
	if l.driver.CurrentEntryID() != id {
		return
	}
	l.driver.Feed(pcm)
}

// OnDone is the decoder pool's onDone callback: it deactivates the mixer
// (if it was still bound to id) and completes the queue entry.
func (l *Loop) OnDone(id string, exitStatus int) {
	if l.driver.CurrentEntryID() == id {
		if err := l.driver.Deactivate(); err != nil {
			logger.Logger().Warn("mixer deactivate failed", "entry_id", id, "err", err)
		}
	}
	h := l.q.Head()
	if h == nil || h.ID != id {
		return
	}
	if err := l.q.Complete(exitStatus); err != nil {
		logger.Logger().Error("queue complete failed", "entry_id", id, "err", err)
	}
}
