// Package playlist tracks the per-connection locks that guard playlist
// mutation (spec.md §3 "optional held-playlist lock name and acquisition
// time", §4.6 "playlist-lock"/"playlist-unlock"). Playlist content itself
// lives in trackdb.Store; a lock is session state, never persisted, so it
// doesn't belong there. Grounded on the teacher's Registry
// (internal/rtmp/server/registry.go): a mutex-guarded map keyed by name,
// rejecting a second claim with a sentinel error exactly the way the
// teacher rejects a second publisher on one stream.
package playlist

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyLocked is returned by Acquire when name is already held by a
// different connection.
var ErrAlreadyLocked = errors.New("playlist: already locked")

// ErrAlreadyHolding is returned by Acquire when holder already holds a
// different lock (spec.md invariant: "a connection holds at most one
// playlist lock").
var ErrAlreadyHolding = errors.New("playlist: connection already holds a lock")

type lock struct {
	holder   string
	acquired time.Time
}

// Locker tracks playlist locks across all connections. Safe for concurrent
// use, though in practice every call arrives from the reactor goroutine.
type Locker struct {
	mu      sync.Mutex
	byName  map[string]lock
	byOwner map[string]string // holder -> name, enforces one lock per holder
	timeout time.Duration
}

// NewLocker builds a Locker that treats a lock as stale (and releases it on
// the next Acquire attempt) once held longer than timeout. timeout <= 0
// disables the staleness check.
func NewLocker(timeout time.Duration) *Locker {
	return &Locker{
		byName:  make(map[string]lock),
		byOwner: make(map[string]string),
		timeout: timeout,
	}
}

// Acquire claims name for holder, releasing it automatically first if it's
// held past the configured timeout.
func (l *Locker) Acquire(name, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byOwner[holder]; ok && existing != name {
		return ErrAlreadyHolding
	}
	if cur, ok := l.byName[name]; ok {
		if cur.holder == holder {
			return nil
		}
		if l.timeout > 0 && time.Since(cur.acquired) > l.timeout {
			delete(l.byOwner, cur.holder)
		} else {
			return ErrAlreadyLocked
		}
	}
	l.byName[name] = lock{holder: holder, acquired: time.Now()}
	l.byOwner[holder] = name
	return nil
}

// Release drops holder's lock on name, if any. Not an error to call when no
// lock is held.
func (l *Locker) Release(name, holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.byName[name]; ok && cur.holder == holder {
		delete(l.byName, name)
		delete(l.byOwner, holder)
	}
}

// ReleaseAll drops whatever lock holder has, if any — called on connection
// disconnect (spec.md §4.7 "Playlist locks are... released automatically on
// disconnect").
func (l *Locker) ReleaseAll(holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if name, ok := l.byOwner[holder]; ok {
		delete(l.byName, name)
		delete(l.byOwner, holder)
	}
}

// HolderOf reports who currently holds name's lock, if anyone.
func (l *Locker) HolderOf(name string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.byName[name]
	return cur.holder, ok
}
