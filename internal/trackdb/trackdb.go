// Package trackdb defines the narrow interface the core calls into for
// everything spec.md §1 scopes out as "TrackDB": track path resolution,
// per-track and global preferences, catalog listing/search, user records,
// and scheduled events. internal/trackdb/badgerstore supplies the only
// concrete implementation this module ships.
package trackdb

import (
	"context"
	"errors"
	"time"

	"github.com/crazyscot/disorder/internal/auth"
)

// ErrNotFound is returned by any lookup (track, pref, user, scheduled
// event) that finds nothing under the given key.
var ErrNotFound = errors.New("trackdb: not found")

// ScheduledEventAction names the fixed action vocabulary a scheduled event
// fires (spec.md §3 "Scheduled event").
type ScheduledEventAction string

const (
	ActionPlay      ScheduledEventAction = "play"
	ActionSetGlobal ScheduledEventAction = "set-global"
)

// ScheduledEvent is a persisted trigger owned by the scheduler subsystem;
// the core only exposes list/get/add/delete over the protocol (spec.md §3).
type ScheduledEvent struct {
	ID        string
	Submitter string
	Trigger   time.Time
	Priority  int
	Action    ScheduledEventAction
	// Track is the path to enqueue when Action == ActionPlay.
	Track string
	// Pref/Value carry the global-preference write when Action ==
	// ActionSetGlobal.
	Pref  string
	Value string
}

// Playlist is a named, ordered list of track paths (spec.md §3
// "Playlists"). Owner is the username that created it; Shared controls
// whether other users can read it with playlist-get (spec.md
// "playlist-get-share"/"playlist-set-share").
type Playlist struct {
	Name   string
	Owner  string
	Shared bool
	Tracks []string
}

// User is the persisted record backing authentication and rights lookup
// (spec.md §3 "User record"). PasswordHash is opaque to trackdb; internal/
// auth owns the hashing scheme.
type User struct {
	Username         string
	PasswordHash     string
	Email            string
	Rights           auth.Rights
	PendingToken     string
	ReminderLastSent time.Time
}

// Store is the persistence interface the core depends on. Every method
// takes a context. The protocol command handlers, the queue engine and the
// player call these methods synchronously on the reactor goroutine, so a
// slow backend delays the loop.
type Store interface {
	// Resolve canonicalizes a user-supplied path into a stable track
	// identifier, erroring if the path doesn't name a cataloged track.
	Resolve(ctx context.Context, path string) (string, error)

	// IndexTracks replaces the catalog with paths. Only the rescan
	// command's job-completion callback (internal/protocol) calls this,
	// after a rescan subprocess exits 0.
	IndexTracks(ctx context.Context, paths []string) error

	// List returns the cataloged entries directly under dir ("" for root).
	List(ctx context.Context, dir string) ([]string, error)

	// Search returns cataloged track paths whose tags/path match query.
	Search(ctx context.Context, query string) ([]string, error)

	// GetPref/SetPref/UnsetPref manage a per-track preference.
	GetPref(ctx context.Context, track, key string) (string, error)
	SetPref(ctx context.Context, track, key, value string) error
	UnsetPref(ctx context.Context, track, key string) error

	// GetGlobalPref/SetGlobalPref/UnsetGlobalPref manage a preference not
	// scoped to any one track (spec.md §6 "get-global"/"set-global").
	GetGlobalPref(ctx context.Context, key string) (string, error)
	SetGlobalPref(ctx context.Context, key, value string) error
	UnsetGlobalPref(ctx context.Context, key string) error

	// ListPrefs returns every preference key/value set on track, backing
	// the "prefs" command.
	ListPrefs(ctx context.Context, track string) (map[string]string, error)

	// GetTrackTags/SetTrackTags manage a track's tag set (spec.md §4.6
	// "tags"/"length"/"part"). Nothing in this module calls SetTrackTags:
	// rescan replaces only the path catalog and records no tags.
	GetTrackTags(ctx context.Context, track string) (map[string]string, error)
	SetTrackTags(ctx context.Context, track string, tags map[string]string) error

	// ListNewTracks returns up to max cataloged paths, most-recently-indexed
	// first (spec.md §4.6 "new"). It applies no new_bias_age cutoff, so
	// tracks outside ChooseRandom's "new" bucket are included.
	ListNewTracks(ctx context.Context, max int) ([]string, error)

	// GetUser/PutUser/DeleteUser/ListUsers manage user records.
	GetUser(ctx context.Context, username string) (*User, error)
	PutUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]string, error)

	// GetScheduledEvent/PutScheduledEvent/DeleteScheduledEvent/
	// ListScheduledEvents manage scheduled events.
	GetScheduledEvent(ctx context.Context, id string) (*ScheduledEvent, error)
	PutScheduledEvent(ctx context.Context, e *ScheduledEvent) error
	DeleteScheduledEvent(ctx context.Context, id string) error
	ListScheduledEvents(ctx context.Context) ([]*ScheduledEvent, error)

	// RecordPlayed stamps path's last-played time, consulted by the random
	// chooser to enforce replay_min (spec.md §4.3).
	RecordPlayed(ctx context.Context, path string, at time.Time) error

	// GetPlaylist/PutPlaylist/DeletePlaylist/ListPlaylists manage named
	// playlists. Locking (playlist-lock/playlist-unlock) is a connection-
	// lifetime concern, not persisted here — see internal/playlist.
	GetPlaylist(ctx context.Context, name string) (*Playlist, error)
	PutPlaylist(ctx context.Context, p *Playlist) error
	DeletePlaylist(ctx context.Context, name string) error
	ListPlaylists(ctx context.Context) ([]string, error)

	Close() error
}
