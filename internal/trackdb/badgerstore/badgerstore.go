// Package badgerstore implements trackdb.Store on top of an embedded
// Badger key/value database (spec.md §1's "persistent key/value store for
// tracks, preferences, users, playlists, and scheduled events"), grounded
// on the corpus's own embedded-KV precedent for a metadata/config store.
package badgerstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/crazyscot/disorder/internal/errors"
	"github.com/crazyscot/disorder/internal/queue"
	"github.com/crazyscot/disorder/internal/trackdb"
)

const (
	prefixTrack  = "trk/"
	prefixPref   = "pref/"
	prefixGPref  = "gpref/"
	prefixUser   = "user/"
	prefixSched  = "sched/"
	prefixIndex    = "idx/"    // trackKey -> unix-nano first-indexed time
	prefixPlayed   = "played/" // trackKey -> unix-nano last-played time
	prefixPlaylist = "playlist/"
	prefixTag      = "tag/" // trackKey -> json map[string]string
)

// Store is a trackdb.Store backed by a single Badger database directory.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a Badger database rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.NewDBError("open", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.NewDBError("close", err)
	}
	return nil
}

func trackKey(path string) string {
	sum := sha256.Sum256([]byte(path))
	return prefixTrack + hex.EncodeToString(sum[:])
}

func (s *Store) Resolve(_ context.Context, path string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	var got string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(trackKey(path)))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			got = string(v)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", trackdb.ErrNotFound
	}
	if err != nil {
		return "", errors.NewDBError("resolve", err)
	}
	return got, nil
}

// IndexTracks replaces the catalog wholesale: every existing trk/ key is
// dropped, then paths are written fresh. Called once per completed rescan,
// never incrementally, so there is no risk of stale entries surviving a
// file's removal from disk.
func (s *Store) IndexTracks(_ context.Context, paths []string) error {
	now := encodeTime(time.Now())
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, prefixTrack); err != nil {
			return err
		}
		for _, p := range paths {
			p = strings.TrimPrefix(p, "/")
			key := trackKey(p)
			if err := txn.Set([]byte(key), []byte(p)); err != nil {
				return err
			}
			// Stamp idx/ with the first-seen time only if this track has
			// never been indexed before, so a track's "new" bucket age
			// (spec.md §4.3 new_bias) survives repeated rescans.
			idxKey := []byte(prefixIndex + key[len(prefixTrack):])
			if _, err := txn.Get(idxKey); err == badger.ErrKeyNotFound {
				if err := txn.Set(idxKey, now); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewDBError("index-tracks", err)
	}
	return nil
}

func encodeTime(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
	return b
}

func decodeTime(b []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(b)))
}

// RecordPlayed stamps path's last-played time, consulted by ChooseRandom
// to enforce replay_min (spec.md §4.3 "Random-track injection").
func (s *Store) RecordPlayed(_ context.Context, path string, at time.Time) error {
	key := trackKey(path)
	playedKey := []byte(prefixPlayed + key[len(prefixTrack):])
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(playedKey, encodeTime(at))
	})
	if err != nil {
		return errors.NewDBError("record-played", err)
	}
	return nil
}

// ChooseRandom implements queue.RandomChooser: it excludes any track
// played within replayMin, buckets survivors into "new" (first indexed
// within newBiasAge) and "old", and picks from the new bucket with
// probability newBias when it's non-empty, falling back to old otherwise
// (spec.md §4.3 "Random-track injection").
func (s *Store) ChooseRandom(_ context.Context, replayMin, newBiasAge time.Duration, newBias float64) (string, error) {
	now := time.Now()
	var fresh, old []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixTrack)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			suffix := string(item.Key()[len(prefixTrack):])

			if played, err := txn.Get([]byte(prefixPlayed + suffix)); err == nil {
				var lastPlayed time.Time
				if verr := played.Value(func(v []byte) error { lastPlayed = decodeTime(v); return nil }); verr != nil {
					return verr
				}
				if now.Sub(lastPlayed) < replayMin {
					continue
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}

			isNew := false
			if idx, err := txn.Get([]byte(prefixIndex + suffix)); err == nil {
				var indexedAt time.Time
				if verr := idx.Value(func(v []byte) error { indexedAt = decodeTime(v); return nil }); verr != nil {
					return verr
				}
				isNew = now.Sub(indexedAt) < newBiasAge
			} else if err != badger.ErrKeyNotFound {
				return err
			}

			err := item.Value(func(v []byte) error {
				path := string(v)
				if isNew {
					fresh = append(fresh, path)
				} else {
					old = append(old, path)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", errors.NewDBError("choose-random", err)
	}

	if len(fresh) > 0 && (len(old) == 0 || rand.Float64() < newBias) {
		return fresh[rand.Intn(len(fresh))], nil
	}
	if len(old) > 0 {
		return old[rand.Intn(len(old))], nil
	}
	if len(fresh) > 0 {
		return fresh[rand.Intn(len(fresh))], nil
	}
	return "", nil
}

func deletePrefix(txn *badger.Txn, prefix string) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	var keys [][]byte
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) List(_ context.Context, dir string) ([]string, error) {
	dir = strings.Trim(dir, "/")
	var children map[string]bool = make(map[string]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixTrack)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				path := string(v)
				if dir != "" && !strings.HasPrefix(path, dir+"/") {
					return nil
				}
				rest := path
				if dir != "" {
					rest = strings.TrimPrefix(path, dir+"/")
				}
				if i := strings.IndexByte(rest, '/'); i >= 0 {
					children[rest[:i]+"/"] = true
				} else {
					children[rest] = true
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewDBError("list", err)
	}
	out := make([]string, 0, len(children))
	for c := range children {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// Search does a substring scan: query is lowercased and split on
// whitespace, and every cataloged path containing all tokens (as
// case-insensitive substrings) is returned. This mirrors spec.md §6's
// "search" catalog operation without requiring a separate tag index.
func (s *Store) Search(_ context.Context, query string) ([]string, error) {
	tokens := strings.Fields(strings.ToLower(query))
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixTrack)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				path := string(v)
				lower := strings.ToLower(path)
				for _, tok := range tokens {
					if !strings.Contains(lower, tok) {
						return nil
					}
				}
				out = append(out, path)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewDBError("search", err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) prefGet(key string) (string, error) {
	var val string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = string(v)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", trackdb.ErrNotFound
	}
	if err != nil {
		return "", errors.NewDBError("get-pref", err)
	}
	return val, nil
}

func (s *Store) GetPref(_ context.Context, track, key string) (string, error) {
	return s.prefGet(prefixPref + trackKey(track) + "/" + key)
}

func (s *Store) SetPref(_ context.Context, track, key, value string) error {
	k := prefixPref + trackKey(track) + "/" + key
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(k), []byte(value))
	}); err != nil {
		return errors.NewDBError("set-pref", err)
	}
	return nil
}

func (s *Store) UnsetPref(_ context.Context, track, key string) error {
	k := prefixPref + trackKey(track) + "/" + key
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(k))
	}); err != nil {
		return errors.NewDBError("unset-pref", err)
	}
	return nil
}

func (s *Store) GetGlobalPref(_ context.Context, key string) (string, error) {
	return s.prefGet(prefixGPref + key)
}

func (s *Store) SetGlobalPref(_ context.Context, key, value string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixGPref+key), []byte(value))
	}); err != nil {
		return errors.NewDBError("set-global-pref", err)
	}
	return nil
}

func (s *Store) UnsetGlobalPref(_ context.Context, key string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixGPref + key))
	}); err != nil {
		return errors.NewDBError("unset-global-pref", err)
	}
	return nil
}

// ListPrefs returns every key/value pair set under track's preference
// namespace, backing the "prefs" command.
func (s *Store) ListPrefs(_ context.Context, track string) (map[string]string, error) {
	prefix := []byte(prefixPref + trackKey(track) + "/")
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), string(prefix))
			err := item.Value(func(v []byte) error {
				out[key] = string(v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewDBError("list-prefs", err)
	}
	return out, nil
}

// GetTrackTags returns the tag set SetTrackTags stored for track, or an
// empty map if none has been recorded.
func (s *Store) GetTrackTags(_ context.Context, track string) (map[string]string, error) {
	tags := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixTag + trackKey(track)))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &tags)
		})
	})
	if err == badger.ErrKeyNotFound {
		return tags, nil
	}
	if err != nil {
		return nil, errors.NewDBError("get-track-tags", err)
	}
	return tags, nil
}

func (s *Store) SetTrackTags(_ context.Context, track string, tags map[string]string) error {
	buf, err := json.Marshal(tags)
	if err != nil {
		return errors.NewDBError("set-track-tags", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixTag+trackKey(track)), buf)
	}); err != nil {
		return errors.NewDBError("set-track-tags", err)
	}
	return nil
}

// ListNewTracks returns up to max cataloged paths, most-recently-indexed
// first, ordered by the same idx/ times ChooseRandom consults for new_bias.
// No new_bias_age cutoff is applied: every cataloged track is included.
func (s *Store) ListNewTracks(_ context.Context, max int) ([]string, error) {
	type entry struct {
		path    string
		indexed time.Time
	}
	var all []entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixTrack)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			suffix := string(item.Key()[len(prefixTrack):])
			var path string
			if err := item.Value(func(v []byte) error { path = string(v); return nil }); err != nil {
				return err
			}
			var indexed time.Time
			if idx, err := txn.Get([]byte(prefixIndex + suffix)); err == nil {
				if verr := idx.Value(func(v []byte) error { indexed = decodeTime(v); return nil }); verr != nil {
					return verr
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			all = append(all, entry{path: path, indexed: indexed})
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewDBError("list-new-tracks", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].indexed.After(all[j].indexed) })
	if max > 0 && len(all) > max {
		all = all[:max]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.path
	}
	return out, nil
}

func (s *Store) GetUser(_ context.Context, username string) (*trackdb.User, error) {
	var u trackdb.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixUser + username))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &u)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, trackdb.ErrNotFound
	}
	if err != nil {
		return nil, errors.NewDBError("get-user", err)
	}
	return &u, nil
}

func (s *Store) PutUser(_ context.Context, u *trackdb.User) error {
	buf, err := json.Marshal(u)
	if err != nil {
		return errors.NewDBError("put-user", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixUser+u.Username), buf)
	}); err != nil {
		return errors.NewDBError("put-user", err)
	}
	return nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixUser + username))
	}); err != nil {
		return errors.NewDBError("delete-user", err)
	}
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixUser)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), prefixUser))
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewDBError("list-users", err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetScheduledEvent(_ context.Context, id string) (*trackdb.ScheduledEvent, error) {
	var e trackdb.ScheduledEvent
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixSched + id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &e)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, trackdb.ErrNotFound
	}
	if err != nil {
		return nil, errors.NewDBError("get-scheduled-event", err)
	}
	return &e, nil
}

func (s *Store) PutScheduledEvent(_ context.Context, e *trackdb.ScheduledEvent) error {
	if e.ID == "" {
		return fmt.Errorf("badgerstore: scheduled event requires an ID")
	}
	buf, err := json.Marshal(e)
	if err != nil {
		return errors.NewDBError("put-scheduled-event", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixSched+e.ID), buf)
	}); err != nil {
		return errors.NewDBError("put-scheduled-event", err)
	}
	return nil
}

func (s *Store) DeleteScheduledEvent(_ context.Context, id string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixSched + id))
	}); err != nil {
		return errors.NewDBError("delete-scheduled-event", err)
	}
	return nil
}

func (s *Store) ListScheduledEvents(_ context.Context) ([]*trackdb.ScheduledEvent, error) {
	var out []*trackdb.ScheduledEvent
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixSched)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e trackdb.ScheduledEvent
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &e)
			})
			if err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewDBError("list-scheduled-events", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetPlaylist(_ context.Context, name string) (*trackdb.Playlist, error) {
	var p trackdb.Playlist
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixPlaylist + name))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &p)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, trackdb.ErrNotFound
	}
	if err != nil {
		return nil, errors.NewDBError("get-playlist", err)
	}
	return &p, nil
}

func (s *Store) PutPlaylist(_ context.Context, p *trackdb.Playlist) error {
	if p.Name == "" {
		return fmt.Errorf("badgerstore: playlist requires a name")
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return errors.NewDBError("put-playlist", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixPlaylist+p.Name), buf)
	}); err != nil {
		return errors.NewDBError("put-playlist", err)
	}
	return nil
}

func (s *Store) DeletePlaylist(_ context.Context, name string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixPlaylist + name))
	}); err != nil {
		return errors.NewDBError("delete-playlist", err)
	}
	return nil
}

func (s *Store) ListPlaylists(_ context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixPlaylist)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), prefixPlaylist))
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewDBError("list-playlists", err)
	}
	sort.Strings(out)
	return out, nil
}

var _ trackdb.Store = (*Store)(nil)
var _ queue.RandomChooser = (*Store)(nil)
