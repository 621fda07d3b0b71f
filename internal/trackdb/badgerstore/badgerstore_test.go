package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/trackdb"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndexAndResolve(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.IndexTracks(ctx, []string{"rock/song.flac", "jazz/tune.flac"}); err != nil {
		t.Fatalf("IndexTracks: %v", err)
	}
	got, err := s.Resolve(ctx, "rock/song.flac")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "rock/song.flac" {
		t.Fatalf("Resolve = %q", got)
	}
	if _, err := s.Resolve(ctx, "missing.flac"); err != trackdb.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListDirectChildren(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.IndexTracks(ctx, []string{"rock/a.flac", "rock/sub/b.flac", "jazz/c.flac"}); err != nil {
		t.Fatalf("IndexTracks: %v", err)
	}
	top, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	wantTop := map[string]bool{"rock/": true, "jazz/": true}
	if len(top) != len(wantTop) {
		t.Fatalf("List(root) = %v", top)
	}
	for _, c := range top {
		if !wantTop[c] {
			t.Fatalf("unexpected child %q", c)
		}
	}
	rockChildren, err := s.List(ctx, "rock")
	if err != nil {
		t.Fatalf("List(rock): %v", err)
	}
	wantRock := map[string]bool{"a.flac": true, "sub/": true}
	for _, c := range rockChildren {
		if !wantRock[c] {
			t.Fatalf("unexpected rock child %q", c)
		}
	}
}

func TestSearchTokenMatch(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.IndexTracks(ctx, []string{"rock/Song One.flac", "jazz/Other.flac"}); err != nil {
		t.Fatalf("IndexTracks: %v", err)
	}
	results, err := s.Search(ctx, "song one")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0] != "rock/Song One.flac" {
		t.Fatalf("Search = %v", results)
	}
}

func TestPrefAndGlobalPrefRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.IndexTracks(ctx, []string{"rock/song.flac"}); err != nil {
		t.Fatalf("IndexTracks: %v", err)
	}
	if err := s.SetPref(ctx, "rock/song.flac", "volume", "80"); err != nil {
		t.Fatalf("SetPref: %v", err)
	}
	got, err := s.GetPref(ctx, "rock/song.flac", "volume")
	if err != nil || got != "80" {
		t.Fatalf("GetPref = %q, %v", got, err)
	}
	if err := s.UnsetPref(ctx, "rock/song.flac", "volume"); err != nil {
		t.Fatalf("UnsetPref: %v", err)
	}
	if _, err := s.GetPref(ctx, "rock/song.flac", "volume"); err != trackdb.ErrNotFound {
		t.Fatalf("expected ErrNotFound after unset, got %v", err)
	}

	if err := s.SetGlobalPref(ctx, "queue_pad", "10"); err != nil {
		t.Fatalf("SetGlobalPref: %v", err)
	}
	got, err = s.GetGlobalPref(ctx, "queue_pad")
	if err != nil || got != "10" {
		t.Fatalf("GetGlobalPref = %q, %v", got, err)
	}
}

func TestUserCRUD(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	u := &trackdb.User{Username: "alice", PasswordHash: "abc", Rights: auth.Read | auth.Play}
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	got, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Rights != (auth.Read | auth.Play) {
		t.Fatalf("unexpected rights: %v", got.Rights)
	}
	names, err := s.ListUsers(ctx)
	if err != nil || len(names) != 1 || names[0] != "alice" {
		t.Fatalf("ListUsers = %v, %v", names, err)
	}
	if err := s.DeleteUser(ctx, "alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetUser(ctx, "alice"); err != trackdb.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestScheduledEventCRUD(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	e := &trackdb.ScheduledEvent{ID: "evt1", Submitter: "alice", Action: trackdb.ActionPlay, Track: "rock/song.flac"}
	if err := s.PutScheduledEvent(ctx, e); err != nil {
		t.Fatalf("PutScheduledEvent: %v", err)
	}
	got, err := s.GetScheduledEvent(ctx, "evt1")
	if err != nil || got.Submitter != "alice" {
		t.Fatalf("GetScheduledEvent = %+v, %v", got, err)
	}
	all, err := s.ListScheduledEvents(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListScheduledEvents = %v, %v", all, err)
	}
	if err := s.DeleteScheduledEvent(ctx, "evt1"); err != nil {
		t.Fatalf("DeleteScheduledEvent: %v", err)
	}
	if _, err := s.GetScheduledEvent(ctx, "evt1"); err != trackdb.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestChooseRandomExcludesRecentlyPlayed(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.IndexTracks(ctx, []string{"rock/a.flac", "rock/b.flac"}); err != nil {
		t.Fatalf("IndexTracks: %v", err)
	}
	if err := s.RecordPlayed(ctx, "rock/a.flac", time.Now()); err != nil {
		t.Fatalf("RecordPlayed: %v", err)
	}
	for i := 0; i < 20; i++ {
		got, err := s.ChooseRandom(ctx, time.Hour, time.Hour, 0.5)
		if err != nil {
			t.Fatalf("ChooseRandom: %v", err)
		}
		if got != "rock/b.flac" {
			t.Fatalf("ChooseRandom returned recently-played or unexpected track %q", got)
		}
	}
}

func TestChooseRandomPicksFreshTrackWhenOnlyFreshExists(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.IndexTracks(ctx, []string{"rock/new.flac"}); err != nil {
		t.Fatalf("IndexTracks: %v", err)
	}
	got, err := s.ChooseRandom(ctx, 0, time.Hour, 1.0)
	if err != nil {
		t.Fatalf("ChooseRandom: %v", err)
	}
	if got != "rock/new.flac" {
		t.Fatalf("ChooseRandom = %q, want rock/new.flac", got)
	}
}

func TestChooseRandomTreatsStaleIndexAsOldBucket(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.IndexTracks(ctx, []string{"jazz/old.flac"}); err != nil {
		t.Fatalf("IndexTracks: %v", err)
	}
	// newBiasAge of 0 means nothing indexed in the past qualifies as fresh,
	// so the only track present must come back via the old-bucket fallback.
	got, err := s.ChooseRandom(ctx, 0, 0, 1.0)
	if err != nil {
		t.Fatalf("ChooseRandom: %v", err)
	}
	if got != "jazz/old.flac" {
		t.Fatalf("ChooseRandom = %q, want jazz/old.flac", got)
	}
}

func TestChooseRandomReturnsEmptyWhenNothingEligible(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	got, err := s.ChooseRandom(ctx, time.Hour, time.Hour, 0.5)
	if err != nil {
		t.Fatalf("ChooseRandom: %v", err)
	}
	if got != "" {
		t.Fatalf("ChooseRandom = %q, want empty", got)
	}
}
