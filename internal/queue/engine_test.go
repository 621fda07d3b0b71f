package queue

import (
	"context"
	"testing"
	"time"
)

type fakePrep struct{ prepared []string }

func (p *fakePrep) Prepare(e *Entry) { p.prepared = append(p.prepared, e.ID) }

type fakeChooser struct {
	paths []string
	i     int
}

func (c *fakeChooser) ChooseRandom(ctx context.Context, replayMin, newBiasAge time.Duration, newBias float64) (string, error) {
	if c.i >= len(c.paths) {
		return "", nil
	}
	p := c.paths[c.i]
	c.i++
	return p, nil
}

func TestPlayAppendsAndPreparesHead(t *testing.T) {
	prep := &fakePrep{}
	q := New(DefaultConfig(), nil, prep, nil)
	e, err := q.Play("a.flac", "alice", "")
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if q.Head() != e {
		t.Fatal("expected new entry to be head")
	}
	if !e.Prepared || e.State != StatePrepared {
		t.Fatalf("expected head to be prepared, got %+v", e)
	}
	if len(prep.prepared) != 1 || prep.prepared[0] != e.ID {
		t.Fatalf("expected Prepare called once for head, got %v", prep.prepared)
	}
}

func TestPlayAfterAnchors(t *testing.T) {
	q := New(DefaultConfig(), nil, &fakePrep{}, nil)
	a, _ := q.Play("a.flac", "alice", "")
	c, _ := q.Play("c.flac", "alice", "")
	b, err := q.Play("b.flac", "alice", a.ID)
	if err != nil {
		t.Fatalf("Play(after a): %v", err)
	}
	got := q.Entries()
	if got[0].ID != a.ID || got[1].ID != b.ID || got[2].ID != c.ID {
		t.Fatalf("unexpected order: %v %v %v", got[0].Path, got[1].Path, got[2].Path)
	}
}

func TestCannotRemoveOrMovePlayingEntry(t *testing.T) {
	q := New(DefaultConfig(), nil, &fakePrep{}, nil)
	e, _ := q.Play("a.flac", "alice", "")
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Remove(e.ID); err == nil {
		t.Fatal("expected error removing playing entry")
	}
	if err := q.Move(e.ID, 1); err == nil {
		t.Fatal("expected error moving playing entry")
	}
}

func TestPauseIsIdempotent(t *testing.T) {
	q := New(DefaultConfig(), nil, &fakePrep{}, nil)
	q.Play("a.flac", "alice", "")
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if already, err := q.Pause(); err != nil || already {
		t.Fatalf("Pause: already=%v err=%v", already, err)
	}
	if already, err := q.Pause(); err != nil || !already {
		t.Fatalf("second Pause should report already=true, got already=%v err=%v", already, err)
	}
}

func TestScratchInsertsJingleAndMovesToRecent(t *testing.T) {
	q := New(DefaultConfig(), nil, &fakePrep{}, nil)
	e, _ := q.Play("a.flac", "alice", "")
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Scratch("bob", "jingle.flac"); err != nil {
		t.Fatalf("Scratch: %v", err)
	}
	if len(q.Recent()) != 1 || q.Recent()[0].ID != e.ID {
		t.Fatalf("expected scratched entry in recent list")
	}
	if q.Recent()[0].State != StateScratched || q.Recent()[0].ScratchedBy != "bob" {
		t.Fatalf("unexpected recent entry: %+v", q.Recent()[0])
	}
	if q.Head() == nil || q.Head().Origin != OriginScratch {
		t.Fatalf("expected jingle at head, got %+v", q.Head())
	}
}

func TestAdoptConvertsRandomOrigin(t *testing.T) {
	q := New(DefaultConfig(), nil, &fakePrep{}, nil)
	q.entries = append(q.entries, &Entry{ID: "r1", Path: "x.flac", Origin: OriginRandom, State: StateUnplayed})
	if err := q.Adopt("r1", "carol"); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	_, e := q.find("r1")
	if e.Origin != OriginAdopted || e.Submitter != "carol" {
		t.Fatalf("unexpected entry after adopt: %+v", e)
	}
}

func TestMaybeInjectRandomToppedUpToQueuePad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueuePad = 2
	chooser := &fakeChooser{paths: []string{"r1.flac", "r2.flac", "r3.flac"}}
	q := New(cfg, nil, &fakePrep{}, chooser)
	q.MaybeInjectRandom(context.Background())
	if len(q.Entries()) != 2 {
		t.Fatalf("expected queue padded to 2, got %d", len(q.Entries()))
	}
	for _, e := range q.Entries() {
		if e.Origin != OriginRandom {
			t.Fatalf("expected random origin, got %v", e.Origin)
		}
	}
}

func TestCompleteMovesToRecentAndReconcilesHead(t *testing.T) {
	prep := &fakePrep{}
	q := New(DefaultConfig(), nil, prep, nil)
	a, _ := q.Play("a.flac", "alice", "")
	q.Play("b.flac", "alice", "")
	if err := q.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Complete(0); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(q.Recent()) != 1 || q.Recent()[0].ID != a.ID || q.Recent()[0].State != StateOK {
		t.Fatalf("unexpected recent state: %+v", q.Recent())
	}
	if q.Head() == nil || q.Head().Path != "b.flac" {
		t.Fatalf("expected b.flac to be new head, got %+v", q.Head())
	}
	if !q.Head().Prepared {
		t.Fatal("expected new head to be prepared")
	}
}
