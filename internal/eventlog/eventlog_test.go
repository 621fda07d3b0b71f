package eventlog

import (
	"strings"
	"testing"
)

type fakeSink struct {
	lines []string
}

func (f *fakeSink) WriteLine(line string) error {
	f.lines = append(f.lines, line)
	return nil
}

type fakeRights struct{ admin bool }

func (r fakeRights) HasAdmin() bool { return r.admin }

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(false)
	a := &fakeSink{}
	c := &fakeSink{}
	b.Subscribe(a, fakeRights{}, true, func() bool { return true })
	b.Subscribe(c, fakeRights{}, true, func() bool { return true })

	b.Publish(PlayingMessage("q1"))

	for _, s := range []*fakeSink{a, c} {
		if len(s.lines) != 1 {
			t.Fatalf("expected 1 line, got %d", len(s.lines))
		}
		if !strings.HasSuffix(s.lines[0], "playing q1") {
			t.Fatalf("unexpected line: %q", s.lines[0])
		}
	}
}

func TestUserEventsRequireAdminRight(t *testing.T) {
	b := New(false)
	admin := &fakeSink{}
	plain := &fakeSink{}
	b.Subscribe(admin, fakeRights{admin: true}, true, func() bool { return true })
	b.Subscribe(plain, fakeRights{admin: false}, true, func() bool { return true })

	b.Publish("user_rights changed")

	if len(admin.lines) != 1 {
		t.Fatalf("admin subscriber should receive user_ event, got %d lines", len(admin.lines))
	}
	if len(plain.lines) != 0 {
		t.Fatalf("non-admin subscriber should not receive user_ event, got %d lines", len(plain.lines))
	}
}

func TestUserEventsOverRemoteRequireRemoteUserman(t *testing.T) {
	b := New(false)
	remoteAdmin := &fakeSink{}
	b.Subscribe(remoteAdmin, fakeRights{admin: true}, false, func() bool { return true })

	b.Publish("user_rights changed")
	if len(remoteAdmin.lines) != 0 {
		t.Fatalf("expected remote admin without remote_userman to be filtered, got %d", len(remoteAdmin.lines))
	}

	b.SetRemoteUserman(true)
	b.Publish("user_rights changed")
	if len(remoteAdmin.lines) != 1 {
		t.Fatalf("expected remote admin with remote_userman enabled to receive event, got %d", len(remoteAdmin.lines))
	}
}

func TestDeadSubscriptionIsPruned(t *testing.T) {
	b := New(false)
	alive := true
	sink := &fakeSink{}
	b.Subscribe(sink, fakeRights{}, true, func() bool { return alive })

	b.Publish("state pause")
	if len(sink.lines) != 1 {
		t.Fatalf("expected first publish delivered")
	}

	alive = false
	b.Publish("state resume")
	if b.Count() != 0 {
		t.Fatalf("expected dead subscription pruned, count=%d", b.Count())
	}
	if len(sink.lines) != 1 {
		t.Fatalf("expected no further delivery to dead subscription")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(false)
	sink := &fakeSink{}
	sub := b.Subscribe(sink, fakeRights{}, true, func() bool { return true })
	b.Unsubscribe(sub)
	b.Publish("state pause")
	if len(sink.lines) != 0 {
		t.Fatalf("expected no delivery after unsubscribe")
	}
}
