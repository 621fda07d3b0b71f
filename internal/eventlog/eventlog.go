// Package eventlog implements the process-wide event-log bus (spec.md §4.2):
// an in-process fan-out of textual state-change events to subscribed
// connections, with rights-based filtering for user-management messages.
// The bus is mutated only from the reactor goroutine, so — like the rest of
// the core — it needs no mutex.
package eventlog

import (
	"fmt"
	"strings"
	"time"
)

// Rights abstracts the auth package's bitmask type just enough for the
// admin-only filtering rule, avoiding an import cycle between eventlog and
// auth (internal/protocol, which imports both, publishes rights_changed
// events after a rights edit).
type Rights interface {
	HasAdmin() bool
}

// Subscriber is the minimal sink a subscription delivers formatted lines
// to; *protocol.Conn's writer satisfies this.
type Subscriber interface {
	WriteLine(line string) error
}

// Subscription is a strong reference from the bus to one connection's
// writer. It is dropped automatically once its writer reports itself dead
// via IsAlive returning false.
type Subscription struct {
	sink     Subscriber
	rights   Rights
	isLocal  bool
	isAlive  func() bool
	revoked  bool
}

// Bus is the singleton-per-server event log. Create one per Server (not a
// package-level global) so tests can run in isolation; spec.md's "process-
// wide singleton" becomes "one instance, owned by the server context" per
// the DESIGN NOTES guidance to retire module-level globals.
type Bus struct {
	remoteUserman bool
	subs          []*Subscription
}

// New creates an empty bus. remoteUserman mirrors the configured
// remote_userman flag gating user_* events over non-local transports.
func New(remoteUserman bool) *Bus {
	return &Bus{remoteUserman: remoteUserman}
}

// SetRemoteUserman updates the remote_userman gate (e.g. on `reconfigure`).
func (b *Bus) SetRemoteUserman(v bool) { b.remoteUserman = v }

// Subscribe registers sink to receive future published messages. rights and
// isLocal determine eligibility for admin-gated messages; isAlive lets the
// bus lazily prune subscriptions whose writer has gone away.
func (b *Bus) Subscribe(sink Subscriber, rights Rights, isLocal bool, isAlive func() bool) *Subscription {
	s := &Subscription{sink: sink, rights: rights, isLocal: isLocal, isAlive: isAlive}
	b.subs = append(b.subs, s)
	return s
}

// Unsubscribe marks s revoked (e.g. on explicit disconnect): it receives no
// further messages and is dropped from the bus on the next Publish.
func (b *Bus) Unsubscribe(s *Subscription) {
	s.revoked = true
}

// Publish fans message out to every eligible, live subscription, prefixed
// with a lowercase hex seconds-since-epoch timestamp per spec.md §6's
// event-log framing. Dead or revoked subscriptions are pruned from this
// call onward (spec.md §4.2 "skipped and removed on next iteration").
func (b *Bus) Publish(message string) {
	now := time.Now().Unix()
	line := fmt.Sprintf("%x %s", now, message)
	eventName := firstToken(message)

	live := b.subs[:0]
	for _, s := range b.subs {
		if s.revoked || (s.isAlive != nil && !s.isAlive()) {
			continue
		}
		live = append(live, s)
		if !b.eligible(s, eventName) {
			continue
		}
		_ = s.sink.WriteLine(line)
	}
	b.subs = live
}

// eligible applies the admin + remote_userman filtering rule for user_*
// events (spec.md §4.2).
func (b *Bus) eligible(s *Subscription, eventName string) bool {
	if !strings.HasPrefix(eventName, "user_") {
		return true
	}
	if s.rights == nil || !s.rights.HasAdmin() {
		return false
	}
	if !s.isLocal && !b.remoteUserman {
		return false
	}
	return true
}

func firstToken(message string) string {
	if i := strings.IndexByte(message, ' '); i >= 0 {
		return message[:i]
	}
	return message
}

// Count returns the number of currently tracked subscriptions (including
// ones that will be pruned on next Publish); used for diagnostics/tests.
func (b *Bus) Count() int { return len(b.subs) }

// Convenience constructors for the fixed message vocabulary (spec.md §4.2),
// kept as small helpers so publishers don't hand-format event lines.

func StateMessage(state string) string          { return "state " + state }
func VolumeMessage(left, right int) string       { return fmt.Sprintf("volume %d %d", left, right) }
func AdoptedMessage(id, user string) string      { return fmt.Sprintf("adopted %s %s", id, user) }
func RightsChangedMessage(rights string) string  { return fmt.Sprintf("rights_changed %q", rights) }
func PlayingMessage(id string) string            { return "playing " + id }
func ScratchedMessage(id, user string) string    { return fmt.Sprintf("scratched %s %s", id, user) }
func QueueMessage(marshalled string) string      { return "queue " + marshalled }
func RecentMessage(id string) string             { return "recent " + id }
