// Package auth implements the rights bitmask, nonce challenge/response,
// and cookie issuance/verification described in spec.md §4.7.
package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Rights is the fixed bitmask of named capabilities evaluated on every
// privileged operation (spec.md §4.7). _local is internal and granted only
// on Unix-socket connections, never parsed from user-supplied rights
// strings.
type Rights uint32

const (
	Read Rights = 1 << iota
	Play
	MoveOwn
	MoveRandom
	MoveAny
	RemoveOwn
	RemoveRandom
	RemoveAny
	ScratchOwn
	ScratchRandom
	ScratchAny
	Pause
	Register
	Admin
	Prefs
	GlobalPrefs
	UserInfo
	Volume
	Rescan
	Local // _local — internal only
)

var names = []struct {
	bit  Rights
	name string
}{
	{Read, "read"},
	{Play, "play"},
	{MoveOwn, "move-own"},
	{MoveRandom, "move-random"},
	{MoveAny, "move-any"},
	{RemoveOwn, "remove-own"},
	{RemoveRandom, "remove-random"},
	{RemoveAny, "remove-any"},
	{ScratchOwn, "scratch-own"},
	{ScratchRandom, "scratch-random"},
	{ScratchAny, "scratch-any"},
	{Pause, "pause"},
	{Register, "register"},
	{Admin, "admin"},
	{Prefs, "prefs"},
	{GlobalPrefs, "global-prefs"},
	{UserInfo, "userinfo"},
	{Volume, "volume"},
	{Rescan, "rescan"},
	{Local, "_local"},
}

// Has reports whether r includes every bit set in want.
func (r Rights) Has(want Rights) bool { return r&want == want }

// HasAny reports whether r includes at least one bit set in want.
func (r Rights) HasAny(want Rights) bool { return r&want != 0 }

// HasAdmin satisfies eventlog.Rights.
func (r Rights) HasAdmin() bool { return r.Has(Admin) }

// String renders r as a comma-joined, sorted list of right names, matching
// the quoted form used in the rights_changed event (spec.md §4.2).
func (r Rights) String() string {
	var out []string
	for _, n := range names {
		if r.Has(n.bit) {
			out = append(out, n.name)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// ParseRights parses a comma-or-space separated list of right names. _local
// is rejected — it can only be granted programmatically for Unix-socket
// connections, never requested.
func ParseRights(s string) (Rights, error) {
	var r Rights
	fields := strings.FieldsFunc(s, func(c rune) bool { return c == ',' || c == ' ' || c == '\t' })
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if f == "_local" {
			return 0, fmt.Errorf("auth: %q is not a grantable right", f)
		}
		bit, ok := lookup(f)
		if !ok {
			return 0, fmt.Errorf("auth: unknown right %q", f)
		}
		r |= bit
	}
	return r, nil
}

func lookup(name string) (Rights, bool) {
	for _, n := range names {
		if n.name == name {
			return n.bit, true
		}
	}
	return 0, false
}

// CanMove reports whether rights authorize moving an entry; isOwn says the
// caller submitted it and isRandom that its origin is random, per spec.md
// §4.7's own/random/any semantics.
func CanMove(rights Rights, isOwn, isRandom bool) bool {
	return checkOwnRandomAny(rights, isOwn, isRandom, MoveOwn, MoveRandom, MoveAny)
}

// CanRemove mirrors CanMove for the remove family of rights.
func CanRemove(rights Rights, isOwn, isRandom bool) bool {
	return checkOwnRandomAny(rights, isOwn, isRandom, RemoveOwn, RemoveRandom, RemoveAny)
}

// CanScratch mirrors CanMove for the scratch family of rights.
func CanScratch(rights Rights, isOwn, isRandom bool) bool {
	return checkOwnRandomAny(rights, isOwn, isRandom, ScratchOwn, ScratchRandom, ScratchAny)
}

func checkOwnRandomAny(rights Rights, isOwn, isRandom bool, own, random, any Rights) bool {
	if rights.Has(any) {
		return true
	}
	if isOwn && rights.Has(own) {
		return true
	}
	if isRandom && rights.Has(random) {
		return true
	}
	return false
}
