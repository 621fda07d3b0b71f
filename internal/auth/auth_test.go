package auth

import (
	"testing"
	"time"
)

func TestParseRightsRoundTrip(t *testing.T) {
	r, err := ParseRights("read, play admin")
	if err != nil {
		t.Fatalf("ParseRights: %v", err)
	}
	if !r.Has(Read) || !r.Has(Play) || !r.Has(Admin) {
		t.Fatalf("missing expected bits: %v", r)
	}
	if r.Has(Rescan) {
		t.Fatalf("unexpected bit set: %v", r)
	}
	if got := r.String(); got != "admin,play,read" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseRightsRejectsLocal(t *testing.T) {
	if _, err := ParseRights("_local"); err == nil {
		t.Fatal("expected error granting _local")
	}
}

func TestCanMoveOwnRandomAny(t *testing.T) {
	if !CanMove(MoveOwn, true, false) {
		t.Fatal("own mover should be able to move own entry")
	}
	if CanMove(MoveOwn, false, false) {
		t.Fatal("own mover should not move others' entries")
	}
	if !CanMove(MoveAny, false, false) {
		t.Fatal("any mover should move everything")
	}
	if !CanMove(MoveRandom, false, true) {
		t.Fatal("random mover should move random-origin entries")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	resp, err := Response(SHA256, "hunter2", nonce)
	if err != nil {
		t.Fatalf("Response: %v", err)
	}
	ok, err := CheckResponse(SHA256, "hunter2", nonce, resp)
	if err != nil {
		t.Fatalf("CheckResponse: %v", err)
	}
	if !ok {
		t.Fatal("expected matching response to verify")
	}
	ok, err = CheckResponse(SHA256, "wrong", nonce, resp)
	if err != nil {
		t.Fatalf("CheckResponse: %v", err)
	}
	if ok {
		t.Fatal("expected mismatched password to fail verification")
	}
}

func TestCookieRoundTrip(t *testing.T) {
	ring, err := NewKeyRing([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	c := Cookie{Username: "alice", Rights: Read | Play, Expiry: time.Now().Add(time.Hour)}
	enc, err := c.Encode(ring)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeCookie(enc, ring)
	if err != nil {
		t.Fatalf("DecodeCookie: %v", err)
	}
	if got.Username != "alice" || got.Rights != (Read|Play) {
		t.Fatalf("unexpected cookie: %+v", got)
	}
}

func TestCookieSurvivesOneRotation(t *testing.T) {
	ring, err := NewKeyRing([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	c := Cookie{Username: "bob", Rights: Admin, Expiry: time.Now().Add(time.Hour)}
	enc, err := c.Encode(ring)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := ring.Rotate([]byte("test-secret")); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := DecodeCookie(enc, ring); err != nil {
		t.Fatalf("cookie should survive one rotation: %v", err)
	}
	if err := ring.Rotate([]byte("test-secret")); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := DecodeCookie(enc, ring); err == nil {
		t.Fatal("cookie should not survive two rotations")
	}
}

func TestCookieRejectsExpired(t *testing.T) {
	ring, err := NewKeyRing([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	c := Cookie{Username: "carol", Rights: Read, Expiry: time.Now().Add(-time.Minute)}
	enc, err := c.Encode(ring)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := DecodeCookie(enc, ring); err != ErrCookieExpired {
		t.Fatalf("expected ErrCookieExpired, got %v", err)
	}
}

func TestRevokeInvalidatesEvenAFreshCookie(t *testing.T) {
	ring, err := NewKeyRing([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	c := Cookie{Username: "dave", Rights: Read, Expiry: time.Now().Add(time.Hour)}
	enc, err := c.Encode(ring)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := DecodeCookie(enc, ring); err != nil {
		t.Fatalf("cookie should verify before revoke: %v", err)
	}
	if err := ring.Revoke([]byte("test-secret")); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := DecodeCookie(enc, ring); err != ErrCookieInvalid {
		t.Fatalf("expected revoke to invalidate even a just-issued cookie, got %v", err)
	}
}

func TestDecodeCookieRejectsGarbage(t *testing.T) {
	ring, err := NewKeyRing([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	if _, err := DecodeCookie("not-a-cookie", ring); err != ErrCookieInvalid {
		t.Fatalf("expected ErrCookieInvalid, got %v", err)
	}
}
