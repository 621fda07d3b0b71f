package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// ErrCookieInvalid is returned for any cookie that fails to parse or whose
// signature doesn't verify against either retained key.
var ErrCookieInvalid = errors.New("auth: invalid cookie")

// ErrCookieExpired is returned for an otherwise well-formed, well-signed
// cookie past its expiry.
var ErrCookieExpired = errors.New("auth: cookie expired")

// keySize is the HMAC-SHA256 key length derived on each rotation.
const keySize = 32

// KeyRing holds the current and previous HMAC signing keys. Retaining two
// keys — rather than one — lets a cookie issued just before a rotation
// still verify afterward, so a user isn't logged out mid-session purely
// because the server rotated keys.
type KeyRing struct {
	mu       sync.RWMutex
	current  []byte
	previous []byte
}

// NewKeyRing derives an initial signing key from a master secret using
// HKDF-SHA256, the same construction the corpus's TLS-adjacent tooling uses
// to turn a long-lived secret into fixed-size key material.
func NewKeyRing(secret []byte) (*KeyRing, error) {
	k := &KeyRing{}
	key, err := derive(secret, "disorder-cookie-v1")
	if err != nil {
		return nil, err
	}
	k.current = key
	return k, nil
}

func derive(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("auth: deriving key: %w", err)
	}
	return key, nil
}

// Rotate replaces the previous key with the current one and derives a
// fresh current key from secret. Call on a timer (spec.md suggests daily)
// or on operator demand.
func (k *KeyRing) Rotate(secret []byte) error {
	key, err := derive(secret, fmt.Sprintf("disorder-cookie-v1-%d", time.Now().UnixNano()))
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.previous = k.current
	k.current = key
	k.mu.Unlock()
	return nil
}

// Revoke discards both retained keys and derives a fresh current key from
// secret, unlike Rotate which keeps the outgoing key around as previous for
// a grace period. Every cookie signed before this call — including one
// signed moments ago — fails verification immediately afterward (spec.md
// §4.7 "revoke").
func (k *KeyRing) Revoke(secret []byte) error {
	key, err := derive(secret, fmt.Sprintf("disorder-cookie-v1-revoked-%d", time.Now().UnixNano()))
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.current = key
	k.previous = nil
	k.mu.Unlock()
	return nil
}

func (k *KeyRing) sign(payload []byte) []byte {
	k.mu.RLock()
	key := k.current
	k.mu.RUnlock()
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}

func (k *KeyRing) verify(payload, mac []byte) bool {
	k.mu.RLock()
	keys := make([][]byte, 0, 2)
	if k.current != nil {
		keys = append(keys, k.current)
	}
	if k.previous != nil {
		keys = append(keys, k.previous)
	}
	k.mu.RUnlock()
	for _, key := range keys {
		h := hmac.New(sha256.New, key)
		h.Write(payload)
		if hmac.Equal(h.Sum(nil), mac) {
			return true
		}
	}
	return false
}

// Cookie is the signed, bearer token a client presents in lieu of
// re-authenticating (spec.md §4.7's "cookie" login mode).
type Cookie struct {
	Username string
	Rights   Rights
	Expiry   time.Time
}

// Encode signs c with ring's current key and returns the wire form:
// base64(payload) + "." + base64(hmac).
func (c Cookie) Encode(ring *KeyRing) (string, error) {
	if strings.ContainsAny(c.Username, "\t\n") {
		return "", fmt.Errorf("auth: username contains invalid bytes")
	}
	payload := fmt.Sprintf("%s\t%d\t%d", c.Username, uint32(c.Rights), c.Expiry.Unix())
	mac := ring.sign([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// DecodeCookie parses and verifies a cookie previously produced by Encode,
// checking the signature against ring's retained keys and rejecting an
// expired token.
func DecodeCookie(s string, ring *KeyRing) (Cookie, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return Cookie{}, ErrCookieInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Cookie{}, ErrCookieInvalid
	}
	mac, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Cookie{}, ErrCookieInvalid
	}
	if !ring.verify(payload, mac) {
		return Cookie{}, ErrCookieInvalid
	}
	fields := strings.Split(string(payload), "\t")
	if len(fields) != 3 {
		return Cookie{}, ErrCookieInvalid
	}
	rightsVal, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return Cookie{}, ErrCookieInvalid
	}
	expUnix, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Cookie{}, ErrCookieInvalid
	}
	c := Cookie{
		Username: fields[0],
		Rights:   Rights(rightsVal),
		Expiry:   time.Unix(expUnix, 0),
	}
	if time.Now().After(c.Expiry) {
		return c, ErrCookieExpired
	}
	return c, nil
}
