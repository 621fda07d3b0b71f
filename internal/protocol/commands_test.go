package protocol

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/eventlog"
	"github.com/crazyscot/disorder/internal/queue"
	"github.com/crazyscot/disorder/internal/reactor"
	"github.com/crazyscot/disorder/internal/trackdb"
)

// fakeStore is a minimal in-memory trackdb.Store, enough to exercise the
// command handlers without a real badger database.
type fakeStore struct {
	users map[string]*trackdb.User
	prefs map[string]map[string]string
	tags  map[string]map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[string]*trackdb.User),
		prefs: make(map[string]map[string]string),
		tags:  make(map[string]map[string]string),
	}
}

func (f *fakeStore) Resolve(ctx context.Context, path string) (string, error) { return path, nil }
func (f *fakeStore) IndexTracks(ctx context.Context, paths []string) error    { return nil }
func (f *fakeStore) List(ctx context.Context, dir string) ([]string, error)  { return nil, nil }
func (f *fakeStore) Search(ctx context.Context, query string) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) GetPref(ctx context.Context, track, key string) (string, error) {
	return "", trackdb.ErrNotFound
}
func (f *fakeStore) SetPref(ctx context.Context, track, key, value string) error { return nil }
func (f *fakeStore) UnsetPref(ctx context.Context, track, key string) error      { return nil }
func (f *fakeStore) GetGlobalPref(ctx context.Context, key string) (string, error) {
	return "", trackdb.ErrNotFound
}
func (f *fakeStore) SetGlobalPref(ctx context.Context, key, value string) error { return nil }
func (f *fakeStore) UnsetGlobalPref(ctx context.Context, key string) error      { return nil }
func (f *fakeStore) ListPrefs(ctx context.Context, track string) (map[string]string, error) {
	return f.prefs[track], nil
}
func (f *fakeStore) GetTrackTags(ctx context.Context, track string) (map[string]string, error) {
	return f.tags[track], nil
}
func (f *fakeStore) SetTrackTags(ctx context.Context, track string, tags map[string]string) error {
	f.tags[track] = tags
	return nil
}
func (f *fakeStore) ListNewTracks(ctx context.Context, max int) ([]string, error) { return nil, nil }

func (f *fakeStore) GetUser(ctx context.Context, username string) (*trackdb.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, trackdb.ErrNotFound
	}
	cp := *u
	return &cp, nil
}
func (f *fakeStore) PutUser(ctx context.Context, u *trackdb.User) error {
	cp := *u
	f.users[u.Username] = &cp
	return nil
}
func (f *fakeStore) DeleteUser(ctx context.Context, username string) error {
	delete(f.users, username)
	return nil
}
func (f *fakeStore) ListUsers(ctx context.Context) ([]string, error) {
	var names []string
	for n := range f.users {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeStore) GetScheduledEvent(ctx context.Context, id string) (*trackdb.ScheduledEvent, error) {
	return nil, trackdb.ErrNotFound
}
func (f *fakeStore) PutScheduledEvent(ctx context.Context, e *trackdb.ScheduledEvent) error {
	return nil
}
func (f *fakeStore) DeleteScheduledEvent(ctx context.Context, id string) error { return nil }
func (f *fakeStore) ListScheduledEvents(ctx context.Context) ([]*trackdb.ScheduledEvent, error) {
	return nil, nil
}

func (f *fakeStore) RecordPlayed(ctx context.Context, path string, at time.Time) error { return nil }

func (f *fakeStore) GetPlaylist(ctx context.Context, name string) (*trackdb.Playlist, error) {
	return nil, trackdb.ErrNotFound
}
func (f *fakeStore) PutPlaylist(ctx context.Context, p *trackdb.Playlist) error { return nil }
func (f *fakeStore) DeletePlaylist(ctx context.Context, name string) error     { return nil }
func (f *fakeStore) ListPlaylists(ctx context.Context) ([]string, error)       { return nil, nil }

func (f *fakeStore) Close() error { return nil }

// testClient drives one Server connection over an in-memory pipe, reading
// response lines back on demand.
type testClient struct {
	t         *testing.T
	client    net.Conn
	r         *bufio.Reader
	lastNonce string
}

func newTestClientWithNonce(t *testing.T, s *Server, isLocal bool) *testClient {
	t.Helper()
	client, server := net.Pipe()
	if err := s.Accept(server, isLocal); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	tc := &testClient{t: t, client: client, r: bufio.NewReader(client)}
	greeting := tc.readLine() // "231 2 <hashalgo> <nonce>"
	fields := strings.Fields(greeting)
	if len(fields) != 4 {
		t.Fatalf("unexpected greeting %q", greeting)
	}
	tc.lastNonce = fields[3]
	return tc
}

func (tc *testClient) send(line string) {
	tc.t.Helper()
	if _, err := tc.client.Write([]byte(line + "\n")); err != nil {
		tc.t.Fatalf("write: %v", err)
	}
}

func (tc *testClient) readLine() string {
	tc.t.Helper()
	done := make(chan struct{})
	var line string
	var err error
	go func() {
		line, err = tc.r.ReadString('\n')
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		tc.t.Fatal("timed out waiting for response")
	}
	if err != nil {
		tc.t.Fatalf("read: %v", err)
	}
	return line[:len(line)-1]
}

// newTestServer wires a Server with a running reactor and fake store, ready
// to Accept connections.
func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	r := reactor.New()
	go r.Run()
	t.Cleanup(r.Stop)

	store := newFakeStore()
	bus := eventlog.New(false)
	q := queue.New(queue.DefaultConfig(), bus, &noopPreparer{}, nil)
	keys, err := auth.NewKeyRing([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	s := NewServer(r, q, store, bus, keys)
	s.DefaultRights = auth.Read | auth.Play
	s.CookieSecret = []byte("test-secret")
	s.CookieLoginLifetime = time.Hour
	return s, store
}

type noopPreparer struct{}

func (noopPreparer) Prepare(e *queue.Entry) {}

func addUser(s *Server, store *fakeStore, username, password string, rights auth.Rights) {
	store.users[username] = &trackdb.User{Username: username, PasswordHash: password, Rights: rights}
}

func login(t *testing.T, tc *testClient, username, password string) {
	t.Helper()
	resp, err := auth.Response(auth.SHA256, password, tc.lastNonce)
	if err != nil {
		t.Fatalf("Response: %v", err)
	}
	tc.send("user " + username + " " + resp)
	line := tc.readLine()
	if line[:3] != "232" {
		t.Fatalf("expected 232 authenticated, got %q", line)
	}
}

func TestMakeCookieRevokeRoundTrip(t *testing.T) {
	s, store := newTestServer(t)
	addUser(s, store, "alice", "hunter2", auth.Read|auth.Play|auth.Admin)

	tc := newTestClientWithNonce(t, s, false)
	login(t, tc, "alice", "hunter2")

	tc.send("make-cookie")
	line := tc.readLine()
	if line[:3] != "252" {
		t.Fatalf("expected 252 single value, got %q", line)
	}
	cookie := line[4:]

	tc2 := newTestClientWithNonce(t, s, false)
	tc2.send("cookie " + cookie)
	line = tc2.readLine()
	if line[:3] != "232" {
		t.Fatalf("expected 232 authenticated via cookie, got %q", line)
	}

	tc.send("revoke")
	line = tc.readLine()
	if line[:3] != "200" {
		t.Fatalf("expected 200 ok for revoke, got %q", line)
	}

	tc3 := newTestClientWithNonce(t, s, false)
	tc3.send("cookie " + cookie)
	line = tc3.readLine()
	if line[:3] != "530" {
		t.Fatalf("expected 530 auth failure after revoke, got %q", line)
	}
}

func TestPauseThenAlreadyPaused(t *testing.T) {
	s, store := newTestServer(t)
	addUser(s, store, "alice", "hunter2", auth.Read|auth.Play|auth.Pause)
	tc := newTestClientWithNonce(t, s, false)
	login(t, tc, "alice", "hunter2")

	tc.send("play a.flac")
	if line := tc.readLine(); line[:3] != "200" {
		t.Fatalf("play: %q", line)
	}
	if err := s.Queue.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tc.send("pause")
	if line := tc.readLine(); line[:3] != "200" {
		t.Fatalf("expected 200 on first pause, got %q", line)
	}
	tc.send("pause")
	if line := tc.readLine(); line[:3] != "250" {
		t.Fatalf("expected 250 already paused, got %q", line)
	}
}

func TestEditUserSelfServiceAndAdminRightsPropagation(t *testing.T) {
	s, store := newTestServer(t)
	addUser(s, store, "alice", "hunter2", auth.Read)
	addUser(s, store, "admin", "rootpw", auth.Admin)

	aliceConn := newTestClientWithNonce(t, s, false)
	login(t, aliceConn, "alice", "hunter2")

	// Self-service: alice may change her own password without admin rights.
	aliceConn.send("edituser alice password newpass")
	if line := aliceConn.readLine(); line[:3] != "200" {
		t.Fatalf("expected self-service edituser to succeed, got %q", line)
	}

	// But alice may not grant herself admin.
	aliceConn.send("edituser alice rights admin")
	if line := aliceConn.readLine(); line[:3] != "510" {
		t.Fatalf("expected 510 not authorized for self rights change, got %q", line)
	}

	adminConn := newTestClientWithNonce(t, s, true)
	login(t, adminConn, "admin", "rootpw")
	adminConn.send("edituser alice rights read,play")
	if line := adminConn.readLine(); line[:3] != "200" {
		t.Fatalf("expected admin edituser to succeed, got %q", line)
	}

	live := s.conns["alice"]
	if len(live) != 1 || !live[0].rights.Has(auth.Play) {
		t.Fatalf("expected live connection's rights to be updated by propagation, got %v", live)
	}
}

func TestRegisterConfirmLifecycle(t *testing.T) {
	s, store := newTestServer(t)
	s.DefaultRights = auth.Read | auth.Play | auth.Register

	tc := newTestClientWithNonce(t, s, false)
	tc.send("register bob bob@example.com")
	tc.send("swordfish")
	tc.send(".")
	if line := tc.readLine(); line[:3] != "200" {
		t.Fatalf("expected 200 ok after register body, got %q", line)
	}

	u := store.users["bob"]
	if u == nil {
		t.Fatal("expected bob to be persisted as a pending user")
	}
	if u.Rights != 0 {
		t.Fatalf("expected pending user to have no rights yet, got %v", u.Rights)
	}
	if u.PendingToken == "" {
		t.Fatal("expected a pending confirmation token")
	}

	tc2 := newTestClientWithNonce(t, s, false)
	tc2.send("confirm bob " + u.PendingToken)
	if line := tc2.readLine(); line[:3] != "200" {
		t.Fatalf("expected 200 ok on confirm, got %q", line)
	}
	confirmed := store.users["bob"]
	if confirmed.Rights.Has(auth.Register) {
		t.Fatal("the register toggle bit must never end up on a real user record")
	}
	if !confirmed.Rights.Has(auth.Read) {
		t.Fatalf("expected confirmed user to carry default rights, got %v", confirmed.Rights)
	}
}
