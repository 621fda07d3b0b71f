package protocol

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/errors"
	"github.com/crazyscot/disorder/internal/eventlog"
	"github.com/crazyscot/disorder/internal/jobs"
	"github.com/crazyscot/disorder/internal/logger"
	"github.com/crazyscot/disorder/internal/trackdb"
)

// registerCommands populates d with the command table (spec.md §4.6). Each
// category maps to the operations spec.md §4.6 names; a handful of
// catalog/admin commands (tags, new, stats, rescan, schedule-*,
// playlist-*) are intentionally thin wrappers that defer to collaborators
// (internal/trackdb, internal/jobs) rather than duplicating their logic
// here.
func registerCommands(d *Dispatcher) {
	registerSessionCommands(d)
	registerPlaybackCommands(d)
	registerCatalogCommands(d)
	registerPrefCommands(d)
	registerUserCommands(d)
	registerRTPCommands(d)
	registerScheduleCommands(d)
	registerPlaylistCommands(d)
}

// --- session ---------------------------------------------------------

func registerSessionCommands(d *Dispatcher) {
	d.Register(CommandSpec{Name: "user", MinArgs: 2, MaxArgs: 2, Handler: cmdUser})
	d.Register(CommandSpec{Name: "cookie", MinArgs: 1, MaxArgs: 1, Handler: cmdCookie})
	d.Register(CommandSpec{Name: "make-cookie", MinArgs: 0, MaxArgs: 0, Handler: cmdMakeCookie})
	d.Register(CommandSpec{Name: "revoke", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdRevoke})
	d.Register(CommandSpec{Name: "nop", MinArgs: 0, MaxArgs: 0, Handler: cmdNop})
	d.Register(CommandSpec{Name: "version", MinArgs: 0, MaxArgs: 0, Handler: cmdVersion})
	d.Register(CommandSpec{Name: "volume", MinArgs: 0, MaxArgs: 2, Rights: auth.Volume, Handler: cmdVolume})
	d.Register(CommandSpec{Name: "log", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdLog})
	d.Register(CommandSpec{Name: "reconfigure", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdReconfigure})
	d.Register(CommandSpec{Name: "shutdown", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdShutdown})
	d.Register(CommandSpec{Name: "rescan", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdRescan})
}

func cmdUser(s *Server, c *Conn, args []string) error {
	if c.Authenticated() {
		return errors.NewCommandError(CodeAuthFailure, "user", fmt.Errorf("already authenticated"))
	}
	username, response := args[0], args[1]
	ctx := context.Background()
	u, err := s.DB.GetUser(ctx, username)
	if err != nil {
		return errors.NewCommandError(CodeAuthFailure, "user", fmt.Errorf("no such user"))
	}
	ok, err := auth.CheckResponse(s.HashAlgo, u.PasswordHash, c.nonce, response)
	if err != nil || !ok {
		return errors.NewCommandError(CodeAuthFailure, "user", fmt.Errorf("bad response"))
	}
	c.user = username
	c.rights |= u.Rights
	s.registerAuth(c)
	c.WriteResponse(CodeAuthenticated, username)
	return nil
}

func cmdCookie(s *Server, c *Conn, args []string) error {
	if c.Authenticated() {
		return errors.NewCommandError(CodeAuthFailure, "cookie", fmt.Errorf("already authenticated"))
	}
	tok, err := auth.DecodeCookie(args[0], s.Keys)
	if err != nil {
		return errors.NewCommandError(CodeAuthFailure, "cookie", err)
	}
	c.user = tok.Username
	c.rights |= tok.Rights
	s.registerAuth(c)
	c.WriteResponse(CodeAuthenticated, tok.Username)
	return nil
}

// cmdMakeCookie issues a bearer cookie for the already-authenticated
// connection's own identity, redeemable later via cmdCookie (spec.md §4.7
// "make-cookie"). The _local bit never travels in a cookie: it's granted
// only to the transport a connection actually arrived over.
func cmdMakeCookie(s *Server, c *Conn, args []string) error {
	if !c.Authenticated() {
		return errors.NewCommandError(CodeAuthFailure, "make-cookie", fmt.Errorf("not authenticated"))
	}
	cookie := auth.Cookie{
		Username: c.user,
		Rights:   c.rights &^ auth.Local,
		Expiry:   time.Now().Add(s.CookieLoginLifetime),
	}
	encoded, err := cookie.Encode(s.Keys)
	if err != nil {
		return errors.NewCommandError(550, "make-cookie", err)
	}
	c.WriteResponse(CodeSingleValue, encoded)
	return nil
}

// cmdRevoke hard-invalidates every outstanding cookie by resetting the
// signing keyring (spec.md §4.7 "revoke"), rather than just rotating it:
// Rotate alone would still let a cookie signed moments ago verify against
// the retained previous key.
func cmdRevoke(s *Server, c *Conn, args []string) error {
	if err := s.Keys.Revoke(s.CookieSecret); err != nil {
		return errors.NewCommandError(550, "revoke", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdNop(s *Server, c *Conn, args []string) error {
	c.WriteResponse(CodeOKNoPayload, "")
	return nil
}

func cmdVersion(s *Server, c *Conn, args []string) error {
	c.WriteResponse(CodeSingleValue, "disorder-go 1")
	return nil
}

func cmdVolume(s *Server, c *Conn, args []string) error {
	if len(args) == 0 {
		l, r := s.Mixer.Volume()
		c.WriteResponse(CodeSingleValue, fmt.Sprintf("%d %d", l, r))
		return nil
	}
	if len(args) != 2 {
		return errors.NewCommandError(500, "volume", fmt.Errorf("expected 0 or 2 arguments"))
	}
	l, err1 := strconv.Atoi(args[0])
	r, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return errors.NewCommandError(550, "volume", fmt.Errorf("volume must be numeric"))
	}
	s.Mixer.SetVolume(l, r)
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdLog(s *Server, c *Conn, args []string) error {
	c.sub = s.Bus.Subscribe(c, c, c.IsLocal(), func() bool { return true })
	c.WriteResponse(CodeSubscribed, "log")
	return nil
}

func cmdReconfigure(s *Server, c *Conn, args []string) error {
	if s.OnReconfigure != nil {
		if err := s.OnReconfigure(); err != nil {
			return errors.NewCommandError(CodeBadInput, "reconfigure", err)
		}
	}
	c.WriteResponse(CodeOK, "reconfigured")
	return nil
}

func cmdShutdown(s *Server, c *Conn, args []string) error {
	c.WriteResponse(CodeOK, "shutting down")
	if s.OnShutdown != nil {
		s.OnShutdown()
	}
	return nil
}

// cmdRescan kicks off the configured rescan subprocess; its stdout (one
// track path per line) replaces the catalog once the job completes
// (spec.md §4.6 "rescan"). Like reminder and stats, it disables the
// requesting connection's reader for the duration rather than blocking the
// reactor (spec.md §5 "suspension points"), re-enabling and reporting the
// outcome through this same connection once the subprocess exits; other
// connections learn of it from the event log.
func cmdRescan(s *Server, c *Conn, args []string) error {
	if s.Jobs == nil || len(s.RescanCommand) == 0 {
		return errors.NewCommandError(CodeBadInput, "rescan", fmt.Errorf("rescan not configured"))
	}
	c.reader.Disable()
	spec := jobs.Spec{Kind: jobs.KindRescan, Command: s.RescanCommand[0], Args: s.RescanCommand[1:]}
	s.Jobs.Submit(spec, func(res jobs.Result) {
		c.reader.Enable()
		if res.Err != nil {
			logger.Logger().Error("rescan failed", "err", res.Err)
			s.Bus.Publish(eventlog.StateMessage("rescan_failed"))
			c.WriteResponse(550, fmt.Sprintf("rescan: %v", res.Err))
			return
		}
		paths := strings.Split(strings.TrimSpace(res.Stdout), "\n")
		if err := s.DB.IndexTracks(context.Background(), paths); err != nil {
			logger.Logger().Error("rescan index failed", "err", err)
			c.WriteResponse(550, fmt.Sprintf("rescan: %v", err))
			return
		}
		s.Bus.Publish(eventlog.StateMessage("rescanned"))
		c.WriteResponse(CodeOK, "rescanned")
	})
	return nil
}

// --- playback ----------------------------------------------------------

func registerPlaybackCommands(d *Dispatcher) {
	d.Register(CommandSpec{Name: "play", MinArgs: 1, MaxArgs: 1, Rights: auth.Play, Handler: cmdPlay})
	d.Register(CommandSpec{Name: "playafter", MinArgs: 2, MaxArgs: 2, Rights: auth.Play, Handler: cmdPlayAfter})
	d.Register(CommandSpec{Name: "pause", MinArgs: 0, MaxArgs: 0, Rights: auth.Pause, Handler: cmdPause})
	d.Register(CommandSpec{Name: "resume", MinArgs: 0, MaxArgs: 0, Rights: auth.Pause, Handler: cmdResume})
	d.Register(CommandSpec{Name: "scratch", MinArgs: 0, MaxArgs: 1, Handler: cmdScratch})
	d.Register(CommandSpec{Name: "remove", MinArgs: 1, MaxArgs: 1, Handler: cmdRemove})
	d.Register(CommandSpec{Name: "move", MinArgs: 2, MaxArgs: 2, Handler: cmdMove})
	d.Register(CommandSpec{Name: "moveafter", MinArgs: 2, MaxArgs: 2, Handler: cmdMoveAfter})
	d.Register(CommandSpec{Name: "adopt", MinArgs: 1, MaxArgs: 1, Handler: cmdAdopt})
	d.Register(CommandSpec{Name: "playing", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdPlaying})
	d.Register(CommandSpec{Name: "queue", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdQueue})
	d.Register(CommandSpec{Name: "recent", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdRecent})
	d.Register(CommandSpec{Name: "enable", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdEnable})
	d.Register(CommandSpec{Name: "disable", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdDisable})
	d.Register(CommandSpec{Name: "enabled", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdEnabled})
	d.Register(CommandSpec{Name: "random-enable", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdRandomEnable})
	d.Register(CommandSpec{Name: "random-disable", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdRandomDisable})
	d.Register(CommandSpec{Name: "random-enabled", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdRandomEnabled})
}

func cmdPlay(s *Server, c *Conn, args []string) error {
	path, err := s.DB.Resolve(context.Background(), args[0])
	if err != nil {
		return errors.NewCommandError(550, "play", err)
	}
	if _, err := s.Queue.Play(path, c.user, ""); err != nil {
		return errors.NewCommandError(550, "play", err)
	}
	c.WriteResponse(CodeOK, "queued")
	return nil
}

func cmdPlayAfter(s *Server, c *Conn, args []string) error {
	path, err := s.DB.Resolve(context.Background(), args[1])
	if err != nil {
		return errors.NewCommandError(550, "playafter", err)
	}
	if _, err := s.Queue.Play(path, c.user, args[0]); err != nil {
		return errors.NewCommandError(550, "playafter", err)
	}
	c.WriteResponse(CodeOK, "queued")
	return nil
}

func cmdPause(s *Server, c *Conn, args []string) error {
	alreadyPaused, err := s.Queue.Pause()
	if err != nil {
		return errors.NewCommandError(550, "pause", err)
	}
	if alreadyPaused {
		c.WriteResponse(CodeAlreadyDone, "already paused")
		return nil
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdResume(s *Server, c *Conn, args []string) error {
	if err := s.Queue.Resume(); err != nil {
		return errors.NewCommandError(550, "resume", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdScratch(s *Server, c *Conn, args []string) error {
	if !c.rights.HasAny(auth.ScratchOwn | auth.ScratchRandom | auth.ScratchAny) {
		return errors.NewCommandError(CodeNotAuthorized, "scratch", fmt.Errorf("not authorized"))
	}
	head := s.Queue.Head()
	if head == nil {
		return errors.NewCommandError(550, "scratch", fmt.Errorf("nothing is playing"))
	}
	if !auth.CanScratch(c.rights, head.IsOwn(c.user), head.IsRandom()) {
		return errors.NewCommandError(CodeNotAuthorized, "scratch", fmt.Errorf("not authorized to scratch this track"))
	}
	jingle := ""
	if len(s.ScratchJingles) > 0 {
		jingle = s.ScratchJingles[rand.Intn(len(s.ScratchJingles))]
	}
	if err := s.Queue.Scratch(c.user, jingle); err != nil {
		return errors.NewCommandError(550, "scratch", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func entryByID(s *Server, id, user string) (own, random bool, found bool) {
	for _, e := range s.Queue.Entries() {
		if e.ID == id {
			return e.IsOwn(user), e.IsRandom(), true
		}
	}
	return false, false, false
}

func cmdRemove(s *Server, c *Conn, args []string) error {
	own, random, found := entryByID(s, args[0], c.user)
	if !found {
		return errors.NewCommandError(550, "remove", fmt.Errorf("no such entry"))
	}
	if !auth.CanRemove(c.rights, own, random) {
		return errors.NewCommandError(CodeNotAuthorized, "remove", fmt.Errorf("not authorized"))
	}
	if err := s.Queue.Remove(args[0]); err != nil {
		return errors.NewCommandError(550, "remove", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdMove(s *Server, c *Conn, args []string) error {
	own, random, found := entryByID(s, args[0], c.user)
	if !found {
		return errors.NewCommandError(550, "move", fmt.Errorf("no such entry"))
	}
	if !auth.CanMove(c.rights, own, random) {
		return errors.NewCommandError(CodeNotAuthorized, "move", fmt.Errorf("not authorized"))
	}
	offset, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.NewCommandError(500, "move", fmt.Errorf("offset must be numeric"))
	}
	if err := s.Queue.Move(args[0], offset); err != nil {
		return errors.NewCommandError(550, "move", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdMoveAfter(s *Server, c *Conn, args []string) error {
	own, random, found := entryByID(s, args[0], c.user)
	if !found {
		return errors.NewCommandError(550, "moveafter", fmt.Errorf("no such entry"))
	}
	if !auth.CanMove(c.rights, own, random) {
		return errors.NewCommandError(CodeNotAuthorized, "moveafter", fmt.Errorf("not authorized"))
	}
	if err := s.Queue.MoveAfter(args[0], args[1]); err != nil {
		return errors.NewCommandError(550, "moveafter", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdAdopt(s *Server, c *Conn, args []string) error {
	if err := s.Queue.Adopt(args[0], c.user); err != nil {
		return errors.NewCommandError(550, "adopt", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdPlaying(s *Server, c *Conn, args []string) error {
	h := s.Queue.Head()
	if h == nil || !h.IsPlaying() {
		c.WriteResponse(CodeOKNoPayload, "")
		return nil
	}
	c.WriteResponse(CodeSingleValue, fmt.Sprintf("%s %s", h.ID, h.Path))
	return nil
}

func cmdQueue(s *Server, c *Conn, args []string) error {
	c.WriteResponse(CodeBodyFollows, "queue follows")
	c.WriteBody(strings.Split(s.Queue.Marshal(), "\n"))
	return nil
}

func cmdRecent(s *Server, c *Conn, args []string) error {
	c.WriteResponse(CodeBodyFollows, "recent follows")
	var lines []string
	for _, e := range s.Queue.Recent() {
		lines = append(lines, fmt.Sprintf("%s %s %s", e.ID, e.State, e.Path))
	}
	c.WriteBody(lines)
	return nil
}

func cmdEnable(s *Server, c *Conn, args []string) error {
	s.Queue.EnablePlay()
	c.WriteResponse(CodeOK, "ok")
	return nil
}
func cmdDisable(s *Server, c *Conn, args []string) error {
	s.Queue.DisablePlay()
	c.WriteResponse(CodeOK, "ok")
	return nil
}
func cmdEnabled(s *Server, c *Conn, args []string) error {
	c.WriteResponse(CodeSingleValue, strconv.FormatBool(s.Queue.PlayEnabled()))
	return nil
}
func cmdRandomEnable(s *Server, c *Conn, args []string) error {
	s.Queue.EnableRandom()
	c.WriteResponse(CodeOK, "ok")
	return nil
}
func cmdRandomDisable(s *Server, c *Conn, args []string) error {
	s.Queue.DisableRandom()
	c.WriteResponse(CodeOK, "ok")
	return nil
}
func cmdRandomEnabled(s *Server, c *Conn, args []string) error {
	c.WriteResponse(CodeSingleValue, strconv.FormatBool(s.Queue.RandomEnabled()))
	return nil
}

// --- catalog -------------------------------------------------------------

func registerCatalogCommands(d *Dispatcher) {
	d.Register(CommandSpec{Name: "dirs", MinArgs: 0, MaxArgs: 1, Rights: auth.Read, Handler: cmdDirs})
	d.Register(CommandSpec{Name: "files", MinArgs: 0, MaxArgs: 1, Rights: auth.Read, Handler: cmdFiles})
	d.Register(CommandSpec{Name: "allfiles", MinArgs: 0, MaxArgs: 1, Rights: auth.Read, Handler: cmdAllFiles})
	d.Register(CommandSpec{Name: "resolve", MinArgs: 1, MaxArgs: 1, Rights: auth.Read, Handler: cmdResolve})
	d.Register(CommandSpec{Name: "search", MinArgs: 1, MaxArgs: -1, Rights: auth.Read, Handler: cmdSearch})
	d.Register(CommandSpec{Name: "exists", MinArgs: 1, MaxArgs: 1, Rights: auth.Read, Handler: cmdExists})
	d.Register(CommandSpec{Name: "tags", MinArgs: 1, MaxArgs: 1, Rights: auth.Read, Handler: cmdTags})
	d.Register(CommandSpec{Name: "length", MinArgs: 1, MaxArgs: 1, Rights: auth.Read, Handler: cmdLength})
	d.Register(CommandSpec{Name: "part", MinArgs: 2, MaxArgs: 2, Rights: auth.Read, Handler: cmdPart})
	d.Register(CommandSpec{Name: "new", MinArgs: 0, MaxArgs: 1, Rights: auth.Read, Handler: cmdNew})
	d.Register(CommandSpec{Name: "stats", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdStats})
}

func cmdDirs(s *Server, c *Conn, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	entries, err := s.DB.List(context.Background(), dir)
	if err != nil {
		return errors.NewCommandError(550, "dirs", err)
	}
	c.WriteResponse(CodeBodyFollows, "dirs follow")
	var dirs []string
	for _, e := range entries {
		if strings.HasSuffix(e, "/") {
			dirs = append(dirs, e)
		}
	}
	c.WriteBody(dirs)
	return nil
}

func cmdFiles(s *Server, c *Conn, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	entries, err := s.DB.List(context.Background(), dir)
	if err != nil {
		return errors.NewCommandError(550, "files", err)
	}
	c.WriteResponse(CodeBodyFollows, "files follow")
	var files []string
	for _, e := range entries {
		if !strings.HasSuffix(e, "/") {
			files = append(files, e)
		}
	}
	c.WriteBody(files)
	return nil
}

func cmdResolve(s *Server, c *Conn, args []string) error {
	path, err := s.DB.Resolve(context.Background(), args[0])
	if err != nil {
		return errors.NewCommandError(550, "resolve", err)
	}
	c.WriteResponse(CodeSingleValue, path)
	return nil
}

func cmdSearch(s *Server, c *Conn, args []string) error {
	results, err := s.DB.Search(context.Background(), strings.Join(args, " "))
	if err != nil {
		return errors.NewCommandError(550, "search", err)
	}
	c.WriteResponse(CodeBodyFollows, "search results follow")
	c.WriteBody(results)
	return nil
}

func cmdExists(s *Server, c *Conn, args []string) error {
	_, err := s.DB.Resolve(context.Background(), args[0])
	c.WriteResponse(CodeSingleValue, strconv.FormatBool(err == nil))
	return nil
}

// cmdAllFiles returns every cataloged file under dir (or the whole
// catalog, given no argument), unlike "files" which only lists dir's
// direct children (spec.md §4.6 "allfiles").
func cmdAllFiles(s *Server, c *Conn, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = strings.Trim(args[0], "/")
	}
	paths, err := s.DB.Search(context.Background(), "")
	if err != nil {
		return errors.NewCommandError(550, "allfiles", err)
	}
	c.WriteResponse(CodeBodyFollows, "files follow")
	var out []string
	for _, p := range paths {
		if dir == "" || strings.HasPrefix(p, dir+"/") {
			out = append(out, p)
		}
	}
	c.WriteBody(out)
	return nil
}

// cmdTags lists every tag key/value stored for a track via
// Store.SetTrackTags (spec.md §4.6 "tags"). Neither rescan nor any command
// calls SetTrackTags, so the list is empty unless tags were stored directly.
func cmdTags(s *Server, c *Conn, args []string) error {
	tags, err := s.DB.GetTrackTags(context.Background(), args[0])
	if err != nil {
		return errors.NewCommandError(550, "tags", err)
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s %s", k, tags[k]))
	}
	c.WriteResponse(CodeBodyFollows, "tags follow")
	c.WriteBody(lines)
	return nil
}

// cmdLength reports a track's duration in seconds from its stored "length"
// tag, or 0 when that tag is not set (spec.md §4.6 "length"). Rescan does
// not record tags.
func cmdLength(s *Server, c *Conn, args []string) error {
	tags, err := s.DB.GetTrackTags(context.Background(), args[0])
	if err != nil {
		return errors.NewCommandError(550, "length", err)
	}
	v, ok := tags["length"]
	if !ok {
		v = "0"
	}
	c.WriteResponse(CodeSingleValue, v)
	return nil
}

// cmdPart reports a single named tag part of a track (e.g. "artist",
// "title"), erroring if it was never recorded (spec.md §4.6 "part").
func cmdPart(s *Server, c *Conn, args []string) error {
	tags, err := s.DB.GetTrackTags(context.Background(), args[0])
	if err != nil {
		return errors.NewCommandError(550, "part", err)
	}
	v, ok := tags[args[1]]
	if !ok {
		return errors.NewCommandError(CodeNotSet, "part", fmt.Errorf("no such part %q", args[1]))
	}
	c.WriteResponse(CodeSingleValue, v)
	return nil
}

// cmdNew lists up to the requested count of cataloged tracks,
// most-recently-indexed first (spec.md §4.6 "new"). No new_bias_age cutoff
// is applied: every cataloged track is a candidate.
func cmdNew(s *Server, c *Conn, args []string) error {
	max := 0
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.NewCommandError(500, "new", fmt.Errorf("count must be numeric"))
		}
		max = n
	}
	paths, err := s.DB.ListNewTracks(context.Background(), max)
	if err != nil {
		return errors.NewCommandError(550, "new", err)
	}
	c.WriteResponse(CodeBodyFollows, "new tracks follow")
	c.WriteBody(paths)
	return nil
}

// cmdStats runs the configured stats subprocess and reports its stdout as
// a body. Like rescan and reminder, it disables the requesting
// connection's reader for the duration of the subprocess rather than
// blocking the reactor (spec.md §5 "suspension points").
func cmdStats(s *Server, c *Conn, args []string) error {
	if s.Jobs == nil || len(s.StatsCommand) == 0 {
		return errors.NewCommandError(CodeBadInput, "stats", fmt.Errorf("stats not configured"))
	}
	c.reader.Disable()
	spec := jobs.Spec{Kind: jobs.KindStats, Command: s.StatsCommand[0], Args: s.StatsCommand[1:]}
	s.Jobs.Submit(spec, func(res jobs.Result) {
		c.reader.Enable()
		if res.Err != nil {
			c.WriteResponse(550, fmt.Sprintf("stats: %v", res.Err))
			return
		}
		c.WriteResponse(CodeBodyFollows, "stats follow")
		c.WriteBody(strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n"))
	})
	return nil
}

// --- preferences ---------------------------------------------------------

func registerPrefCommands(d *Dispatcher) {
	d.Register(CommandSpec{Name: "get", MinArgs: 2, MaxArgs: 2, Rights: auth.Prefs, Handler: cmdGet})
	d.Register(CommandSpec{Name: "set", MinArgs: 3, MaxArgs: 3, Rights: auth.Prefs, Handler: cmdSet})
	d.Register(CommandSpec{Name: "unset", MinArgs: 2, MaxArgs: 2, Rights: auth.Prefs, Handler: cmdUnset})
	d.Register(CommandSpec{Name: "prefs", MinArgs: 1, MaxArgs: 1, Rights: auth.Prefs, Handler: cmdPrefs})
	d.Register(CommandSpec{Name: "get-global", MinArgs: 1, MaxArgs: 1, Rights: auth.GlobalPrefs, Handler: cmdGetGlobal})
	d.Register(CommandSpec{Name: "set-global", MinArgs: 2, MaxArgs: 2, Rights: auth.GlobalPrefs, Handler: cmdSetGlobal})
	d.Register(CommandSpec{Name: "unset-global", MinArgs: 1, MaxArgs: 1, Rights: auth.GlobalPrefs, Handler: cmdUnsetGlobal})
}

func cmdGet(s *Server, c *Conn, args []string) error {
	v, err := s.DB.GetPref(context.Background(), args[0], args[1])
	if err == trackdb.ErrNotFound {
		return errors.NewCommandError(CodeNotSet, "get", fmt.Errorf("not set"))
	}
	if err != nil {
		return errors.NewCommandError(550, "get", err)
	}
	c.WriteResponse(CodeSingleValue, v)
	return nil
}

func cmdSet(s *Server, c *Conn, args []string) error {
	if err := s.DB.SetPref(context.Background(), args[0], args[1], args[2]); err != nil {
		return errors.NewCommandError(550, "set", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdUnset(s *Server, c *Conn, args []string) error {
	if err := s.DB.UnsetPref(context.Background(), args[0], args[1]); err != nil {
		return errors.NewCommandError(550, "unset", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

// cmdPrefs lists every preference key/value set on a track (spec.md §4.6
// "prefs"), the read counterpart to get/set/unset's single-key access.
func cmdPrefs(s *Server, c *Conn, args []string) error {
	prefs, err := s.DB.ListPrefs(context.Background(), args[0])
	if err != nil {
		return errors.NewCommandError(550, "prefs", err)
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s %s", k, prefs[k]))
	}
	c.WriteResponse(CodeBodyFollows, "prefs follow")
	c.WriteBody(lines)
	return nil
}

func cmdGetGlobal(s *Server, c *Conn, args []string) error {
	v, err := s.DB.GetGlobalPref(context.Background(), args[0])
	if err == trackdb.ErrNotFound {
		return errors.NewCommandError(CodeNotSet, "get-global", fmt.Errorf("not set"))
	}
	if err != nil {
		return errors.NewCommandError(550, "get-global", err)
	}
	c.WriteResponse(CodeSingleValue, v)
	return nil
}

func cmdSetGlobal(s *Server, c *Conn, args []string) error {
	if err := s.DB.SetGlobalPref(context.Background(), args[0], args[1]); err != nil {
		return errors.NewCommandError(550, "set-global", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdUnsetGlobal(s *Server, c *Conn, args []string) error {
	if err := s.DB.UnsetGlobalPref(context.Background(), args[0]); err != nil {
		return errors.NewCommandError(550, "unset-global", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

// --- users -----------------------------------------------------------

func registerUserCommands(d *Dispatcher) {
	d.Register(CommandSpec{Name: "adduser", MinArgs: 2, MaxArgs: 2, Rights: auth.Admin, Handler: cmdAddUser})
	d.Register(CommandSpec{Name: "deluser", MinArgs: 1, MaxArgs: 1, Rights: auth.Admin, Handler: cmdDelUser})
	d.Register(CommandSpec{Name: "edituser", MinArgs: 3, MaxArgs: 3, Handler: cmdEditUser})
	d.Register(CommandSpec{Name: "userinfo", MinArgs: 1, MaxArgs: 1, Rights: auth.UserInfo, Handler: cmdUserInfo})
	d.Register(CommandSpec{Name: "users", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdUsers})
	d.Register(CommandSpec{Name: "register", MinArgs: 2, MaxArgs: 2, Handler: cmdRegister})
	d.Register(CommandSpec{Name: "confirm", MinArgs: 2, MaxArgs: 2, Handler: cmdConfirm})
	d.Register(CommandSpec{Name: "reminder", MinArgs: 0, MaxArgs: 0, Rights: auth.Admin, Handler: cmdReminder})
}

func cmdAddUser(s *Server, c *Conn, args []string) error {
	// PasswordHash stores the plaintext password: the nonce/response
	// handshake (cmdUser) needs the real password to recompute
	// HMAC(password, nonce) against what the client sent, so there is
	// nothing else it could usefully hold.
	u := &trackdb.User{Username: args[0], PasswordHash: args[1], Rights: s.DefaultRights &^ auth.Register}
	if err := s.DB.PutUser(context.Background(), u); err != nil {
		return errors.NewCommandError(550, "adduser", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdDelUser(s *Server, c *Conn, args []string) error {
	if err := s.DB.DeleteUser(context.Background(), args[0]); err != nil {
		return errors.NewCommandError(550, "deluser", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdUserInfo(s *Server, c *Conn, args []string) error {
	u, err := s.DB.GetUser(context.Background(), args[0])
	if err != nil {
		return errors.NewCommandError(550, "userinfo", err)
	}
	c.WriteResponse(CodeSingleValue, fmt.Sprintf("%s %s", u.Username, u.Rights))
	return nil
}

func cmdUsers(s *Server, c *Conn, args []string) error {
	names, err := s.DB.ListUsers(context.Background())
	if err != nil {
		return errors.NewCommandError(550, "users", err)
	}
	c.WriteResponse(CodeBodyFollows, "users follow")
	c.WriteBody(names)
	return nil
}

// cmdEditUser mutates one field of a user record. adduser/deluser/edituser
// normally require admin, except that a user may always change their own
// email or password (spec.md §4.7 "Per-action semantics"); over a
// non-local transport, user management is further gated by remote_userman.
func cmdEditUser(s *Server, c *Conn, args []string) error {
	if !c.Authenticated() {
		return errors.NewCommandError(CodeAuthFailure, "edituser", fmt.Errorf("not authenticated"))
	}
	target, field, value := args[0], args[1], args[2]
	selfService := c.user == target && (field == "email" || field == "password")
	if !c.rights.HasAdmin() && !selfService {
		return errors.NewCommandError(CodeNotAuthorized, "edituser", fmt.Errorf("not authorized"))
	}
	if !selfService && !c.IsLocal() && !s.RemoteUserman {
		return errors.NewCommandError(CodeNotAuthorized, "edituser", fmt.Errorf("user management disabled over remote transports"))
	}
	u, err := s.DB.GetUser(context.Background(), target)
	if err != nil {
		return errors.NewCommandError(550, "edituser", fmt.Errorf("no such user"))
	}
	switch field {
	case "email":
		u.Email = value
	case "password":
		u.PasswordHash = value
	case "rights":
		if !c.rights.HasAdmin() {
			return errors.NewCommandError(CodeNotAuthorized, "edituser", fmt.Errorf("only admin may change rights"))
		}
		newRights, perr := auth.ParseRights(value)
		if perr != nil {
			return errors.NewCommandError(500, "edituser", perr)
		}
		u.Rights = newRights
	default:
		return errors.NewCommandError(500, "edituser", fmt.Errorf("unknown field %q", field))
	}
	if err := s.DB.PutUser(context.Background(), u); err != nil {
		return errors.NewCommandError(550, "edituser", err)
	}
	if field == "rights" {
		s.propagateRights(target, u.Rights)
		s.Bus.Publish(eventlog.RightsChangedMessage(u.Rights.String()))
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

// cmdRegister begins self-registration: the command line names the new
// account, and its password follows as a body (spec.md §4.6 "Body-carrying
// commands", "register"-class bodies). Self-registration as a whole is
// gated by the "register" bit in the configured default_rights — it never
// ends up on the account itself (confirm strips it).
func cmdRegister(s *Server, c *Conn, args []string) error {
	if c.Authenticated() {
		return errors.NewCommandError(CodeAuthFailure, "register", fmt.Errorf("already authenticated"))
	}
	if !s.DefaultRights.Has(auth.Register) {
		return errors.NewCommandError(CodeNotAuthorized, "register", fmt.Errorf("self-registration is disabled"))
	}
	username, email := args[0], args[1]
	s.beginBody(c, func(lines []string) error {
		if len(lines) == 0 || lines[0] == "" {
			return fmt.Errorf("register: body must carry a password")
		}
		if _, err := s.DB.GetUser(context.Background(), username); err == nil {
			return fmt.Errorf("register: username already taken")
		}
		u := &trackdb.User{
			Username:     username,
			PasswordHash: lines[0],
			Email:        email,
			PendingToken: uuid.NewString(),
		}
		if err := s.DB.PutUser(context.Background(), u); err != nil {
			return err
		}
		logger.Logger().Info("user registered, confirmation pending", "username", username)
		s.Bus.Publish(eventlog.StateMessage(fmt.Sprintf("user_register %s", username)))
		return nil
	})
	return nil
}

// cmdConfirm redeems a pending registration's token, activating the
// account with the configured default rights (spec.md §4.6 "confirm").
func cmdConfirm(s *Server, c *Conn, args []string) error {
	if c.Authenticated() {
		return errors.NewCommandError(CodeAuthFailure, "confirm", fmt.Errorf("already authenticated"))
	}
	username, token := args[0], args[1]
	u, err := s.DB.GetUser(context.Background(), username)
	if err != nil {
		return errors.NewCommandError(550, "confirm", fmt.Errorf("no such user"))
	}
	if u.PendingToken == "" || u.PendingToken != token {
		return errors.NewCommandError(CodeAuthFailure, "confirm", fmt.Errorf("bad confirmation token"))
	}
	u.PendingToken = ""
	u.Rights = s.DefaultRights &^ auth.Register
	if err := s.DB.PutUser(context.Background(), u); err != nil {
		return errors.NewCommandError(550, "confirm", err)
	}
	s.Bus.Publish(eventlog.StateMessage(fmt.Sprintf("user_confirm %s", username)))
	c.WriteResponse(CodeOK, "ok")
	return nil
}

// cmdReminder sweeps pending registrations whose last reminder predates
// ReminderInterval and re-sends via the configured reminder subprocess,
// like rescan and stats suspending this connection's reader for the
// duration rather than blocking the reactor (spec.md §5).
func cmdReminder(s *Server, c *Conn, args []string) error {
	if s.Jobs == nil || len(s.ReminderCommand) == 0 {
		return errors.NewCommandError(CodeBadInput, "reminder", fmt.Errorf("reminder not configured"))
	}
	usernames, err := s.DB.ListUsers(context.Background())
	if err != nil {
		return errors.NewCommandError(550, "reminder", err)
	}
	now := time.Now()
	var due []*trackdb.User
	for _, name := range usernames {
		u, err := s.DB.GetUser(context.Background(), name)
		if err != nil || u.PendingToken == "" {
			continue
		}
		if now.Sub(u.ReminderLastSent) < s.ReminderInterval {
			continue
		}
		due = append(due, u)
	}
	if len(due) == 0 {
		c.WriteResponse(CodeOK, "nothing to remind")
		return nil
	}
	jobArgs := append([]string{}, s.ReminderCommand[1:]...)
	for _, u := range due {
		jobArgs = append(jobArgs, fmt.Sprintf("%s:%s:%s", u.Username, u.Email, u.PendingToken))
	}
	c.reader.Disable()
	spec := jobs.Spec{Kind: jobs.KindReminder, Command: s.ReminderCommand[0], Args: jobArgs}
	s.Jobs.Submit(spec, func(res jobs.Result) {
		c.reader.Enable()
		if res.Err != nil {
			c.WriteResponse(550, fmt.Sprintf("reminder: %v", res.Err))
			return
		}
		for _, u := range due {
			u.ReminderLastSent = now
			_ = s.DB.PutUser(context.Background(), u)
		}
		c.WriteResponse(CodeOK, fmt.Sprintf("reminded %d", len(due)))
	})
	return nil
}

// --- RTP -----------------------------------------------------------------

func registerRTPCommands(d *Dispatcher) {
	d.Register(CommandSpec{Name: "rtp-request", MinArgs: 2, MaxArgs: 2, Rights: auth.Read, Handler: cmdRTPRequest})
	d.Register(CommandSpec{Name: "rtp-cancel", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdRTPCancel})
	d.Register(CommandSpec{Name: "rtp-address", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdRTPAddress})
}

func cmdRTPRequest(s *Server, c *Conn, args []string) error {
	addr, err := parseUDPAddr(args[0], args[1])
	if err != nil {
		return errors.NewCommandError(550, "rtp-request", err)
	}
	if s.RTP == nil {
		return errors.NewCommandError(550, "rtp-request", fmt.Errorf("rtp transmitter not configured"))
	}
	s.RTP.AddRecipient(addr)
	c.rtpDest = addr
	c.WriteResponse(CodeOK, "ok")
	return nil
}

func cmdRTPCancel(s *Server, c *Conn, args []string) error {
	if c.rtpDest != nil && s.RTP != nil {
		s.RTP.RemoveRecipient(c.rtpDest)
		c.rtpDest = nil
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}

// cmdRTPAddress reports the address packets are sent from, so a client can
// tell whether it needs rtp-request at all (e.g. a multicast/broadcast
// deployment the client already listens to) before asking for a unicast feed.
func cmdRTPAddress(s *Server, c *Conn, args []string) error {
	if s.RTP == nil {
		return errors.NewCommandError(550, "rtp-address", fmt.Errorf("rtp transmitter not configured"))
	}
	addr := s.RTP.LocalAddr()
	c.WriteResponse(CodeSingleValue, fmt.Sprintf("%s %d", addr.IP, addr.Port))
	return nil
}

// --- scheduled events ------------------------------------------------------

func registerScheduleCommands(d *Dispatcher) {
	d.Register(CommandSpec{Name: "schedule-list", MinArgs: 0, MaxArgs: 0, Rights: auth.Read, Handler: cmdScheduleList})
	d.Register(CommandSpec{Name: "schedule-get", MinArgs: 1, MaxArgs: 1, Rights: auth.Read, Handler: cmdScheduleGet})
	d.Register(CommandSpec{Name: "schedule-add", MinArgs: 3, MaxArgs: 5, Rights: auth.Admin, Handler: cmdScheduleAdd})
	d.Register(CommandSpec{Name: "schedule-del", MinArgs: 1, MaxArgs: 1, Rights: auth.Admin, Handler: cmdScheduleDel})
}

func cmdScheduleList(s *Server, c *Conn, args []string) error {
	events, err := s.DB.ListScheduledEvents(context.Background())
	if err != nil {
		return errors.NewCommandError(550, "schedule-list", err)
	}
	c.WriteResponse(CodeBodyFollows, "scheduled events follow")
	var lines []string
	for _, e := range events {
		lines = append(lines, e.ID)
	}
	c.WriteBody(lines)
	return nil
}

func cmdScheduleGet(s *Server, c *Conn, args []string) error {
	e, err := s.DB.GetScheduledEvent(context.Background(), args[0])
	if err == trackdb.ErrNotFound {
		return errors.NewCommandError(CodeNotSet, "schedule-get", fmt.Errorf("no such event"))
	}
	if err != nil {
		return errors.NewCommandError(550, "schedule-get", err)
	}
	c.WriteResponse(CodeBodyFollows, "event follows")
	c.WriteBody([]string{
		fmt.Sprintf("id %s", e.ID),
		fmt.Sprintf("submitter %s", e.Submitter),
		fmt.Sprintf("trigger %d", e.Trigger.Unix()),
		fmt.Sprintf("priority %d", e.Priority),
		fmt.Sprintf("action %s", e.Action),
		fmt.Sprintf("track %s", e.Track),
		fmt.Sprintf("pref %s", e.Pref),
		fmt.Sprintf("value %s", e.Value),
	})
	return nil
}

// cmdScheduleAdd accepts: <trigger-unix> <priority> play <track>
//                     or: <trigger-unix> <priority> set-global <pref> <value>
// an ID is assigned here (the caller never supplies one).
func cmdScheduleAdd(s *Server, c *Conn, args []string) error {
	trigger, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.NewCommandError(500, "schedule-add", fmt.Errorf("trigger must be a unix timestamp"))
	}
	priority, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.NewCommandError(500, "schedule-add", fmt.Errorf("priority must be numeric"))
	}
	e := &trackdb.ScheduledEvent{
		ID:        uuid.NewString(),
		Submitter: c.user,
		Trigger:   time.Unix(trigger, 0),
		Priority:  priority,
	}
	switch trackdb.ScheduledEventAction(args[2]) {
	case trackdb.ActionPlay:
		if len(args) != 4 {
			return errors.NewCommandError(500, "schedule-add", fmt.Errorf("play requires a track argument"))
		}
		e.Action = trackdb.ActionPlay
		e.Track = args[3]
	case trackdb.ActionSetGlobal:
		if len(args) != 5 {
			return errors.NewCommandError(500, "schedule-add", fmt.Errorf("set-global requires pref and value arguments"))
		}
		e.Action = trackdb.ActionSetGlobal
		e.Pref = args[3]
		e.Value = args[4]
	default:
		return errors.NewCommandError(500, "schedule-add", fmt.Errorf("unknown action %q", args[2]))
	}
	if err := s.DB.PutScheduledEvent(context.Background(), e); err != nil {
		return errors.NewCommandError(550, "schedule-add", err)
	}
	c.WriteResponse(CodeSingleValue, e.ID)
	return nil
}

func cmdScheduleDel(s *Server, c *Conn, args []string) error {
	if err := s.DB.DeleteScheduledEvent(context.Background(), args[0]); err != nil {
		return errors.NewCommandError(550, "schedule-del", err)
	}
	c.WriteResponse(CodeOK, "ok")
	return nil
}
