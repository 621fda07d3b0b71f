package protocol

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/errors"
	"github.com/crazyscot/disorder/internal/eventlog"
	"github.com/crazyscot/disorder/internal/jobs"
	"github.com/crazyscot/disorder/internal/logger"
	"github.com/crazyscot/disorder/internal/mixer"
	"github.com/crazyscot/disorder/internal/playlist"
	"github.com/crazyscot/disorder/internal/queue"
	"github.com/crazyscot/disorder/internal/reactor"
	"github.com/crazyscot/disorder/internal/trackdb"
)

// Transmitter is the slice of rtptx.Transmitter the protocol layer needs
// to service rtp-request/rtp-cancel, expressed as an interface to avoid a
// direct package dependency.
type Transmitter interface {
	AddRecipient(addr *net.UDPAddr)
	RemoveRecipient(addr *net.UDPAddr)
	LocalAddr() *net.UDPAddr
}

// Server holds every dependency command handlers touch: the queue engine,
// the track database, the event bus, the signing keyring, and the mixer/
// RTP output path. One Server instance serves every connection accepted by
// cmd/disorderd's listeners.
type Server struct {
	Reactor       *reactor.Reactor
	Queue         *queue.Engine
	DB            trackdb.Store
	Bus           *eventlog.Bus
	Keys          *auth.KeyRing
	HashAlgo      auth.HashAlgo
	DefaultRights auth.Rights
	Mixer         *mixer.Driver
	RTP           Transmitter
	RemoteUserman bool
	ScratchJingles []string

	// Playlists tracks playlist-lock/playlist-unlock ownership across all
	// connections; never nil after NewServer.
	Playlists *playlist.Locker

	// Jobs runs the rescan/reminder/stats subprocesses configured by
	// RescanCommand/ReminderCommand/StatsCommand; nil disables all three
	// commands.
	Jobs             *jobs.Runner
	RescanCommand    []string
	ReminderCommand  []string
	StatsCommand     []string
	ReminderInterval time.Duration

	// CookieSecret re-derives signing keys for revoke (spec.md §4.7), which
	// needs to hard-reset Keys rather than grace-period rotate it.
	CookieSecret []byte
	// CookieLoginLifetime bounds a make-cookie-issued Cookie.Expiry.
	CookieLoginLifetime time.Duration

	// OnReconfigure/OnShutdown let cmd/disorderd wire the config holder's
	// Reload and the process's graceful-shutdown trigger into the
	// protocol's admin commands without this package depending on either.
	OnReconfigure func() error
	OnShutdown    func()

	// conns tracks live connections by authenticated username, so edituser
	// can push a rights change out to every session already logged in as
	// that user (spec.md §4.7 "Rights change propagation"). Like Conn,
	// mutated only from the reactor goroutine.
	conns map[string][]*Conn

	dispatcher *Dispatcher
	connSeq    atomic.Uint64
}

// NewServer wires a Server with the default command table registered.
func NewServer(r *reactor.Reactor, q *queue.Engine, db trackdb.Store, bus *eventlog.Bus, keys *auth.KeyRing) *Server {
	s := &Server{
		Reactor:       r,
		Queue:         q,
		DB:            db,
		Bus:           bus,
		Keys:          keys,
		HashAlgo:      auth.SHA256,
		DefaultRights: auth.Read | auth.Play,
		Playlists:     playlist.NewLocker(0),
		conns:         make(map[string][]*Conn),
	}
	s.dispatcher = NewDispatcher()
	registerCommands(s.dispatcher)
	return s
}

// Accept wraps conn in a reader/writer tie, sends the greeting, and begins
// dispatching lines. isLocal grants the _local right (spec.md §4.7).
func (s *Server) Accept(conn net.Conn, isLocal bool) error {
	id := fmt.Sprintf("conn-%d", s.connSeq.Add(1))
	remote := conn.RemoteAddr().String()
	c := newConn(id, remote, isLocal, nil, nil, nil)
	if isLocal {
		c.rights |= auth.Local
	}

	nonce, err := auth.NewNonce()
	if err != nil {
		return err
	}
	c.nonce = nonce

	log := logger.WithConn(logger.Logger(), id, remote)

	onData := func(data []byte, eof bool) int {
		consumed := 0
		for {
			idx := strings.IndexByte(string(data[consumed:]), '\n')
			if idx < 0 {
				break
			}
			line := string(data[consumed : consumed+idx])
			consumed += idx + 1
			s.handleLine(c, log, strings.TrimSuffix(line, "\r"))
		}
		if eof {
			s.disconnect(c)
		}
		return consumed
	}
	onReadError := func(error) { s.disconnect(c) }

	tie, rh, wh, err := reactor.NewTie(s.Reactor, conn, id, reactor.WriterOptions{}, onData, onReadError, nil)
	if err != nil {
		return err
	}
	c.tie, c.reader, c.writer = tie, rh, wh

	c.WriteResponse(CodeGreeting, fmt.Sprintf("2 %s %s", s.HashAlgo, nonce))
	return nil
}

func (s *Server) disconnect(c *Conn) {
	if c.sub != nil {
		s.Bus.Unsubscribe(c.sub)
	}
	if c.rtpDest != nil && s.RTP != nil {
		s.RTP.RemoveRecipient(c.rtpDest)
	}
	s.Playlists.ReleaseAll(c.id)
	s.unregisterAuth(c)
}

// registerAuth records c as a live session for its now-authenticated
// username; call once a login command (user/cookie) succeeds.
func (s *Server) registerAuth(c *Conn) {
	s.conns[c.user] = append(s.conns[c.user], c)
}

// unregisterAuth removes c from the live-session registry; a no-op for a
// connection that never authenticated.
func (s *Server) unregisterAuth(c *Conn) {
	if c.user == "" {
		return
	}
	list := s.conns[c.user]
	for i, other := range list {
		if other == c {
			s.conns[c.user] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// propagateRights pushes newRights into every live connection authenticated
// as username, preserving each connection's own _local bit (spec.md §4.7
// "Rights change propagation").
func (s *Server) propagateRights(username string, newRights auth.Rights) {
	for _, c := range s.conns[username] {
		c.rights = newRights | (c.rights & auth.Local)
	}
}

func (s *Server) handleLine(c *Conn, log *slog.Logger, raw string) {
	line := NormalizeLine(raw)

	if c.mode == ModeBody {
		if IsBodyTerminator(line) {
			handler := c.bodyHandler
			lines := c.bodyLines
			c.mode = ModeCommand
			c.bodyHandler = nil
			c.bodyLines = nil
			if handler != nil {
				if err := handler(lines); err != nil {
					s.writeErr(c, "body", err)
					return
				}
			}
			c.WriteResponse(CodeOK, "ok")
			return
		}
		c.bodyLines = append(c.bodyLines, UnescapeBodyLine(line))
		return
	}

	args, err := SplitArgs(line, false)
	if err != nil {
		log.Warn("malformed command line", "err", err)
		s.writeErr(c, "split", err)
		return
	}
	if len(args) == 0 {
		return
	}
	name := args[0]
	rest := args[1:]

	if err := s.dispatcher.Dispatch(s, c, name, rest); err != nil {
		s.writeErr(c, name, err)
		return
	}
}

func (s *Server) writeErr(c *Conn, op string, err error) {
	code := errors.ResponseCode(err)
	c.WriteResponse(code, fmt.Sprintf("%s: %v", op, err))
}

// beginBody switches c into body-collection mode; handler runs once the
// terminator is read, receiving the accumulated (unescaped) lines.
func (s *Server) beginBody(c *Conn, handler func(lines []string) error) {
	c.mode = ModeBody
	c.bodyLines = nil
	c.bodyHandler = handler
}

func parseUDPAddr(host, port string) (*net.UDPAddr, error) {
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", port)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("invalid address %q", host)
	}
	return &net.UDPAddr{IP: ip, Port: p}, nil
}
