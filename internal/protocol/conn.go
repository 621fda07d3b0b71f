package protocol

import (
	"net"
	"time"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/eventlog"
	"github.com/crazyscot/disorder/internal/reactor"
)

// Mode is a connection's line-reader variant (spec.md §3 "Connection").
type Mode int

const (
	ModeCommand Mode = iota
	ModeBody
)

// Conn is one client connection's protocol-level state (spec.md §3
// "Connection"). It is only ever touched from the reactor goroutine.
type Conn struct {
	id         string
	remoteAddr string
	isLocal    bool

	tie    *reactor.Tie
	reader *reactor.ReaderHandle
	writer *reactor.WriterHandle

	user   string
	rights auth.Rights
	nonce  string

	mode        Mode
	bodyLines   []string
	bodyHandler func(lines []string) error

	sub *eventlog.Subscription

	rtpDest          *net.UDPAddr
	playlistLock     string
	playlistLockedAt time.Time
}

// newConn returns the protocol state for a freshly accepted connection
// whose reader and writer are already registered with the reactor. The
// connection starts in command mode.
func newConn(id, remoteAddr string, isLocal bool, tie *reactor.Tie, reader *reactor.ReaderHandle, writer *reactor.WriterHandle) *Conn {
	return &Conn{
		id:         id,
		remoteAddr: remoteAddr,
		isLocal:    isLocal,
		tie:        tie,
		reader:     reader,
		writer:     writer,
		mode:       ModeCommand,
	}
}

// WriteLine satisfies eventlog.Subscriber, queuing line plus a trailing
// newline on the connection's writer.
func (c *Conn) WriteLine(line string) error {
	c.writer.Enqueue([]byte(line + "\n"))
	return nil
}

// WriteResponse renders a response code line: "<code> <text>\n".
func (c *Conn) WriteResponse(code int, text string) {
	_ = c.WriteLine(responseLine(code, text))
}

// WriteBody streams a multi-line body terminated by a lone "." (spec.md
// §4.6 "253" framing), escaping any leading '.' on a data line.
func (c *Conn) WriteBody(lines []string) {
	for _, l := range lines {
		_ = c.WriteLine(EscapeBodyLine(l))
	}
	_ = c.WriteLine(".")
}

// HasAdmin satisfies eventlog.Rights.
func (c *Conn) HasAdmin() bool { return c.rights.Has(auth.Admin) }

// IsLocal reports whether the connection arrived over a Unix socket
// (spec.md §4.7 "_local" is granted only there).
func (c *Conn) IsLocal() bool { return c.isLocal }

// Authenticated reports whether a user has successfully logged in.
func (c *Conn) Authenticated() bool { return c.user != "" }
