// Package protocol implements the line-oriented command protocol engine
// (spec.md §4.6): the line reader and NFC normalization, the shell-style
// argument splitter, the command dispatch table with per-command rights,
// body framing, and the authentication handshake. It is grounded on the
// teacher's internal/rtmp/rpc.Dispatcher (a name-keyed command table with
// arity/handler lookup and a "no handler registered" diagnostic) and
// internal/rtmp/conn.Connection (the per-connection read/write loop), here
// driven by the reactor's tied reader/writer instead of a raw goroutine
// pair.
package protocol

import (
	"fmt"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/errors"
)

// Handler implements one command. It returns a *errors.CommandError (via
// errors.NewCommandError) to control the exact response code; any other
// non-nil error renders as 550.
type Handler func(s *Server, c *Conn, args []string) error

// CommandSpec is one dispatch-table row: (name, min-args, max-args,
// rights-mask, handler) per spec.md §4.6 "Command table".
type CommandSpec struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 means unbounded
	Rights  auth.Rights
	Handler Handler
}

// Dispatcher routes a split command line to its registered handler.
type Dispatcher struct {
	table map[string]CommandSpec
}

// NewDispatcher builds an empty dispatcher; Register populates it.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{table: make(map[string]CommandSpec)}
}

// Register adds spec to the table, keyed by spec.Name.
func (d *Dispatcher) Register(spec CommandSpec) {
	d.table[spec.Name] = spec
}

// Dispatch looks up name, checks arity and rights, and invokes the
// handler. Unknown commands and arity violations are both 500 per spec.md
// §4.6; missing rights is 510.
func (d *Dispatcher) Dispatch(s *Server, c *Conn, name string, args []string) error {
	spec, ok := d.table[name]
	if !ok {
		return errors.NewCommandError(500, name, fmt.Errorf("unknown command"))
	}
	if len(args) < spec.MinArgs || (spec.MaxArgs >= 0 && len(args) > spec.MaxArgs) {
		return errors.NewCommandError(500, name, fmt.Errorf("wrong number of arguments"))
	}
	if spec.Rights != 0 && !c.rights.Has(spec.Rights) {
		return errors.NewCommandError(510, name, fmt.Errorf("not authorized"))
	}
	return spec.Handler(s, c, args)
}
