// Package decoder spawns the per-format subprocess that converts a track
// file to a uniform PCM stream on a pipe (spec.md §1 "Decoder plugins"),
// grounded on the teacher's ShellHook subprocess pattern (os/exec,
// captured stdout, context-bound timeout) but wired into the reactor's
// child-reap and buffered-reader facilities instead of being a one-shot
// blocking exec.
package decoder

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/crazyscot/disorder/internal/logger"
	"github.com/crazyscot/disorder/internal/queue"
	"github.com/crazyscot/disorder/internal/reactor"
)

// Config maps a lowercased file extension (without the dot) to the
// executable that decodes it, e.g. {"flac": "/usr/bin/disorder-decode-flac"}.
type Config map[string]string

// Pool spawns and tracks decoder subprocesses, implementing
// queue.Preparer. Each running subprocess's stdout is streamed to onFrames
// as it arrives; the subprocess's exit, whatever its status, reports onDone.
type Pool struct {
	r        *reactor.Reactor
	cfg      Config
	timeout  time.Duration
	onFrames func(id string, pcm []byte)
	onDone   func(id string, exitStatus int)
}

// NewPool builds a decoder pool bound to r. timeout bounds how long a
// subprocess may run without exiting before it is killed; zero disables
// the bound.
func NewPool(r *reactor.Reactor, cfg Config, timeout time.Duration, onFrames func(id string, pcm []byte), onDone func(id string, exitStatus int)) *Pool {
	return &Pool{r: r, cfg: cfg, timeout: timeout, onFrames: onFrames, onDone: onDone}
}

type handle struct {
	cmd *exec.Cmd
}

func (h *handle) Kill() {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

var _ queue.DecoderHandle = (*handle)(nil)

// Prepare spawns the decoder for e's extension if e is not already
// prepared; repeated calls for the same entry are no-ops because the
// queue engine only calls Prepare once per entry (Entry.Prepared gates
// it), matching spec.md §4.3's idempotent-preparation requirement.
func (p *Pool) Prepare(e *queue.Entry) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(e.Path), "."))
	path, ok := p.cfg[ext]
	if !ok {
		logger.Logger().Error("no decoder configured for extension", "ext", ext, "entry_id", e.ID)
		if p.onDone != nil {
			p.onDone(e.ID, -1)
		}
		return
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	cmd := exec.CommandContext(ctx, path, e.Path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if cancel != nil {
			cancel()
		}
		logger.Logger().Error("decoder stdout pipe failed", "err", err, "entry_id", e.ID)
		if p.onDone != nil {
			p.onDone(e.ID, -1)
		}
		return
	}
	if err := cmd.Start(); err != nil {
		if cancel != nil {
			cancel()
		}
		logger.Logger().Error("decoder spawn failed", "err", err, "entry_id", e.ID)
		if p.onDone != nil {
			p.onDone(e.ID, -1)
		}
		return
	}
	h := &handle{cmd: cmd}
	e.Decoder = h

	_, err = p.r.RegisterReader(stdout, fmt.Sprintf("decoder:%s", e.ID), func(data []byte, eof bool) int {
		if len(data) > 0 && p.onFrames != nil {
			p.onFrames(e.ID, data)
		}
		return len(data)
	}, func(err error) {
		logger.Logger().Warn("decoder stdout read error", "err", err, "entry_id", e.ID)
	})
	if err != nil {
		h.Kill()
		if cancel != nil {
			cancel()
		}
		if p.onDone != nil {
			p.onDone(e.ID, -1)
		}
		return
	}

	_, err = p.r.RegisterChild(cmd, func(waitErr error) {
		if cancel != nil {
			cancel()
		}
		status := exitStatus(cmd, waitErr)
		if p.onDone != nil {
			p.onDone(e.ID, status)
		}
	})
	if err != nil {
		h.Kill()
		if cancel != nil {
			cancel()
		}
	}
}

func exitStatus(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
