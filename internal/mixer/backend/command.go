package backend

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/crazyscot/disorder/internal/logger"
)

// Command pipes raw PCM to a long-lived subprocess's stdin, grounded on
// the teacher's ShellHook exec.Command construction — but started once at
// Activate and kept open across Play calls instead of spawned per event,
// since audio needs a persistent pipe rather than one-shot invocation.
type Command struct {
	path string
	args []string

	cmd    *exec.Cmd
	stdin  writeCloserFlusher
	active bool
}

type writeCloserFlusher interface {
	Write(p []byte) (int, error)
	Close() error
}

// NewCommand configures a command backend that will run path with args on
// Activate (e.g. configured as "aplay -f cd -").
func NewCommand(path string, args ...string) *Command {
	return &Command{path: path, args: args}
}

func (c *Command) Init() error { return nil }

func (c *Command) Activate() error {
	if c.active {
		return nil
	}
	cmd := exec.Command(c.path, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mixer/backend: command stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mixer/backend: command start: %w", err)
	}
	c.cmd = cmd
	c.stdin = stdin
	c.active = true
	return nil
}

func (c *Command) Play(pcm []byte) (int, error) {
	if !c.active {
		return 0, fmt.Errorf("mixer/backend: command not active")
	}
	n, err := c.stdin.Write(pcm)
	if err != nil {
		return n / BytesPerFrame, fmt.Errorf("mixer/backend: command write: %w", err)
	}
	return n / BytesPerFrame, nil
}

func (c *Command) Deactivate() error {
	if !c.active {
		return nil
	}
	c.active = false
	_ = c.stdin.Close()
	if c.cmd != nil {
		go func(cmd *exec.Cmd) {
			if err := cmd.Wait(); err != nil {
				logger.Logger().Warn("mixer command backend exited with error", "err", err)
			}
		}(c.cmd)
	}
	return nil
}

func (c *Command) BeforePoll() *time.Duration { return nil }
func (c *Command) Ready() bool                { return c.active }
