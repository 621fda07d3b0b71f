package reactor

import "os/exec"

// ChildHandle represents a subprocess registered with the reactor for
// reaping. Real SIGCHLD-driven waitpid(2) has no portable Go equivalent;
// this package reproduces the same contract — "the callback is invoked
// with exit status once, on the reactor goroutine, after the process
// exits" — by running exec.Cmd.Wait on a dedicated goroutine and posting
// the result back onto the reactor's single event channel.
type ChildHandle struct {
	cmd *exec.Cmd
}

// Pid returns the subprocess's process id.
func (c *ChildHandle) Pid() int {
	if c == nil || c.cmd == nil || c.cmd.Process == nil {
		return -1
	}
	return c.cmd.Process.Pid
}

// RegisterChild starts cmd (if not already started) and arranges for cb to
// run on the reactor goroutine once the process exits, carrying its exit
// error (nil on success; *exec.ExitError otherwise — resource usage is not
// portably available from os/exec, so callers wanting rusage-equivalent
// data should have the subprocess report it over its stdout pipe instead).
func (r *Reactor) RegisterChild(cmd *exec.Cmd, cb func(error)) (*ChildHandle, error) {
	if cmd.Process == nil {
		if err := cmd.Start(); err != nil {
			return nil, err
		}
	}
	h := &ChildHandle{cmd: cmd}
	go func() {
		err := cmd.Wait()
		r.post(func() { cb(err) })
	}()
	return h, nil
}
