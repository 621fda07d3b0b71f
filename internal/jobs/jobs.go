// Package jobs runs the long-lived subprocess-backed operations the
// protocol layer triggers but must never block the reactor goroutine on:
// rescan, the registration-reminder sweep, and stats collection (spec.md
// §4.6 "rescan"/"reminder"/"stats"). It generalizes the teacher's
// hooks.HookManager/executionPool (a bounded worker pool that runs each
// hook's subprocess asynchronously and reports back via a logger) into a
// synchronous job runner that reports its result back onto the reactor
// goroutine via reactor.Reactor.Post, so a completed job can safely touch
// queue/trackdb state.
package jobs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/crazyscot/disorder/internal/reactor"
)

// Kind names one of the fixed job types the core schedules.
type Kind string

const (
	KindRescan   Kind = "rescan"
	KindReminder Kind = "reminder"
	KindStats    Kind = "stats"
)

// Result is what a finished job hands back to its completion callback.
type Result struct {
	Kind     Kind
	Stdout   string
	Err      error
	Duration time.Duration
}

// Spec describes one job invocation: which executable to run, with what
// arguments, and how long to let it run before it is killed.
type Spec struct {
	Kind    Kind
	Command string
	Args    []string
	Timeout time.Duration
}

// Runner is a bounded-concurrency subprocess job runner (grounded on the
// teacher's executionPool: a buffered channel of worker slots, acquired
// before a subprocess starts and released when it exits). Unlike the
// teacher's fire-and-forget hooks, each job's result is delivered back
// through reactor.Post so completion handlers run on the single state-owning
// goroutine.
type Runner struct {
	reactor *reactor.Reactor
	log     *slog.Logger
	workers chan struct{}

	mu     sync.Mutex
	active int
}

// NewRunner creates a Runner with concurrency worker slots. concurrency<=0
// defaults to 4 (rescan/reminder/stats are infrequent, unlike the teacher's
// per-connection webhook fan-out, so a small pool is plenty).
func NewRunner(r *reactor.Reactor, log *slog.Logger, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		reactor: r,
		log:     log,
		workers: make(chan struct{}, concurrency),
	}
}

// Submit runs spec's command in a worker goroutine and posts the result to
// done on the reactor goroutine once it completes. Submit itself never
// blocks the caller: the worker slot is acquired inside the worker
// goroutine.
func (rn *Runner) Submit(spec Spec, done func(Result)) {
	if err := spec.validate(); err != nil {
		if done != nil {
			rn.reactor.Post(func() { done(Result{Kind: spec.Kind, Err: err}) })
		}
		return
	}
	go func() {
		rn.workers <- struct{}{}
		rn.mu.Lock()
		rn.active++
		rn.mu.Unlock()

		timeout := spec.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		runErr := cmd.Run()
		elapsed := time.Since(start)

		if runErr != nil {
			rn.log.Warn("job failed", "kind", spec.Kind, "command", spec.Command, "err", runErr, "duration_ms", elapsed.Milliseconds())
		} else {
			rn.log.Debug("job finished", "kind", spec.Kind, "command", spec.Command, "duration_ms", elapsed.Milliseconds())
		}

		result := Result{Kind: spec.Kind, Stdout: stdout.String(), Err: runErr, Duration: elapsed}
		<-rn.workers
		rn.mu.Lock()
		rn.active--
		rn.mu.Unlock()
		if done != nil {
			rn.reactor.Post(func() { done(result) })
		}
	}()
}

// Active reports how many jobs are currently running, for diagnostics
// (spec.md §4.6 "stats").
func (rn *Runner) Active() int {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.active
}

// errNoCommand is returned by Spec.validate when Command is empty, which
// happens if a job kind is scheduled before its executable is configured.
var errNoCommand = fmt.Errorf("jobs: no command configured")

func (s Spec) validate() error {
	if s.Command == "" {
		return errNoCommand
	}
	return nil
}
