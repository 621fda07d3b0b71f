package config

import (
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Holder is a hot-reloadable config: atomic reads, fsnotify-triggered
// reloads debounced against editors that write via temp-file-then-rename.
// Grounded directly on ManuGH-xg2g's ConfigHolder/watchLoop, adapted from
// zerolog to this module's slog-based logger and from a push-channel
// listener API to a single onReload callback (the only consumer is
// cmd/disorderd's reconfigure wiring).
type Holder struct {
	path     string
	snapshot atomic.Pointer[System]
	log      *slog.Logger
	watcher  *fsnotify.Watcher
	onReload func(*System)
	stop     chan struct{}
}

// NewHolder loads path once and returns a Holder wrapping the result.
func NewHolder(path string, log *slog.Logger) (*Holder, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	h := &Holder{path: path, log: log, stop: make(chan struct{})}
	h.snapshot.Store(cfg)
	return h, nil
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() *System { return h.snapshot.Load() }

// OnReload registers the callback invoked after every successful reload, on
// whichever goroutine called Reload: the watcher's for on-disk edits, or
// the caller's (in cmd/disorderd, the reactor's, for `reconfigure`).
// Callers that need to touch reactor-owned state must re-post via
// reactor.Reactor.Post themselves.
func (h *Holder) OnReload(fn func(*System)) { h.onReload = fn }

// Reload re-reads h.path; on success it swaps the snapshot and invokes
// OnReload's callback. On failure the previous snapshot is kept.
func (h *Holder) Reload() error {
	cfg, err := Load(h.path)
	if err != nil {
		h.log.Error("config reload failed, keeping previous configuration", "path", h.path, "err", err)
		return err
	}
	h.snapshot.Store(cfg)
	h.log.Info("config reloaded", "path", h.path)
	if h.onReload != nil {
		h.onReload(cfg)
	}
	return nil
}

// Watch starts an fsnotify watch on the config file's directory (watching
// the directory, not the file, survives editors that replace the file via
// temp-write-then-rename) and debounces bursts of events into one Reload.
func (h *Holder) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	h.watcher = w
	dir := filepath.Dir(h.path)
	base := filepath.Base(h.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	go h.watchLoop(base)
	return nil
}

const debounce = 300 * time.Millisecond

func (h *Holder) watchLoop(base string) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-h.stop:
			if timer != nil {
				timer.Stop()
			}
			_ = h.watcher.Close()
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if err := h.Reload(); err != nil {
				h.log.Warn("automatic config reload failed", "err", err)
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn("config watcher error", "err", err)
		}
	}
}

// Stop ends the watch goroutine, if one was started.
func (h *Holder) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}
