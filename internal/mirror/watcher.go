package mirror

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	// DefaultDebounce absorbs the burst of OS events a single save emits.
	DefaultDebounce = 300 * time.Millisecond

	watchBufferSize = 64
)

// RootWatcher streams debounced ChangeEvents for one root. Event kinds are
// advisory, the consumer re-stats before acting on them. A watcher runs
// once: after Stop, build a new one to resubscribe.
type RootWatcher struct {
	root     string
	ignore   *IgnoreList
	debounce time.Duration

	rawEvents chan notify.EventInfo
	events    chan ChangeEvent

	mu      sync.Mutex
	pending map[string]ChangeEvent
	timers  map[string]*time.Timer
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

func NewRootWatcher(root string, ignore *IgnoreList, debounce time.Duration) *RootWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &RootWatcher{
		root:      root,
		ignore:    ignore,
		debounce:  debounce,
		rawEvents: make(chan notify.EventInfo, watchBufferSize),
		events:    make(chan ChangeEvent, watchBufferSize),
		pending:   make(map[string]ChangeEvent),
		timers:    make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
}

func (w *RootWatcher) Start() error {
	if err := notify.Watch(w.root+"/...", w.rawEvents, notify.All); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	w.wg.Add(1)
	go w.loop()

	slog.Debug("watcher started", "root", w.root)
	return nil
}

func (w *RootWatcher) Events() <-chan ChangeEvent {
	return w.events
}

// Stop unsubscribes, flushes pending events and closes Events.
func (w *RootWatcher) Stop() {
	close(w.done)
	notify.Stop(w.rawEvents)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for path, timer := range w.timers {
		timer.Stop()
		if ev, ok := w.pending[path]; ok {
			w.deliver(ev)
		}
	}
	w.pending = nil
	w.timers = nil
	close(w.events)

	slog.Debug("watcher stopped", "root", w.root)
}

func (w *RootWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case raw, ok := <-w.rawEvents:
			if !ok {
				return
			}
			w.handleRaw(raw)
		}
	}
}

func (w *RootWatcher) handleRaw(raw notify.EventInfo) {
	path := raw.Path()
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if w.ignore.ShouldIgnore(filepath.ToSlash(rel)) {
		return
	}

	ev := ChangeEvent{Path: path, Kind: kindOf(raw.Event()), ObservedAt: time.Now()}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	// latest event wins, the timer restarts on every new one
	w.pending[path] = ev
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.flush(path)
	})
}

func (w *RootWatcher) flush(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	ev, ok := w.pending[path]
	if !ok {
		return
	}
	delete(w.pending, path)
	delete(w.timers, path)
	w.deliver(ev)
}

// deliver requires w.mu held. Sends and close(w.events) are serialized by
// mu, so a late flush can never send after close.
func (w *RootWatcher) deliver(ev ChangeEvent) {
	select {
	case w.events <- ev:
	default:
		slog.Warn("watcher dropped change", "reason", "channel full", "path", ev.Path)
	}
}

func kindOf(e notify.Event) EventKind {
	switch {
	case e&notify.Create != 0:
		return EventCreated
	case e&(notify.Remove|notify.Rename) != 0:
		return EventRemoved
	default:
		return EventModified
	}
}
