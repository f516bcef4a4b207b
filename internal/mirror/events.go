package mirror

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies one observed filesystem change.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventRemoved  EventKind = "removed"
)

// ChangeEvent is a single observed difference between disk and manifest for
// one path. Events are ephemeral; losing one only delays work until the
// next scan. Later events for the same path supersede earlier ones.
type ChangeEvent struct {
	Path       string
	Kind       EventKind
	ObservedAt time.Time
}

// Status is the sync state of a manifest entry.
type Status string

const (
	// StatusSynced means the store confirmed the entry's checksum.
	StatusSynced Status = "synced"
	// StatusPending means an upload is owed or in flight.
	StatusPending Status = "pending"
	// StatusFailed means retries were exhausted; the path stays failed
	// until it changes again.
	StatusFailed Status = "failed"
)

// SyncEventType says what a SyncEvent describes.
type SyncEventType string

const (
	// SyncEventStatus is a manifest entry status transition.
	SyncEventStatus SyncEventType = "status"
	// SyncEventUntracked is an entry leaving the manifest.
	SyncEventUntracked SyncEventType = "untracked"
	// SyncEventRootDown / SyncEventRootUp report watched root availability.
	SyncEventRootDown SyncEventType = "root_down"
	SyncEventRootUp   SyncEventType = "root_up"
)

// SyncEvent is what the engine reports to the outside world. The engine
// never renders these itself; subscribers (logs, UI) decide presentation.
type SyncEvent struct {
	ID    string
	Type  SyncEventType
	Path  string
	Key   string
	From  Status
	To    Status
	Error string
	At    time.Time
}

func newStatusEvent(path, key string, from, to Status, cause error) SyncEvent {
	ev := SyncEvent{
		ID:   uuid.NewString(),
		Type: SyncEventStatus,
		Path: path,
		Key:  key,
		From: from,
		To:   to,
		At:   time.Now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return ev
}

func newUntrackedEvent(path, key string, from Status) SyncEvent {
	return SyncEvent{
		ID:   uuid.NewString(),
		Type: SyncEventUntracked,
		Path: path,
		Key:  key,
		From: from,
		At:   time.Now().UTC(),
	}
}

func newRootEvent(root string, up bool) SyncEvent {
	t := SyncEventRootDown
	if up {
		t = SyncEventRootUp
	}
	return SyncEvent{
		ID:   uuid.NewString(),
		Type: t,
		Path: root,
		At:   time.Now().UTC(),
	}
}

const eventBufferSize = 16

// EventBus fans SyncEvents out to subscribers. Publishing never blocks;
// a subscriber that falls behind loses events, not the engine.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan SyncEvent]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[chan SyncEvent]struct{}),
	}
}

func (b *EventBus) Subscribe() chan SyncEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan SyncEvent, eventBufferSize)
	b.subs[ch] = struct{}{}
	return ch
}

func (b *EventBus) Unsubscribe(ch chan SyncEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *EventBus) Publish(ev SyncEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("event subscriber lagging, dropping", "type", ev.Type, "path", ev.Path)
		}
	}
}
