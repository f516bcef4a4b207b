package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/driftsync/drift/internal/blob"
	"github.com/driftsync/drift/internal/queue"
	"github.com/dustin/go-humanize"
)

// queue priorities, lower runs first
const (
	priorityLive  = 1
	priorityScan  = 2
	priorityRetry = 3
)

const (
	DefaultMaxConcurrent = 100
	DefaultRetryLimit    = 3

	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = time.Minute
)

// ErrChecksumMismatch reports that the store confirmed a checksum other
// than the one computed locally before the upload.
var ErrChecksumMismatch = errors.New("store checksum mismatch")

// ObjectStore is the slice of the blob client the scheduler needs.
type ObjectStore interface {
	PutObject(ctx context.Context, params *blob.PutObjectParams) (*blob.PutObjectResponse, error)
	DeleteObject(ctx context.Context, key string) (bool, error)
}

type SchedulerConfig struct {
	MaxConcurrent int
	RetryLimit    int
	DeleteRemote  bool
	AgentID       string

	// retry pacing, zero values take the defaults
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Scheduler runs uploads and removals over a bounded worker pool. At most
// one task per path is in flight; newer events for a busy path are parked
// in deferred and the latest one runs once the current task finishes.
type Scheduler struct {
	cfg      SchedulerConfig
	manifest *Manifest
	store    ObjectStore
	keys     *KeyMap
	sums     *Checksummer
	bus      *EventBus

	mu       sync.Mutex
	queue    *queue.PriorityQueue[ChangeEvent]
	inflight map[string]struct{}
	deferred map[string]ChangeEvent

	notifyCh chan struct{}
	wg       sync.WaitGroup

	// taskCtx outlives the run context so in-flight tasks can finish
	// during the shutdown grace period
	taskCtx    context.Context
	taskCancel context.CancelFunc
}

func NewScheduler(cfg SchedulerConfig, manifest *Manifest, store ObjectStore, keys *KeyMap, bus *EventBus) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = retryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = retryMaxDelay
	}

	taskCtx, taskCancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		manifest:   manifest,
		store:      store,
		keys:       keys,
		sums:       NewChecksummer(),
		bus:        bus,
		queue:      queue.NewPriorityQueue[ChangeEvent](),
		inflight:   make(map[string]struct{}),
		deferred:   make(map[string]ChangeEvent),
		notifyCh:   make(chan struct{}, 1),
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(s.cfg.MaxConcurrent)
	for range s.cfg.MaxConcurrent {
		go func() {
			defer s.wg.Done()
			s.worker(ctx)
		}()
	}
	slog.Debug("scheduler started", "workers", s.cfg.MaxConcurrent)
}

// Stop waits for in-flight tasks after the run context is canceled. Tasks
// still running when grace expires are aborted and their entries keep the
// status they had, the next run picks them up again.
func (s *Scheduler) Stop(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("scheduler grace expired, aborting in-flight tasks")
		s.taskCancel()
		<-done
	}
	s.taskCancel()
}

func (s *Scheduler) Enqueue(ev ChangeEvent, priority int) {
	s.mu.Lock()
	if _, busy := s.inflight[ev.Path]; busy {
		s.deferLocked(ev)
		s.mu.Unlock()
		return
	}
	s.queue.Enqueue(ev, priority)
	s.mu.Unlock()
	s.wake()
}

// deferLocked parks the newest event for a busy path, requires s.mu held.
func (s *Scheduler) deferLocked(ev ChangeEvent) {
	if prev, ok := s.deferred[ev.Path]; !ok || ev.ObservedAt.After(prev.ObservedAt) {
		s.deferred[ev.Path] = ev
	}
}

func (s *Scheduler) wake() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notifyCh:
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	for ctx.Err() == nil {
		ev, ok := s.next()
		if !ok {
			return
		}
		// more items may be queued, let another worker start on them
		s.wake()
		s.process(ev)
		s.finish(ev.Path)
	}
}

// next pops the first runnable event, deferring events for busy paths.
func (s *Scheduler) next() (ChangeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		ev, ok := s.queue.Dequeue()
		if !ok {
			return ChangeEvent{}, false
		}
		if _, busy := s.inflight[ev.Path]; busy {
			s.deferLocked(ev)
			continue
		}
		s.inflight[ev.Path] = struct{}{}
		return ev, true
	}
}

func (s *Scheduler) finish(path string) {
	s.mu.Lock()
	delete(s.inflight, path)
	ev, ok := s.deferred[path]
	if ok {
		delete(s.deferred, path)
		s.queue.Enqueue(ev, priorityLive)
	}
	s.mu.Unlock()
	if ok {
		s.wake()
	}
}

func (s *Scheduler) process(ev ChangeEvent) {
	if ev.Kind == EventRemoved {
		s.processRemove(ev)
		return
	}
	s.processUpload(ev)
}

func (s *Scheduler) processUpload(ev ChangeEvent) {
	key, err := s.keys.KeyFor(ev.Path)
	if err != nil {
		slog.Warn("mirror", "op", "upload", "status", "skipped", "path", ev.Path, "error", err)
		return
	}

	entry, err := s.manifest.Get(ev.Path)
	if err != nil {
		slog.Error("mirror", "op", "upload", "status", "manifest read failed", "path", ev.Path, "error", err)
		return
	}

	info, err := os.Stat(ev.Path)
	if errors.Is(err, fs.ErrNotExist) {
		s.processRemove(ChangeEvent{Path: ev.Path, Kind: EventRemoved, ObservedAt: time.Now()})
		return
	}
	if err != nil {
		if entry == nil {
			entry = &ManifestEntry{Path: ev.Path, Status: StatusPending}
		}
		s.failUpload(ev.Path, key, entry, err)
		return
	}
	if !info.Mode().IsRegular() {
		return
	}

	next := &ManifestEntry{
		Path:        ev.Path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Status:      StatusPending,
		LastAttempt: time.Now(),
	}
	from := Status("")
	if entry != nil {
		from = entry.Status
		// keep the last store-confirmed checksum until the new one confirms
		next.Checksum = entry.Checksum
		next.FailureCount = entry.FailureCount
		if entry.Status == StatusFailed && metadataChanged(entry, info) {
			// changed content gets a fresh retry budget
			next.FailureCount = 0
		}
	}

	sum, err := s.sums.Sum(ev.Path, info)
	if errors.Is(err, fs.ErrNotExist) {
		s.processRemove(ChangeEvent{Path: ev.Path, Kind: EventRemoved, ObservedAt: time.Now()})
		return
	}
	if err != nil {
		s.failUpload(ev.Path, key, next, err)
		return
	}

	if entry != nil && entry.Status == StatusSynced && entry.Checksum == sum {
		// contents unchanged, refresh metadata so scans stop flagging it
		next.Status = StatusSynced
		next.LastAttempt = entry.LastAttempt
		next.FailureCount = 0
		if err := s.manifest.Upsert(next); err != nil {
			slog.Warn("mirror", "op", "upload", "status", "manifest write failed", "path", ev.Path, "error", err)
		}
		slog.Debug("mirror", "op", "upload", "status", "skipped", "reason", "contents unchanged", "path", ev.Path)
		return
	}

	if err := s.manifest.Upsert(next); err != nil {
		slog.Error("mirror", "op", "upload", "status", "manifest write failed", "path", ev.Path, "error", err)
		return
	}
	if from != StatusPending {
		s.bus.Publish(newStatusEvent(ev.Path, key, from, StatusPending, nil))
	}

	metadata := map[string]string{
		blob.MetaChecksum:     sum,
		blob.MetaOriginalPath: blob.EncodeMetadataValue(ev.Path),
		blob.MetaFileSize:     strconv.FormatInt(info.Size(), 10),
	}
	if s.cfg.AgentID != "" {
		metadata[blob.MetaAgentID] = s.cfg.AgentID
	}

	resp, err := s.store.PutObject(s.taskCtx, &blob.PutObjectParams{
		Key:      key,
		FilePath: ev.Path,
		Size:     info.Size(),
		Checksum: sum,
		Metadata: metadata,
	})
	if err == nil && resp.Checksum != sum {
		err = fmt.Errorf("%w: local %s, store %s", ErrChecksumMismatch, sum, resp.Checksum)
	}
	if err != nil {
		if s.taskCtx.Err() != nil {
			// shutdown aborted the put, the entry stays pending
			return
		}
		s.failUpload(ev.Path, key, next, err)
		return
	}

	// the file may have changed while the put ran, in which case this
	// result describes bytes the disk no longer holds
	latest, statErr := os.Stat(ev.Path)
	if statErr != nil || latest.Size() != info.Size() || !latest.ModTime().Equal(info.ModTime()) {
		kind := EventModified
		if errors.Is(statErr, fs.ErrNotExist) {
			kind = EventRemoved
		}
		slog.Debug("mirror", "op", "upload", "status", "stale", "path", ev.Path)
		s.Enqueue(ChangeEvent{Path: ev.Path, Kind: kind, ObservedAt: time.Now()}, priorityLive)
		return
	}

	next.Status = StatusSynced
	next.Checksum = sum
	next.FailureCount = 0
	if err := s.manifest.Upsert(next); err != nil {
		slog.Error("mirror", "op", "upload", "status", "manifest write failed", "path", ev.Path, "error", err)
		return
	}
	s.bus.Publish(newStatusEvent(ev.Path, key, StatusPending, StatusSynced, nil))
	slog.Info("mirror", "op", "upload", "status", "synced", "path", ev.Path, "key", key, "size", humanize.IBytes(uint64(info.Size())))
}

func (s *Scheduler) failUpload(path, key string, entry *ManifestEntry, cause error) {
	from := entry.Status
	entry.FailureCount++
	entry.LastAttempt = time.Now()

	if errors.Is(cause, ErrChecksumMismatch) && entry.FailureCount < s.cfg.RetryLimit-1 {
		// a mismatch earns one more attempt, not the full budget
		entry.FailureCount = s.cfg.RetryLimit - 1
	}

	if blob.IsPermanent(cause) || entry.FailureCount >= s.cfg.RetryLimit {
		entry.Status = StatusFailed
		if err := s.manifest.Upsert(entry); err != nil {
			slog.Error("mirror", "op", "upload", "status", "manifest write failed", "path", path, "error", err)
		}
		if from != StatusFailed {
			s.bus.Publish(newStatusEvent(path, key, from, StatusFailed, cause))
		}
		slog.Error("mirror", "op", "upload", "status", "failed", "path", path, "attempts", entry.FailureCount, "error", cause)
		return
	}

	entry.Status = StatusPending
	if err := s.manifest.Upsert(entry); err != nil {
		slog.Error("mirror", "op", "upload", "status", "manifest write failed", "path", path, "error", err)
	}
	if from != StatusPending {
		s.bus.Publish(newStatusEvent(path, key, from, StatusPending, cause))
	}

	delay := retryDelay(s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, entry.FailureCount)
	slog.Warn("mirror", "op", "upload", "status", "retrying", "path", path, "attempt", entry.FailureCount, "delay", delay.Round(time.Millisecond), "error", cause)
	time.AfterFunc(delay, func() {
		if s.taskCtx.Err() != nil {
			return
		}
		s.Enqueue(ChangeEvent{Path: path, Kind: EventModified, ObservedAt: time.Now()}, priorityRetry)
	})
}

func (s *Scheduler) processRemove(ev ChangeEvent) {
	// watcher kinds are advisory, the file may be back already
	if info, err := os.Stat(ev.Path); err == nil {
		if info.Mode().IsRegular() {
			s.processUpload(ChangeEvent{Path: ev.Path, Kind: EventModified, ObservedAt: time.Now()})
		}
		return
	}

	entry, err := s.manifest.Get(ev.Path)
	if err != nil {
		slog.Error("mirror", "op", "remove", "status", "manifest read failed", "path", ev.Path, "error", err)
		return
	}
	if entry == nil {
		return
	}

	key, err := s.keys.KeyFor(ev.Path)
	if err != nil {
		key = ""
	}

	if s.cfg.DeleteRemote && key != "" {
		if _, err := s.store.DeleteObject(s.taskCtx, key); err != nil {
			if s.taskCtx.Err() != nil {
				return
			}
			// the entry stays, the next scan emits Removed again
			slog.Warn("mirror", "op", "delete", "status", "retry later", "key", key, "error", err)
			return
		}
		slog.Info("mirror", "op", "delete", "status", "deleted", "key", key)
	}

	if err := s.manifest.Remove(ev.Path); err != nil {
		slog.Error("mirror", "op", "remove", "status", "manifest write failed", "path", ev.Path, "error", err)
		return
	}
	s.bus.Publish(newUntrackedEvent(ev.Path, key, entry.Status))
	slog.Info("mirror", "op", "remove", "status", "untracked", "path", ev.Path)
}

func retryDelay(base, max time.Duration, failures int) time.Duration {
	delay := base
	for i := 1; i < failures; i++ {
		delay = min(delay*2, max)
	}
	jitterFactor := 0.75 + (rand.Float64() * 0.5)
	return time.Duration(float64(delay) * jitterFactor)
}
