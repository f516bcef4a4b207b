package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftsync/drift/internal/utils"
)

const (
	DefaultScanInterval  = 15 * time.Minute
	DefaultShutdownGrace = 10 * time.Second

	defaultProbeInterval = 30 * time.Second
)

// ErrNoRoots reports that none of the configured roots resolve at startup.
// It is the only condition the engine treats as fatal.
var ErrNoRoots = errors.New("no watched roots available")

type EngineConfig struct {
	Roots   []string
	Prefix  string
	Exclude []string

	MaxConcurrent int
	RetryLimit    int
	DeleteRemote  bool
	AgentID       string

	Debounce      time.Duration
	ScanInterval  time.Duration
	ShutdownGrace time.Duration
	// ProbeInterval paces both down-root probing and watch resubscription.
	ProbeInterval time.Duration
}

// rootPipeline is the per-root scan and watch state.
type rootPipeline struct {
	root     WatchRoot
	ignore   *IgnoreList
	detector *Detector
	down     atomic.Bool
}

// Engine mirrors the configured roots into the object store. Each root
// runs its own watch/scan pipeline, all feeding one scheduler.
type Engine struct {
	cfg       EngineConfig
	manifest  *Manifest
	keys      *KeyMap
	sched     *Scheduler
	bus       *EventBus
	pipelines []*rootPipeline

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewEngine(cfg EngineConfig, manifest *Manifest, store ObjectStore, bus *EventBus) (*Engine, error) {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}

	keys, err := NewKeyMap(cfg.Prefix, cfg.Roots)
	if err != nil {
		return nil, err
	}

	sched := NewScheduler(SchedulerConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		RetryLimit:    cfg.RetryLimit,
		DeleteRemote:  cfg.DeleteRemote,
		AgentID:       cfg.AgentID,
	}, manifest, store, keys, bus)

	pipelines := make([]*rootPipeline, 0, len(keys.Roots()))
	for _, root := range keys.Roots() {
		ignore := NewIgnoreList(root.Path, cfg.Exclude)
		pipelines = append(pipelines, &rootPipeline{
			root:     root,
			ignore:   ignore,
			detector: NewDetector(ignore),
		})
	}

	return &Engine{
		cfg:       cfg,
		manifest:  manifest,
		keys:      keys,
		sched:     sched,
		bus:       bus,
		pipelines: pipelines,
	}, nil
}

// Start brings up the scheduler and one pipeline per resolvable root.
// Unresolvable roots are marked down and probed until they come back,
// unless every root is down, which is fatal.
func (e *Engine) Start(ctx context.Context) error {
	available := 0
	for _, p := range e.pipelines {
		if utils.DirExists(p.root.Path) {
			available++
			continue
		}
		p.down.Store(true)
		e.bus.Publish(newRootEvent(p.root.Path, false))
		slog.Warn("engine root unavailable", "root", p.root.Path)
	}
	if available == 0 {
		return fmt.Errorf("%w: %v", ErrNoRoots, e.cfg.Roots)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.sched.Start(runCtx)

	for _, p := range e.pipelines {
		if !p.down.Load() {
			e.startPipeline(runCtx, p)
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.probeLoop(runCtx)
	}()

	slog.Info("engine started", "roots", len(e.pipelines), "available", available, "workers", e.sched.cfg.MaxConcurrent)
	return nil
}

// Stop drains the pipelines, then gives in-flight uploads the configured
// grace before aborting them.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		slog.Info("engine stopping")
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.sched.Stop(e.cfg.ShutdownGrace)
		slog.Info("engine stopped")
	})
}

func (e *Engine) startPipeline(ctx context.Context, p *rootPipeline) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runPipeline(ctx, p)
	}()
}

func (e *Engine) runPipeline(ctx context.Context, p *rootPipeline) {
	slog.Info("engine mirroring", "root", p.root.Path, "name", p.root.Name)

	// subscribe before the first scan so changes landing mid-scan are
	// not lost between scan and watch
	watcher := NewRootWatcher(p.root.Path, p.ignore, e.cfg.Debounce)
	watching := true
	var events <-chan ChangeEvent
	if err := watcher.Start(); err != nil {
		slog.Warn("engine watch failed, rescan only", "root", p.root.Path, "error", err)
		watching = false
	} else {
		events = watcher.Events()
	}

	if !e.scanRoot(ctx, p) {
		if watching {
			watcher.Stop()
		}
		e.markDown(p)
		return
	}

	rescan := time.NewTimer(e.cfg.ScanInterval)
	defer rescan.Stop()
	resub := time.NewTimer(e.cfg.ProbeInterval)
	defer resub.Stop()

	for {
		select {
		case <-ctx.Done():
			if watching {
				watcher.Stop()
			}
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.sched.Enqueue(ev, priorityLive)

		case <-rescan.C:
			if !e.scanRoot(ctx, p) {
				if watching {
					watcher.Stop()
				}
				e.markDown(p)
				return
			}
			rescan.Reset(e.cfg.ScanInterval)

		case <-resub.C:
			if !watching {
				watcher = NewRootWatcher(p.root.Path, p.ignore, e.cfg.Debounce)
				if err := watcher.Start(); err != nil {
					slog.Debug("engine watch still failing", "root", p.root.Path, "error", err)
				} else {
					watching = true
					events = watcher.Events()
					slog.Info("engine watch recovered", "root", p.root.Path)
					// catch whatever happened while we were blind
					if !e.scanRoot(ctx, p) {
						watcher.Stop()
						e.markDown(p)
						return
					}
				}
			}
			resub.Reset(e.cfg.ProbeInterval)
		}
	}
}

// scanRoot reconciles one root, feeding changes to the scheduler. A false
// return means the root itself is gone.
func (e *Engine) scanRoot(ctx context.Context, p *rootPipeline) bool {
	snapshot, err := e.manifest.Snapshot()
	if err != nil {
		// manifest trouble is not a root outage
		slog.Error("engine manifest snapshot failed", "error", err)
		return true
	}

	changes, err := p.detector.Scan(ctx, p.root.Path, snapshot)
	if errors.Is(err, ErrRootUnavailable) {
		return false
	}
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("engine scan failed", "root", p.root.Path, "error", err)
		}
		return true
	}

	for _, ev := range changes {
		e.sched.Enqueue(ev, priorityScan)
	}
	if len(changes) > 0 {
		slog.Info("engine scan", "root", p.root.Path, "changes", len(changes))
	}
	return true
}

func (e *Engine) markDown(p *rootPipeline) {
	p.down.Store(true)
	e.bus.Publish(newRootEvent(p.root.Path, false))
	slog.Warn("engine root down", "root", p.root.Path)
}

// probeLoop revives pipelines whose roots were unavailable.
func (e *Engine) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range e.pipelines {
				if p.down.Load() && utils.DirExists(p.root.Path) {
					p.down.Store(false)
					e.bus.Publish(newRootEvent(p.root.Path, true))
					slog.Info("engine root recovered", "root", p.root.Path)
					e.startPipeline(ctx, p)
				}
			}
		}
	}
}
