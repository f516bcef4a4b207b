package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/denisbrodbeck/machineid"
	"golang.org/x/sync/errgroup"

	"github.com/driftsync/drift/internal/blob"
	"github.com/driftsync/drift/internal/config"
	"github.com/driftsync/drift/internal/mirror"
	"github.com/driftsync/drift/internal/workspace"
)

// Agent wires the workspace, manifest, object store and mirror engine
// into one long-running process.
type Agent struct {
	config   *config.Config
	ws       *workspace.Workspace
	manifest *mirror.Manifest
	store    *blob.BlobClient
	engine   *mirror.Engine
	bus      *mirror.EventBus

	synced    int
	failed    int
	untracked int
}

func New(cfg *config.Config) (*Agent, error) {
	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	store, err := blob.NewBlobClient(cfg.S3())
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &Agent{
		config: cfg,
		ws:     ws,
		store:  store,
		bus:    mirror.NewEventBus(),
	}, nil
}

// Events exposes the engine's event bus for additional subscribers.
func (a *Agent) Events() *mirror.EventBus {
	return a.bus
}

// Start runs the agent until ctx is canceled, then shuts down gracefully.
func (a *Agent) Start(ctx context.Context) error {
	slog.Info("agent start",
		"datadir", a.config.DataDir,
		"bucket", a.config.Bucket,
		"roots", len(a.config.Roots),
	)

	if err := a.ws.Setup(); err != nil {
		return err
	}

	manifest, err := a.openManifest()
	if err != nil {
		a.cleanup()
		return err
	}
	a.manifest = manifest

	engine, err := mirror.NewEngine(a.engineConfig(), manifest, a.store, a.bus)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = engine

	if err := engine.Start(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start engine: %w", err)
	}

	events := a.bus.Subscribe()
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		a.watchEvents(events)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("received interrupt signal, stopping agent")
		engine.Stop()
		a.bus.Unsubscribe(events)
		return nil
	})

	err = eg.Wait()
	a.cleanup()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("agent stopped", "synced", a.synced, "failed", a.failed, "untracked", a.untracked)
	return nil
}

// openManifest opens the manifest db, sidelining it and starting fresh
// if the file is corrupt. Remote objects are untouched either way.
func (a *Agent) openManifest() (*mirror.Manifest, error) {
	m, err := mirror.OpenManifest(a.ws.ManifestPath)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, mirror.ErrCorruptManifest) {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	backup, sideErr := mirror.SidelineManifest(a.ws.ManifestPath)
	if sideErr != nil {
		return nil, fmt.Errorf("failed to sideline corrupt manifest: %w", sideErr)
	}
	slog.Warn("manifest corrupt, starting fresh", "backup", backup)

	m, err = mirror.OpenManifest(a.ws.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to recreate manifest: %w", err)
	}
	return m, nil
}

func (a *Agent) engineConfig() mirror.EngineConfig {
	return mirror.EngineConfig{
		Roots:         a.config.Roots,
		Prefix:        a.config.Prefix,
		Exclude:       a.config.Exclude,
		MaxConcurrent: a.config.MaxConcurrent,
		RetryLimit:    a.config.RetryLimit,
		DeleteRemote:  a.config.DeleteRemote,
		AgentID:       agentID(),
		Debounce:      a.config.Debounce,
		ScanInterval:  a.config.ScanInterval,
		ShutdownGrace: a.config.ShutdownGrace,
	}
}

// watchEvents tallies engine events for the shutdown summary. Per-file
// reporting stays at debug, the engine already logs the interesting ones.
func (a *Agent) watchEvents(events chan mirror.SyncEvent) {
	for ev := range events {
		switch ev.Type {
		case mirror.SyncEventStatus:
			switch ev.To {
			case mirror.StatusSynced:
				a.synced++
			case mirror.StatusFailed:
				a.failed++
			}
			slog.Debug("event", "type", ev.Type, "path", ev.Path, "from", ev.From, "to", ev.To)
		case mirror.SyncEventUntracked:
			a.untracked++
			slog.Debug("event", "type", ev.Type, "path", ev.Path)
		case mirror.SyncEventRootDown, mirror.SyncEventRootUp:
			slog.Debug("event", "type", ev.Type, "root", ev.Path)
		}
	}
}

func (a *Agent) cleanup() {
	if a.manifest != nil {
		if err := a.manifest.Close(); err != nil {
			slog.Warn("failed to close manifest", "error", err)
		}
		a.manifest = nil
	}
	if err := a.ws.Unlock(); err != nil {
		slog.Warn("failed to unlock workspace", "error", err)
	}
}

// agentID derives a stable, privacy-preserving id for upload metadata.
func agentID() string {
	id, err := machineid.ProtectedID("drift")
	if err != nil {
		slog.Warn("failed to derive agent id", "error", err)
		return ""
	}
	return id
}
