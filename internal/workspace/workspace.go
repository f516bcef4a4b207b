package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/driftsync/drift/internal/utils"
)

const (
	logsDir      = "logs"
	lockFile     = "drift.lock"
	manifestFile = "manifest.db"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

// Workspace is the local data directory holding the manifest, logs and
// the process lock. It is not one of the mirrored roots.
type Workspace struct {
	Root         string
	LogsDir      string
	ManifestPath string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	return &Workspace{
		Root:         root,
		LogsDir:      filepath.Join(root, logsDir),
		ManifestPath: filepath.Join(root, manifestFile),
		flock:        flock.New(filepath.Join(root, lockFile)),
	}, nil
}

func (w *Workspace) Lock() error {
	// the lock file lives inside the data dir, so the dir must exist first
	if err := utils.EnsureDir(w.Root); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.Root, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)

	for _, dir := range []string{w.LogsDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
