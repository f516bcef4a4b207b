package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/driftsync/drift/internal/utils"
)

// ErrRootUnavailable reports that a watched root cannot be read at all,
// typically an unmounted volume or revoked permissions.
var ErrRootUnavailable = errors.New("watched root unavailable")

// Detector compares the disk against manifest state using metadata only.
// File contents are never read here, checksums happen at upload time.
type Detector struct {
	ignore *IgnoreList
}

func NewDetector(ignore *IgnoreList) *Detector {
	return &Detector{ignore: ignore}
}

// Scan walks root and returns the changes needed to reconcile the store
// with the disk. Scanning the same unchanged tree twice yields nothing
// the second time once the first run's uploads have confirmed.
func (d *Detector) Scan(ctx context.Context, root string, manifest map[string]*ManifestEntry) ([]ChangeEvent, error) {
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("%w: %s", ErrRootUnavailable, root)
	}

	now := time.Now()
	seen := make(map[string]struct{})
	var changes []ChangeEvent

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return fmt.Errorf("%w: %s: %v", ErrRootUnavailable, root, walkErr)
			}
			slog.Warn("scan skipping unreadable path", "path", path, "error", walkErr)
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		relSlash := filepath.ToSlash(rel)

		if entry.IsDir() {
			if d.ignore.ShouldIgnore(relSlash + "/") {
				return fs.SkipDir
			}
			return nil
		}
		if d.ignore.ShouldIgnore(relSlash) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			slog.Warn("scan stat failed", "path", path, "error", err)
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		seen[path] = struct{}{}

		prev := manifest[path]
		switch {
		case prev == nil:
			changes = append(changes, ChangeEvent{Path: path, Kind: EventCreated, ObservedAt: now})
		case prev.Status == StatusPending:
			// upload never confirmed, likely interrupted by a crash
			changes = append(changes, ChangeEvent{Path: path, Kind: EventModified, ObservedAt: now})
		case prev.Status == StatusFailed:
			if metadataChanged(prev, info) {
				changes = append(changes, ChangeEvent{Path: path, Kind: EventModified, ObservedAt: now})
			}
		case metadataChanged(prev, info):
			changes = append(changes, ChangeEvent{Path: path, Kind: EventModified, ObservedAt: now})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for path := range manifest {
		if !underRoot(root, path) {
			continue
		}
		if _, ok := seen[path]; !ok {
			changes = append(changes, ChangeEvent{Path: path, Kind: EventRemoved, ObservedAt: now})
		}
	}

	return changes, nil
}

func metadataChanged(e *ManifestEntry, info fs.FileInfo) bool {
	return e.Size != info.Size() || !e.ModTime.Equal(info.ModTime())
}

func underRoot(root, path string) bool {
	return strings.HasPrefix(path, filepath.Clean(root)+string(filepath.Separator))
}
