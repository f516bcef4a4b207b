package mirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) os.FileInfo {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info
}

func syncedEntry(path string, info os.FileInfo) *ManifestEntry {
	return &ManifestEntry{
		Path:     path,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Checksum: "d41d8cd98f00b204e9800998ecf8427e",
		Status:   StatusSynced,
	}
}

func kindsOf(changes []ChangeEvent) map[string]EventKind {
	kinds := make(map[string]EventKind, len(changes))
	for _, c := range changes {
		kinds[c.Path] = c.Kind
	}
	return kinds
}

func newTestDetector(root string) *Detector {
	return NewDetector(NewIgnoreList(root, nil))
}

func TestDetectorNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "beta")

	changes, err := newTestDetector(root).Scan(t.Context(), root, nil)
	require.NoError(t, err)

	kinds := kindsOf(changes)
	require.Len(t, kinds, 2)
	assert.Equal(t, EventCreated, kinds[filepath.Join(root, "a.txt")])
	assert.Equal(t, EventCreated, kinds[filepath.Join(root, "sub", "b.txt")])
}

func TestDetectorUnchangedIsQuiet(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.txt")
	info := writeFile(t, aPath, "alpha")

	manifest := map[string]*ManifestEntry{aPath: syncedEntry(aPath, info)}

	changes, err := newTestDetector(root).Scan(t.Context(), root, manifest)
	require.NoError(t, err)
	assert.Empty(t, changes)

	// scanning twice changes nothing
	changes, err = newTestDetector(root).Scan(t.Context(), root, manifest)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDetectorSizeChange(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.txt")
	info := writeFile(t, aPath, "alpha")

	entry := syncedEntry(aPath, info)
	entry.Size = info.Size() + 10

	changes, err := newTestDetector(root).Scan(t.Context(), root, map[string]*ManifestEntry{aPath: entry})
	require.NoError(t, err)

	kinds := kindsOf(changes)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventModified, kinds[aPath])
}

func TestDetectorModTimeChange(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.txt")
	info := writeFile(t, aPath, "alpha")

	entry := syncedEntry(aPath, info)
	entry.ModTime = info.ModTime().Add(-2 * time.Second)

	changes, err := newTestDetector(root).Scan(t.Context(), root, map[string]*ManifestEntry{aPath: entry})
	require.NoError(t, err)

	kinds := kindsOf(changes)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventModified, kinds[aPath])
}

func TestDetectorRemoved(t *testing.T) {
	root := t.TempDir()
	gone := filepath.Join(root, "gone.txt")
	otherRoot := filepath.Join("/somewhere", "else.txt")

	manifest := map[string]*ManifestEntry{
		gone:      {Path: gone, Size: 3, ModTime: time.Now(), Status: StatusSynced},
		otherRoot: {Path: otherRoot, Size: 3, ModTime: time.Now(), Status: StatusSynced},
	}

	changes, err := newTestDetector(root).Scan(t.Context(), root, manifest)
	require.NoError(t, err)

	kinds := kindsOf(changes)
	require.Len(t, kinds, 1, "entries under other roots must not be touched")
	assert.Equal(t, EventRemoved, kinds[gone])
}

func TestDetectorPendingAlwaysRetries(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.txt")
	info := writeFile(t, aPath, "alpha")

	// metadata matches but the upload never confirmed
	entry := syncedEntry(aPath, info)
	entry.Status = StatusPending
	entry.Checksum = ""

	changes, err := newTestDetector(root).Scan(t.Context(), root, map[string]*ManifestEntry{aPath: entry})
	require.NoError(t, err)

	kinds := kindsOf(changes)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventModified, kinds[aPath])
}

func TestDetectorFailedWaitsForChange(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.txt")
	info := writeFile(t, aPath, "alpha")

	entry := syncedEntry(aPath, info)
	entry.Status = StatusFailed
	entry.FailureCount = 3

	// unchanged failed file stays quiet
	changes, err := newTestDetector(root).Scan(t.Context(), root, map[string]*ManifestEntry{aPath: entry})
	require.NoError(t, err)
	assert.Empty(t, changes)

	// once the file changes it is picked up again
	entry.Size = info.Size() + 1
	changes, err = newTestDetector(root).Scan(t.Context(), root, map[string]*ManifestEntry{aPath: entry})
	require.NoError(t, err)

	kinds := kindsOf(changes)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventModified, kinds[aPath])
}

func TestDetectorSkipsIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".DS_Store"), "junk")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "js")
	writeFile(t, filepath.Join(root, "kept.txt"), "data")

	changes, err := newTestDetector(root).Scan(t.Context(), root, nil)
	require.NoError(t, err)

	kinds := kindsOf(changes)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventCreated, kinds[filepath.Join(root, "kept.txt")])
}

func TestDetectorTrackedFileBecomesIgnored(t *testing.T) {
	root := t.TempDir()
	logPath := filepath.Join(root, "app.log")
	info := writeFile(t, logPath, "lines")
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("*.log\n"), 0o644))

	manifest := map[string]*ManifestEntry{logPath: syncedEntry(logPath, info)}

	// a tracked file newly covered by ignore rules reads as removed
	changes, err := newTestDetector(root).Scan(t.Context(), root, manifest)
	require.NoError(t, err)

	kinds := kindsOf(changes)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventRemoved, kinds[logPath])
}

func TestDetectorSkipsNonRegular(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real.txt")
	writeFile(t, target, "data")
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link.txt")))

	changes, err := newTestDetector(root).Scan(t.Context(), root, nil)
	require.NoError(t, err)

	kinds := kindsOf(changes)
	require.Len(t, kinds, 1)
	assert.Equal(t, EventCreated, kinds[target])
}

func TestDetectorUnavailableRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "unmounted")
	tracked := filepath.Join(root, "a.txt")
	manifest := map[string]*ManifestEntry{
		tracked: {Path: tracked, Size: 3, ModTime: time.Now(), Status: StatusSynced},
	}

	changes, err := newTestDetector(root).Scan(t.Context(), root, manifest)
	require.ErrorIs(t, err, ErrRootUnavailable)
	assert.Empty(t, changes, "an unavailable root must not produce removals")
}
