package mirror

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/driftsync/drift/internal/db"
	"github.com/driftsync/drift/internal/utils"
	"github.com/jmoiron/sqlx"
)

// ErrCorruptManifest marks a manifest database that exists but cannot be
// read. Callers sideline it and start fresh instead of aborting.
var ErrCorruptManifest = errors.New("manifest corrupt")

// ManifestEntry records what the engine believes the store holds for one
// local path. Checksum is only set once the store confirmed it; a Synced
// entry always carries the confirmed checksum.
type ManifestEntry struct {
	Path         string
	Size         int64
	ModTime      time.Time
	Checksum     string
	Status       Status
	LastAttempt  time.Time
	FailureCount int
}

const manifestSchema = `
CREATE TABLE IF NOT EXISTS manifest (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mod_time TEXT NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	last_attempt TEXT NOT NULL DEFAULT '',
	failure_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_manifest_status ON manifest(status);
`

// synchronous=FULL so an Upsert that returned is on disk even across power
// loss. The manifest is the source of truth for crash recovery.
const manifestPragma = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=FULL;
PRAGMA busy_timeout=5000;
PRAGMA temp_store=MEMORY;
`

// dbManifestEntry is the sqlite shape of a ManifestEntry. Times are stored
// as RFC3339Nano text so modification times round-trip exactly.
type dbManifestEntry struct {
	Path         string `db:"path"`
	Size         int64  `db:"size"`
	ModTime      string `db:"mod_time"`
	Checksum     string `db:"checksum"`
	Status       string `db:"status"`
	LastAttempt  string `db:"last_attempt"`
	FailureCount int    `db:"failure_count"`
}

func (d *dbManifestEntry) toEntry() *ManifestEntry {
	return &ManifestEntry{
		Path:         d.Path,
		Size:         d.Size,
		ModTime:      parseTime(d.ModTime),
		Checksum:     d.Checksum,
		Status:       Status(d.Status),
		LastAttempt:  parseTime(d.LastAttempt),
		FailureCount: d.FailureCount,
	}
}

func toDBEntry(e *ManifestEntry) *dbManifestEntry {
	return &dbManifestEntry{
		Path:         e.Path,
		Size:         e.Size,
		ModTime:      formatTime(e.ModTime),
		Checksum:     e.Checksum,
		Status:       string(e.Status),
		LastAttempt:  formatTime(e.LastAttempt),
		FailureCount: e.FailureCount,
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// Manifest is the durable record of per-file sync state, one row per path.
// Writes are per-row and land on disk before returning.
type Manifest struct {
	db     *sqlx.DB
	dbPath string
}

// OpenManifest opens or creates the manifest database. An existing file
// that cannot be opened or migrated comes back as ErrCorruptManifest.
func OpenManifest(dbPath string) (*Manifest, error) {
	existed := utils.FileExists(dbPath)

	conn, err := db.NewSqliteDb(
		db.WithPath(dbPath),
		db.WithPragmas(manifestPragma),
		db.WithMaxOpenConns(1),
	)
	if err != nil {
		if existed {
			return nil, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	if _, err := conn.Exec(manifestSchema); err != nil {
		conn.Close()
		if existed {
			return nil, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
		}
		return nil, fmt.Errorf("init manifest schema: %w", err)
	}

	return &Manifest{
		db:     conn,
		dbPath: dbPath,
	}, nil
}

// SidelineManifest renames a corrupt manifest (and its WAL sidecars) out of
// the way so a fresh one can be created. Returns the backup path.
func SidelineManifest(dbPath string) (string, error) {
	backupPath := fmt.Sprintf("%s.%s.bak", dbPath, time.Now().Format("20060102_150405"))
	if err := os.Rename(dbPath, backupPath); err != nil {
		return "", fmt.Errorf("sideline manifest: %w", err)
	}
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
	return backupPath, nil
}

// Get returns the entry for path, or nil when the path is not tracked.
func (m *Manifest) Get(path string) (*ManifestEntry, error) {
	var row dbManifestEntry
	err := m.db.Get(&row, "SELECT * FROM manifest WHERE path = ?", path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", path, err)
	}
	return row.toEntry(), nil
}

// Upsert writes one entry. The row is durable when this returns; callers
// rely on that ordering before acknowledging task results.
func (m *Manifest) Upsert(e *ManifestEntry) error {
	_, err := m.db.NamedExec(`
		INSERT OR REPLACE INTO manifest
			(path, size, mod_time, checksum, status, last_attempt, failure_count)
		VALUES
			(:path, :size, :mod_time, :checksum, :status, :last_attempt, :failure_count)`,
		toDBEntry(e),
	)
	if err != nil {
		return fmt.Errorf("upsert %q: %w", e.Path, err)
	}
	return nil
}

// Remove deletes the entry for path. Removing an untracked path is a no-op.
func (m *Manifest) Remove(path string) error {
	_, err := m.db.Exec("DELETE FROM manifest WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("remove %q: %w", path, err)
	}
	return nil
}

// Snapshot returns a point-in-time copy of every entry keyed by path.
func (m *Manifest) Snapshot() (map[string]*ManifestEntry, error) {
	rows, err := m.db.Queryx("SELECT * FROM manifest")
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]*ManifestEntry)
	for rows.Next() {
		var row dbManifestEntry
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("snapshot scan: %w", err)
		}
		entries[row.Path] = row.toEntry()
	}
	return entries, rows.Err()
}

// Count returns the number of tracked paths.
func (m *Manifest) Count() (int, error) {
	var count int
	if err := m.db.Get(&count, "SELECT COUNT(*) FROM manifest"); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// Path returns the database file path.
func (m *Manifest) Path() string {
	return m.dbPath
}

func (m *Manifest) Close() error {
	return m.db.Close()
}
