// Package ledger keeps a local journal of what previous runs already did:
// scraped URLs, uploaded content hashes and applied one-off SQL patches.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_urls (
	url          TEXT PRIMARY KEY,
	equipment_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	processed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS content_hashes (
	equipment_id TEXT NOT NULL,
	hash         TEXT NOT NULL,
	photo_url    TEXT NOT NULL,
	PRIMARY KEY (equipment_id, hash)
);
CREATE TABLE IF NOT EXISTS applied_patches (
	name       TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	applied_at INTEGER NOT NULL
);
`

// URL statuses.
const (
	StatusUploaded = "uploaded"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// Patch is one applied SQL patch.
type Patch struct {
	Name      string
	Path      string
	AppliedAt time.Time
}

// Ledger is safe for concurrent use.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates the file and its parent directory when missing. ":memory:" opens
// a private in-memory journal.
func Open(path string) (*Ledger, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure ledger: %w", err)
	}
	if err := upgrade(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// upgrade rebuilds content_hashes from journals written when hashes were
// keyed on the hash alone.
func upgrade(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= 1 {
		return nil
	}
	var n int
	if err := db.QueryRow("SELECT count(*) FROM pragma_table_info('content_hashes') WHERE name = 'hash' AND pk = 1").Scan(&n); err != nil {
		return err
	}
	if n == 1 {
		_, err := db.Exec(`
			ALTER TABLE content_hashes RENAME TO content_hashes_old;
			CREATE TABLE content_hashes (
				equipment_id TEXT NOT NULL,
				hash         TEXT NOT NULL,
				photo_url    TEXT NOT NULL,
				PRIMARY KEY (equipment_id, hash)
			);
			INSERT INTO content_hashes (equipment_id, hash, photo_url)
				SELECT equipment_id, hash, photo_url FROM content_hashes_old;
			DROP TABLE content_hashes_old;`)
		if err != nil {
			return err
		}
	}
	_, err := db.Exec("PRAGMA user_version = 1")
	return err
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) exists(ctx context.Context, query string, arg string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, query, arg).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SeenURL reports whether url was processed with a status other than failed.
// Failed URLs are retried on the next run.
func (l *Ledger) SeenURL(ctx context.Context, url string) (bool, error) {
	return l.exists(ctx, "SELECT 1 FROM processed_urls WHERE url = ? AND status != 'failed'", url)
}

func (l *Ledger) MarkURL(ctx context.Context, url, equipmentID, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_urls (url, equipment_id, status, processed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET equipment_id = excluded.equipment_id,
			status = excluded.status, processed_at = excluded.processed_at`,
		url, equipmentID, status, time.Now().Unix())
	return err
}

// SeenHash returns the photo URL already stored for hash on the given
// equipment, if any. The same picture may belong to several items.
func (l *Ledger) SeenHash(ctx context.Context, equipmentID, hash string) (string, bool, error) {
	var photoURL string
	err := l.db.QueryRowContext(ctx,
		"SELECT photo_url FROM content_hashes WHERE equipment_id = ? AND hash = ?", equipmentID, hash).Scan(&photoURL)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return photoURL, true, nil
}

func (l *Ledger) MarkHash(ctx context.Context, hash, equipmentID, photoURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO content_hashes (equipment_id, hash, photo_url) VALUES (?, ?, ?)",
		equipmentID, hash, photoURL)
	return err
}

// RecordPatch stores the execution path ("direct", "rpc") for name. Re-applying
// a patch updates its timestamp.
func (l *Ledger) RecordPatch(ctx context.Context, name, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO applied_patches (name, path, applied_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET path = excluded.path, applied_at = excluded.applied_at`,
		name, path, time.Now().Unix())
	return err
}

// AppliedPatches lists patches oldest first.
func (l *Ledger) AppliedPatches(ctx context.Context) ([]Patch, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT name, path, applied_at FROM applied_patches ORDER BY applied_at, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Patch
	for rows.Next() {
		var p Patch
		var ts int64
		if err := rows.Scan(&p.Name, &p.Path, &ts); err != nil {
			return nil, err
		}
		p.AppliedAt = time.Unix(ts, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Stats counts journal rows for the doctor command.
func (l *Ledger) Stats(ctx context.Context) (urls, hashes, patches int, err error) {
	err = l.db.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM processed_urls),
		(SELECT count(*) FROM content_hashes),
		(SELECT count(*) FROM applied_patches)`).Scan(&urls, &hashes, &patches)
	return
}
