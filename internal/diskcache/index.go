package diskcache

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // sqlite driver, side-index only
)

// metadataIndex is the sqlite accelerant described in the disk cache's
// design notes: it never holds data the file tree doesn't also hold, so a
// missing index degrades Stats to a slower directory walk instead of
// breaking correctness (Get always answers from the filesystem).
type metadataIndex struct {
	db *sql.DB
	mu sync.Mutex
}

func openMetadataIndex(path string) (*metadataIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("diskcache: open index: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("diskcache: pragma %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS writes (
			layer_key TEXT NOT NULL,
			path      TEXT NOT NULL,
			UNIQUE(layer_key, path)
		);

		CREATE TABLE IF NOT EXISTS failures (
			layer_key      TEXT NOT NULL,
			tile_key       TEXT NOT NULL,
			failure_count  INTEGER NOT NULL DEFAULT 0,
			last_failure_at INTEGER NOT NULL DEFAULT 0,
			UNIQUE(layer_key, tile_key)
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("diskcache: create schema: %w", err)
	}

	return &metadataIndex{db: db}, nil
}

func (idx *metadataIndex) Close() error {
	return idx.db.Close()
}

func (idx *metadataIndex) recordWrite(layerKey, path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.db.Exec("INSERT OR IGNORE INTO writes (layer_key, path) VALUES (?, ?)", layerKey, path) //nolint:errcheck
}

func (idx *metadataIndex) recordFailure(layerKey, tileKey string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.db.Exec(`
		INSERT INTO failures (layer_key, tile_key, failure_count, last_failure_at)
		VALUES (?, ?, 1, unixepoch())
		ON CONFLICT(layer_key, tile_key) DO UPDATE SET
			failure_count = failure_count + 1,
			last_failure_at = unixepoch()
	`, layerKey, tileKey) //nolint:errcheck
}

func (idx *metadataIndex) lastFailure(layerKey, tileKey string) (int64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var last int64
	err := idx.db.QueryRow(
		"SELECT last_failure_at FROM failures WHERE layer_key = ? AND tile_key = ?",
		layerKey, tileKey,
	).Scan(&last)
	if err != nil {
		return 0, false
	}
	return last, true
}

func (idx *metadataIndex) deleteLayer(layerKey string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.db.Exec("DELETE FROM writes WHERE layer_key = ?", layerKey)     //nolint:errcheck
	idx.db.Exec("DELETE FROM failures WHERE layer_key = ?", layerKey) //nolint:errcheck
}

func (idx *metadataIndex) stats(layerKey string) (written, failed int, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.db.QueryRow("SELECT COUNT(*) FROM writes WHERE layer_key = ?", layerKey).Scan(&written); err != nil {
		return 0, 0, err
	}
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM failures WHERE layer_key = ?", layerKey).Scan(&failed); err != nil {
		return 0, 0, err
	}
	return written, failed, nil
}
