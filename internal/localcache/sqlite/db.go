// Package sqlite implements localcache.Store over modernc.org/sqlite,
// following the database/sql-plus-query-string shape the teacher uses in
// internal/repository/sqlite for its own embedded-database repositories.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// DB wraps a database/sql handle opened against a single local cache
// file, plus the process-level lock taken out over it.
type DB struct {
	conn   *sql.DB
	logger zerolog.Logger
	lock   *fileLock
}

// Open opens (creating if necessary) the cache file at path, takes out the
// single-writer lock that keeps two archivesync client processes from
// running against the same cache concurrently, and applies the schema.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*DB, error) {
	logger = logger.With().Str("component", "localcache-sqlite").Logger()

	lock, err := acquireLock(ctx, path, logger)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("localcache: opening %s: %w", path, err)
	}

	db := &DB{conn: conn, logger: logger, lock: lock}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		lock.Release()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection and releases the process lock.
func (db *DB) Close() error {
	err := db.conn.Close()
	if lerr := db.lock.Release(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("localcache: applying schema: %w", err)
	}
	return nil
}
