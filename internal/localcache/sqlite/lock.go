package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// fileLock holds a RESERVED sqlite lock on a sibling lock file for the
// lifetime of the process, over a connection dedicated to the lock, so it
// never blocks the cache database's own queries.
type fileLock struct {
	db   *sql.DB
	conn *sql.Conn
}

// acquireLock opens the sibling file path+".lock" as its own sqlite
// database and issues a bare BEGIN IMMEDIATE on it: sqlite grants this only
// to one connection at a time, so a second archivesync process pointed at
// the same cache file gets SQLITE_BUSY and is retried with backoff, on the
// theory that a prior invocation may just be mid-shutdown rather than
// genuinely still running.
func acquireLock(ctx context.Context, path string, logger zerolog.Logger) (*fileLock, error) {
	db, err := sql.Open("sqlite", path+".lock?_pragma=busy_timeout(0)")
	if err != nil {
		return nil, fmt.Errorf("localcache: opening lock handle: %w", err)
	}
	db.SetMaxOpenConns(1)

	var conn *sql.Conn
	probe := func() error {
		c, err := db.Conn(ctx)
		if err != nil {
			return err
		}
		if _, err := c.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			c.Close()
			return err
		}
		conn = c
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 25), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("wait", wait).Msg("localcache: cache file locked by another process, retrying")
	}
	if err := backoff.RetryNotify(probe, b, notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("localcache: acquiring exclusive lock on %s: %w", path, err)
	}

	return &fileLock{db: db, conn: conn}, nil
}

// Release rolls back the held transaction (sqlite treats a dangling
// connection close the same way, but an explicit ROLLBACK makes the
// release deterministic) and closes the lock's dedicated connection.
func (l *fileLock) Release() error {
	_, err := l.conn.ExecContext(context.Background(), "ROLLBACK")
	if cerr := l.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if derr := l.db.Close(); derr != nil && err == nil {
		err = derr
	}
	return err
}
