package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nf-oss/archivesync/internal/archivepath"
	"github.com/nf-oss/archivesync/internal/domain"
)

type pgxRows = pgx.Rows

// GetNewEntries streams every entry with update_number > cursor, ordered
// ascending, so a client can resume incremental sync from any previously
// observed update_number.
func (db *DB) GetNewEntries(ctx context.Context, cursor int64, fn func(domain.Entry) error) error {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE update_number > $1
		ORDER BY update_number ASC`, cursor)
	if err != nil {
		return fmt.Errorf("historydb: GetNewEntries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanEntryRow(rows)
		if err != nil {
			return fmt.Errorf("historydb: GetNewEntries scan: %w", err)
		}
		if err := fn(r.toEntry()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetDirectChildEntries streams path's direct children ordered by path.
// path must currently exist.
func (db *DB) GetDirectChildEntries(ctx context.Context, path string, fn func(domain.Entry) error) error {
	p, err := archivepath.New(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	var parentID *int64
	if !p.IsRoot() {
		var id int64
		err := db.Pool.QueryRow(ctx, `SELECT id FROM entries WHERE path = $1 AND kind != 0`, p.String()).Scan(&id)
		if err != nil {
			return fmt.Errorf("historydb: GetDirectChildEntries %q: %w", path, domain.ErrPathNotFound)
		}
		parentID = &id
	}

	var rows pgxRows
	var queryErr error
	if parentID == nil {
		rows, queryErr = db.Pool.Query(ctx, `
			SELECT `+entryColumns+` FROM entries
			WHERE parent_dir IS NULL
			ORDER BY path ASC`)
	} else {
		rows, queryErr = db.Pool.Query(ctx, `
			SELECT `+entryColumns+` FROM entries
			WHERE parent_dir = $1
			ORDER BY path ASC`, *parentID)
	}
	if queryErr != nil {
		return fmt.Errorf("historydb: GetDirectChildEntries %q: %w", path, queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanEntryRow(rows)
		if err != nil {
			return fmt.Errorf("historydb: GetDirectChildEntries scan: %w", err)
		}
		if err := fn(r.toEntry()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetEntryVersionsAtTime emits, for path and every path under it, the
// latest version with recorded_at <= at whose kind is not NotExists.
func (db *DB) GetEntryVersionsAtTime(ctx context.Context, path string, at time.Time, fn func(domain.EntryVersion) error) error {
	p, err := archivepath.New(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT ON (path) `+entryVersionColumns+`
		FROM entry_versions
		WHERE (path = $1 OR path LIKE $2 ESCAPE '\') AND recorded_at <= $3 AND kind != 0
		ORDER BY path, recorded_at DESC, id DESC`,
		p.String(), descendantPattern(p.String()), at)
	if err != nil {
		return fmt.Errorf("historydb: GetEntryVersionsAtTime %q: %w", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanEntryVersionRow(rows)
		if err != nil {
			return fmt.Errorf("historydb: GetEntryVersionsAtTime scan: %w", err)
		}
		if err := fn(r.toEntryVersion()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetAllEntryVersions emits every version of path (and, if recursive, of
// everything under it), ordered by id.
func (db *DB) GetAllEntryVersions(ctx context.Context, path string, recursive bool, fn func(domain.EntryVersion) error) error {
	p, err := archivepath.New(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	var rows pgxRows
	var queryErr error
	if recursive {
		rows, queryErr = db.Pool.Query(ctx, `
			SELECT `+entryVersionColumns+` FROM entry_versions
			WHERE path = $1 OR path LIKE $2 ESCAPE '\'
			ORDER BY id ASC`, p.String(), descendantPattern(p.String()))
	} else {
		rows, queryErr = db.Pool.Query(ctx, `
			SELECT `+entryVersionColumns+` FROM entry_versions
			WHERE path = $1
			ORDER BY id ASC`, p.String())
	}
	if queryErr != nil {
		return fmt.Errorf("historydb: GetAllEntryVersions %q: %w", path, queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanEntryVersionRow(rows)
		if err != nil {
			return fmt.Errorf("historydb: GetAllEntryVersions scan: %w", err)
		}
		if err := fn(r.toEntryVersion()); err != nil {
			return err
		}
	}
	return rows.Err()
}
