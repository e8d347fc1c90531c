package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nf-oss/archivesync/internal/archivepath"
	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/historydb"
)

// MovePath relocates every live entry at or under oldPath to the
// corresponding path under newPath (spec.md §4.3).
func (db *DB) MovePath(ctx context.Context, sourceID int64, oldPath, newPath string) (historydb.BulkActionStats, error) {
	oldP, err := archivepath.New(oldPath)
	if err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("invalid old path: %w", err)
	}
	newP, err := archivepath.New(newPath)
	if err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("invalid new path: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("historydb: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	destExists, err := entryExistsAtOrUnder(ctx, tx, newP.String())
	if err != nil {
		return historydb.BulkActionStats{}, err
	}
	if destExists {
		return historydb.BulkActionStats{}, fmt.Errorf("move destination %q: %w", newPath, domain.ErrPathExists)
	}

	rows, err := loadLiveAtOrUnder(ctx, tx, oldP.String())
	if err != nil {
		return historydb.BulkActionStats{}, err
	}

	// Vacate deepest-first so a directory's children are already gone by
	// the time its own has-children guard runs.
	vacating := append([]domain.Entry(nil), rows...)
	sort.Slice(vacating, func(i, j int) bool { return vacating[i].Path > vacating[j].Path })
	for _, e := range vacating {
		if _, err := addVersionTx(ctx, tx, sourceID, historydb.AddVersionRequest{
			EncryptedPath: e.Path,
			RecordTrigger: domain.TriggerMove,
			Kind:          kindPtr(domain.KindNotExists),
		}); err != nil {
			return historydb.BulkActionStats{}, fmt.Errorf("vacating %q: %w", e.Path, err)
		}
	}

	// Re-create shallowest-first so ancestor synthesis has as little work
	// to do as possible, though it would self-synthesize regardless.
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })
	for _, e := range rows {
		src, err := archivepath.New(e.Path)
		if err != nil {
			return historydb.BulkActionStats{}, err
		}
		rel, ok := src.StripPrefix(oldP)
		if !ok {
			return historydb.BulkActionStats{}, fmt.Errorf("historydb: %q not under %q", e.Path, oldPath)
		}
		dst, err := newP.JoinMultiple(rel)
		if err != nil {
			return historydb.BulkActionStats{}, err
		}

		if _, err := addVersionTx(ctx, tx, sourceID, historydb.AddVersionRequest{
			EncryptedPath: dst.String(),
			RecordTrigger: domain.TriggerMove,
			Kind:          kindPtr(e.Kind),
			File:          e.File,
		}); err != nil {
			return historydb.BulkActionStats{}, fmt.Errorf("moving to %q: %w", dst.String(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("historydb: commit tx: %w", err)
	}
	return historydb.BulkActionStats{AffectedPaths: len(rows)}, nil
}

// RemovePath transitions every live entry at or under path to NotExists.
func (db *DB) RemovePath(ctx context.Context, sourceID int64, path string) (historydb.BulkActionStats, error) {
	p, err := archivepath.New(path)
	if err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("invalid path: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("historydb: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := loadLiveAtOrUnder(ctx, tx, p.String())
	if err != nil {
		return historydb.BulkActionStats{}, err
	}
	// Deepest first, so a directory's children are already gone by the time
	// the has-children guard inspects it.
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path > rows[j].Path })

	for _, e := range rows {
		if _, err := addVersionTx(ctx, tx, sourceID, historydb.AddVersionRequest{
			EncryptedPath: e.Path,
			RecordTrigger: domain.TriggerRemove,
			Kind:          kindPtr(domain.KindNotExists),
		}); err != nil {
			return historydb.BulkActionStats{}, fmt.Errorf("removing %q: %w", e.Path, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("historydb: commit tx: %w", err)
	}
	return historydb.BulkActionStats{AffectedPaths: len(rows)}, nil
}

// ResetVersion restores every path at or under path to its resolved state
// as of recordedAt, recording the restoration with trigger Reset.
func (db *DB) ResetVersion(ctx context.Context, sourceID int64, path string, recordedAt time.Time) (historydb.BulkActionStats, error) {
	p, err := archivepath.New(path)
	if err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("invalid path: %w", err)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("historydb: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	resolved, err := latestVersionsAtOrBefore(ctx, tx, p.String(), recordedAt)
	if err != nil {
		return historydb.BulkActionStats{}, err
	}
	resolvedByPath := make(map[string]entryVersionRow, len(resolved))
	for _, v := range resolved {
		resolvedByPath[v.path] = v
	}

	live, err := loadLiveAtOrUnder(ctx, tx, p.String())
	if err != nil {
		return historydb.BulkActionStats{}, err
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Path > live[j].Path })

	affected := 0
	for _, e := range live {
		if _, ok := resolvedByPath[e.Path]; ok {
			continue
		}
		if _, err := addVersionTx(ctx, tx, sourceID, historydb.AddVersionRequest{
			EncryptedPath: e.Path,
			RecordTrigger: domain.TriggerReset,
			Kind:          kindPtr(domain.KindNotExists),
		}); err != nil {
			return historydb.BulkActionStats{}, fmt.Errorf("clearing %q: %w", e.Path, err)
		}
		affected++
	}

	paths := make([]string, 0, len(resolved))
	for pth := range resolvedByPath {
		paths = append(paths, pth)
	}
	sort.Strings(paths)

	for _, pth := range paths {
		v := resolvedByPath[pth]
		if !domain.EntryKind(v.kind).Exists() {
			continue
		}
		ev := v.toEntryVersion()
		if _, err := addVersionTx(ctx, tx, sourceID, historydb.AddVersionRequest{
			EncryptedPath: pth,
			RecordTrigger: domain.TriggerReset,
			Kind:          kindPtr(ev.Kind),
			File:          ev.File,
		}); err != nil {
			return historydb.BulkActionStats{}, fmt.Errorf("restoring %q: %w", pth, err)
		}
		affected++
	}

	if err := tx.Commit(ctx); err != nil {
		return historydb.BulkActionStats{}, fmt.Errorf("historydb: commit tx: %w", err)
	}
	return historydb.BulkActionStats{AffectedPaths: affected}, nil
}

func kindPtr(k domain.EntryKind) *domain.EntryKind { return &k }

func entryExistsAtOrUnder(ctx context.Context, tx pgx.Tx, path string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM entries
			WHERE kind != 0 AND (path = $1 OR path LIKE $2 ESCAPE '\')
		)`, path, descendantPattern(path)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking existence at/under %q: %w", path, err)
	}
	return exists, nil
}

func loadLiveAtOrUnder(ctx context.Context, tx pgx.Tx, path string) ([]domain.Entry, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE kind != 0 AND (path = $1 OR path LIKE $2 ESCAPE '\')`,
		path, descendantPattern(path))
	if err != nil {
		return nil, fmt.Errorf("loading entries at/under %q: %w", path, err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		r, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r.toEntry())
	}
	return out, rows.Err()
}

// latestVersionsAtOrBefore resolves, for path and everything under it, the
// latest entry_version with recorded_at <= at (DISTINCT ON path).
func latestVersionsAtOrBefore(ctx context.Context, tx pgx.Tx, path string, at time.Time) ([]entryVersionRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT ON (path) `+entryVersionColumns+`
		FROM entry_versions
		WHERE (path = $1 OR path LIKE $2 ESCAPE '\') AND recorded_at <= $3
		ORDER BY path, recorded_at DESC, id DESC`,
		path, descendantPattern(path), at)
	if err != nil {
		return nil, fmt.Errorf("resolving versions at/before %s under %q: %w", at, path, err)
	}
	defer rows.Close()

	var out []entryVersionRow
	for rows.Next() {
		r, err := scanEntryVersionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
