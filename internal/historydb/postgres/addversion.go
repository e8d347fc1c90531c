package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nf-oss/archivesync/internal/archivepath"
	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/historydb"
)

// AddVersion implements the single-item case of AddVersions.
func (db *DB) AddVersion(ctx context.Context, sourceID int64, req historydb.AddVersionRequest) (historydb.AddVersionResponse, error) {
	resp, err := db.AddVersions(ctx, sourceID, []historydb.AddVersionRequest{req})
	if err != nil {
		return historydb.AddVersionResponse{}, err
	}
	return resp[0], nil
}

// AddVersions applies every request in one transaction, in order, and
// returns a same-order vector of responses (spec.md §4.3).
func (db *DB) AddVersions(ctx context.Context, sourceID int64, reqs []historydb.AddVersionRequest) ([]historydb.AddVersionResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("historydb: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	out := make([]historydb.AddVersionResponse, len(reqs))
	for i, req := range reqs {
		added, err := addVersionTx(ctx, tx, sourceID, req)
		if err != nil {
			return nil, fmt.Errorf("historydb: AddVersion %q: %w", req.EncryptedPath, err)
		}
		out[i] = historydb.AddVersionResponse{Added: added}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("historydb: commit tx: %w", err)
	}
	return out, nil
}

// addVersionTx is the hard part: ancestor synthesis/revival, the
// materially-equivalent idempotence short-circuit, and the
// has-children deletion guard, all inside the caller's transaction.
func addVersionTx(ctx context.Context, tx pgx.Tx, sourceID int64, req historydb.AddVersionRequest) (bool, error) {
	path, err := archivepath.New(req.EncryptedPath)
	if err != nil {
		return false, fmt.Errorf("invalid path: %w", err)
	}

	kind := domain.KindNotExists
	if req.Kind != nil {
		kind = *req.Kind
	}

	if req.File != nil {
		if err := verifyBlobClaim(ctx, tx, req.File); err != nil {
			return false, err
		}
	}

	existing, err := findEntryByPath(ctx, tx, path.String())
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	hasExisting := err == nil

	if hasExisting {
		var contentHash []byte
		var unixMode *uint32
		if req.File != nil {
			contentHash = req.File.ContentHash
			unixMode = req.File.UnixMode
		}
		if existing.MateriallyEquivalent(kind, contentHash, unixMode) {
			return false, nil
		}
	}

	if !kind.Exists() {
		hasChild, err := hasAnyChild(ctx, tx, path.String())
		if err != nil {
			return false, err
		}
		if hasChild {
			return false, fmt.Errorf("cannot mark deleted: %w", domain.ErrHasChildren)
		}
	}

	// Preserve unix_mode from the prior entry when the new request omits it.
	file := req.File
	if hasExisting && kind == domain.KindFile && file != nil && file.UnixMode == nil &&
		existing.File != nil && existing.File.UnixMode != nil {
		withMode := *file
		withMode.UnixMode = existing.File.UnixMode
		file = &withMode
	}

	var parentDirID *int64
	if kind.Exists() && !path.IsRoot() {
		parent, ok := path.Parent()
		if ok {
			id, err := ensureAncestorDirectory(ctx, tx, sourceID, parent)
			if err != nil {
				return false, err
			}
			parentDirID = &id
		}
	}

	if hasExisting {
		if err := reviseEntry(ctx, tx, existing.ID, parentDirID, kind, sourceID, req.RecordTrigger, file); err != nil {
			return false, err
		}
	} else {
		if _, err := insertEntry(ctx, tx, path.String(), parentDirID, kind, sourceID, req.RecordTrigger, file); err != nil {
			return false, err
		}
	}

	return true, nil
}

func verifyBlobClaim(ctx context.Context, tx pgx.Tx, f *domain.FileMetadata) error {
	_ = ctx
	_ = tx
	if f.ContentHash == nil {
		return errors.New("file metadata missing content hash")
	}
	// Actual blob-existence/size verification against BlobStore happens one
	// layer up in serverapi, which has the Store handle; historydb only
	// owns the metadata row. See serverapi's AddVersion handler.
	return nil
}

func findEntryByPath(ctx context.Context, tx pgx.Tx, path string) (domain.Entry, error) {
	row := tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE path = $1`, path)
	r, err := scanEntryRow(row)
	if err != nil {
		return domain.Entry{}, err
	}
	return r.toEntry(), nil
}

func findEntryByID(ctx context.Context, tx pgx.Tx, id int64) (domain.Entry, error) {
	row := tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
	r, err := scanEntryRow(row)
	if err != nil {
		return domain.Entry{}, err
	}
	return r.toEntry(), nil
}

func hasAnyChild(ctx context.Context, tx pgx.Tx, path string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM entries
			WHERE kind != 0 AND path LIKE $1 ESCAPE '\'
		)`, descendantPattern(path)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking children of %q: %w", path, err)
	}
	return exists, nil
}

// ensureAncestorDirectory walks from root down to dir, creating or reviving
// every ancestor that does not already exist as a Directory, and returns
// dir's entry id. Root itself is never materialized as a row.
func ensureAncestorDirectory(ctx context.Context, tx pgx.Tx, sourceID int64, dir archivepath.Path) (int64, error) {
	if dir.IsRoot() {
		return 0, errors.New("historydb: root has no entry id")
	}

	var parentID *int64
	cur, _ := archivepath.New(archivepath.Root)
	for _, comp := range dir.Components() {
		next, err := cur.JoinOne(comp)
		if err != nil {
			return 0, err
		}
		id, err := ensureDirectoryAt(ctx, tx, sourceID, next, parentID)
		if err != nil {
			return 0, err
		}
		parentID = &id
		cur = next
	}
	return *parentID, nil
}

// ensureDirectoryAt guarantees a single path segment exists as a live
// Directory entry, creating or reviving it as needed (I1), and returns its
// entry id.
func ensureDirectoryAt(ctx context.Context, tx pgx.Tx, sourceID int64, p archivepath.Path, parentID *int64) (int64, error) {
	existing, err := findEntryByPath(ctx, tx, p.String())
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return insertEntry(ctx, tx, p.String(), parentID, domain.KindDirectory, sourceID, domain.TriggerSync, nil)
	case err != nil:
		return 0, err
	case existing.Kind == domain.KindDirectory:
		return existing.ID, nil
	default:
		// NotExists (or, pathologically, a stale File row that a higher
		// layer should have cleared first) gets revived as a Directory,
		// preserving its id so descendants' parent_dir stays valid (I1).
		if err := reviseEntry(ctx, tx, existing.ID, parentID, domain.KindDirectory, sourceID, domain.TriggerSync, nil); err != nil {
			return 0, err
		}
		return existing.ID, nil
	}
}

func nextUpdateNumber(ctx context.Context, tx pgx.Tx) (int64, error) {
	var n int64
	if err := tx.QueryRow(ctx, `SELECT nextval('entry_update_numbers')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("historydb: next update number: %w", err)
	}
	return n, nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, path string, parentID *int64, kind domain.EntryKind, sourceID int64, trigger domain.RecordTrigger, file *domain.FileMetadata) (int64, error) {
	updateNumber, err := nextUpdateNumber(ctx, tx)
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO entries (update_number, parent_dir, path, kind, recorded_at, source_id, record_trigger,
			modified_at, original_size, encrypted_size, content_hash, unix_mode)
		VALUES ($1, $2, $3, $4, now(), $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		updateNumber, parentID, path, int16(kind), sourceID, string(trigger),
		fileColumnValues(file)...,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", domain.ErrPathExists, path)
		}
		return 0, fmt.Errorf("inserting entry %q: %w", path, err)
	}

	if err := insertEntryVersion(ctx, tx, id, nil, path, kind, sourceID, trigger, file); err != nil {
		return 0, err
	}
	return id, nil
}

func reviseEntry(ctx context.Context, tx pgx.Tx, id int64, parentID *int64, kind domain.EntryKind, sourceID int64, trigger domain.RecordTrigger, file *domain.FileMetadata) error {
	updateNumber, err := nextUpdateNumber(ctx, tx)
	if err != nil {
		return err
	}

	vals := fileColumnValues(file)
	_, err = tx.Exec(ctx, `
		UPDATE entries SET
			update_number = $1, parent_dir = $2, kind = $3, recorded_at = now(),
			source_id = $4, record_trigger = $5,
			modified_at = $6, original_size = $7, encrypted_size = $8, content_hash = $9, unix_mode = $10
		WHERE id = $11`,
		append([]any{updateNumber, parentID, int16(kind), sourceID, string(trigger)}, append(vals, id)...)...,
	)
	if err != nil {
		return fmt.Errorf("revising entry %d: %w", id, err)
	}

	var path string
	if err := tx.QueryRow(ctx, `SELECT path FROM entries WHERE id = $1`, id).Scan(&path); err != nil {
		return fmt.Errorf("reloading revised entry %d: %w", id, err)
	}

	return insertEntryVersion(ctx, tx, id, nil, path, kind, sourceID, trigger, file)
}

func insertEntryVersion(ctx context.Context, tx pgx.Tx, entryID int64, snapshotID *int64, path string, kind domain.EntryKind, sourceID int64, trigger domain.RecordTrigger, file *domain.FileMetadata) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO entry_versions (entry_id, snapshot_id, path, kind, recorded_at, source_id, record_trigger,
			modified_at, original_size, encrypted_size, content_hash, unix_mode)
		VALUES ($1, $2, $3, $4, now(), $5, $6, $7, $8, $9, $10, $11)`,
		append([]any{entryID, snapshotID, path, int16(kind), sourceID, string(trigger)}, fileColumnValues(file)...)...,
	)
	if err != nil {
		return fmt.Errorf("inserting entry_version for %q: %w", path, err)
	}
	return nil
}

func fileColumnValues(file *domain.FileMetadata) []any {
	if file == nil {
		return []any{nil, nil, nil, nil, nil}
	}
	var encSize *int64
	if file.EncryptedLength > 0 {
		v := int64(file.EncryptedLength)
		encSize = &v
	}
	var unixMode *int64
	if file.UnixMode != nil {
		v := int64(*file.UnixMode)
		unixMode = &v
	}
	var modifiedAt any
	if !file.ModifiedAt.IsZero() {
		modifiedAt = file.ModifiedAt
	}
	return []any{modifiedAt, file.EncryptedSize, encSize, file.ContentHash, unixMode}
}
