package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/historydb"
)

// LatestSnapshotOrFirstVersionTime returns the max snapshot timestamp, or
// the earliest entry_versions.recorded_at if no snapshot exists yet. The
// bool is false if there is no history to compact at all.
func (db *DB) LatestSnapshotOrFirstVersionTime(ctx context.Context) (time.Time, bool, error) {
	var snap *time.Time
	err := db.Pool.QueryRow(ctx, `SELECT MAX(timestamp) FROM snapshots`).Scan(&snap)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("historydb: latest snapshot: %w", err)
	}
	if snap != nil {
		return *snap, true, nil
	}

	var first *time.Time
	err = db.Pool.QueryRow(ctx, `SELECT MIN(recorded_at) FROM entry_versions`).Scan(&first)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("historydb: earliest version: %w", err)
	}
	if first == nil {
		return time.Time{}, false, nil
	}
	return *first, true, nil
}

// CompactSnapshot performs one retention step: collapse every non-snapshot
// entry_version at or before at into a single new snapshot (spec.md §4.6
// step 3). Scheduling and choosing the timestamp is the caller's job
// (internal/retention cuts it at now minus SnapshotAge); this method just
// executes the transaction for a timestamp the caller has already decided
// is due. TouchedHashes in the result holds only the deleted or re-inserted
// content hashes that no entry_version references after the step.
func (db *DB) CompactSnapshot(ctx context.Context, at time.Time) (historydb.CompactionResult, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return historydb.CompactionResult{}, fmt.Errorf("historydb: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	latest, err := latestNonSnapshotVersionsAtOrBefore(ctx, tx, at)
	if err != nil {
		return historydb.CompactionResult{}, err
	}

	touched, deletedCount, err := deleteNonSnapshotVersionsAtOrBefore(ctx, tx, at)
	if err != nil {
		return historydb.CompactionResult{}, err
	}

	var snapshotID int64
	err = tx.QueryRow(ctx, `INSERT INTO snapshots (timestamp) VALUES ($1) RETURNING id`, at).Scan(&snapshotID)
	if err != nil {
		return historydb.CompactionResult{}, fmt.Errorf("historydb: inserting snapshot: %w", err)
	}

	for _, v := range latest {
		ev := v.toEntryVersion()
		if err := insertEntryVersionAt(ctx, tx, ev.EntryID, &snapshotID, ev.Path, ev.Kind, ev.SourceID, ev.RecordTrigger, ev.File, at); err != nil {
			return historydb.CompactionResult{}, err
		}
		if v.contentHash != nil {
			touched = append(touched, v.contentHash)
		}
	}

	orphaned := touched[:0]
	for _, h := range touched {
		var referenced bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entry_versions WHERE content_hash = $1)`, h).Scan(&referenced); err != nil {
			return historydb.CompactionResult{}, fmt.Errorf("historydb: checking content hash references: %w", err)
		}
		if !referenced {
			orphaned = append(orphaned, h)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return historydb.CompactionResult{}, fmt.Errorf("historydb: commit tx: %w", err)
	}

	return historydb.CompactionResult{
		SnapshotID:     snapshotID,
		TouchedHashes:  orphaned,
		CompactedCount: deletedCount,
	}, nil
}

func latestNonSnapshotVersionsAtOrBefore(ctx context.Context, tx pgx.Tx, at time.Time) ([]entryVersionRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT ON (path) `+entryVersionColumns+`
		FROM entry_versions
		WHERE snapshot_id IS NULL AND recorded_at <= $1
		ORDER BY path, recorded_at DESC, id DESC`, at)
	if err != nil {
		return nil, fmt.Errorf("historydb: collecting latest versions for compaction: %w", err)
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

func deleteNonSnapshotVersionsAtOrBefore(ctx context.Context, tx pgx.Tx, at time.Time) ([][]byte, int, error) {
	rows, err := tx.Query(ctx, `
		DELETE FROM entry_versions
		WHERE snapshot_id IS NULL AND recorded_at <= $1
		RETURNING content_hash`, at)
	if err != nil {
		return nil, 0, fmt.Errorf("historydb: deleting compacted versions: %w", err)
	}
	defer rows.Close()

	var hashes [][]byte
	count := 0
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, 0, err
		}
		count++
		if h != nil {
			hashes = append(hashes, h)
		}
	}
	return hashes, count, rows.Err()
}

// insertEntryVersionAt is insertEntryVersion with an explicit recorded_at,
// used by snapshot compaction to re-insert history stamped exactly at the
// new snapshot's timestamp rather than at the time of compaction.
func insertEntryVersionAt(ctx context.Context, tx pgx.Tx, entryID int64, snapshotID *int64, path string, kind domain.EntryKind, sourceID int64, trigger domain.RecordTrigger, file *domain.FileMetadata, recordedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO entry_versions (entry_id, snapshot_id, path, kind, recorded_at, source_id, record_trigger,
			modified_at, original_size, encrypted_size, content_hash, unix_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		append([]any{entryID, snapshotID, path, int16(kind), recordedAt, sourceID, string(trigger)}, fileColumnValues(file)...)...,
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot entry_version for %q: %w", path, err)
	}
	return nil
}
