package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/localcache"
)

// Store implements localcache.Store over a DB.
type Store struct {
	db *DB
}

// NewStore wraps db as a localcache.Store.
func NewStore(db *DB) localcache.Store {
	return &Store{db: db}
}

func (s *Store) LocalEntry(ctx context.Context, path string) (domain.LocalEntry, bool, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT kind, modified_at, original_size, encrypted_size, content_hash, unix_mode
		FROM local_entries WHERE path = ?
	`, path)

	var (
		kind                        int
		modifiedAt                  sql.NullString
		originalSize, encryptedSize sql.NullInt64
		contentHash                 []byte
		unixMode                    sql.NullInt64
	)
	if err := row.Scan(&kind, &modifiedAt, &originalSize, &encryptedSize, &contentHash, &unixMode); err != nil {
		if isNoRows(err) {
			return domain.LocalEntry{}, false, nil
		}
		return domain.LocalEntry{}, false, fmt.Errorf("localcache: reading local entry %s: %w", path, err)
	}

	e := domain.LocalEntry{Kind: domain.EntryKind(kind)}
	if e.Kind == domain.KindFile {
		f := &domain.LocalFileData{
			OriginalSize:  uint64(originalSize.Int64),
			EncryptedSize: uint64(encryptedSize.Int64),
		}
		if modifiedAt.Valid {
			f.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt.String)
		}
		copy(f.ContentHash[:], contentHash)
		if unixMode.Valid {
			m := uint32(unixMode.Int64)
			f.UnixMode = &m
		}
		e.File = f
	}
	return e, true, nil
}

func (s *Store) PutLocalEntry(ctx context.Context, path string, e domain.LocalEntry) error {
	var (
		modifiedAt                  *string
		originalSize, encryptedSize *int64
		contentHash                 []byte
		unixMode                    *int64
	)
	if e.Kind == domain.KindFile && e.File != nil {
		m := e.File.ModifiedAt.Format(time.RFC3339Nano)
		modifiedAt = &m
		os := int64(e.File.OriginalSize)
		originalSize = &os
		es := int64(e.File.EncryptedSize)
		encryptedSize = &es
		contentHash = e.File.ContentHash[:]
		if e.File.UnixMode != nil {
			um := int64(*e.File.UnixMode)
			unixMode = &um
		}
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO local_entries (path, kind, modified_at, original_size, encrypted_size, content_hash, unix_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind = excluded.kind,
			modified_at = excluded.modified_at,
			original_size = excluded.original_size,
			encrypted_size = excluded.encrypted_size,
			content_hash = excluded.content_hash,
			unix_mode = excluded.unix_mode
	`, path, int(e.Kind), modifiedAt, originalSize, encryptedSize, contentHash, unixMode)
	if err != nil {
		return fmt.Errorf("localcache: upserting local entry %s: %w", path, err)
	}
	return nil
}

func (s *Store) DeleteLocalEntry(ctx context.Context, path string) error {
	if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM local_entries WHERE path = ?`, path); err != nil {
		return fmt.Errorf("localcache: deleting local entry %s: %w", path, err)
	}
	return nil
}

func (s *Store) WalkLocalEntries(ctx context.Context, fn func(path string, e domain.LocalEntry) error) error {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT path, kind, modified_at, original_size, encrypted_size, content_hash, unix_mode
		FROM local_entries ORDER BY path
	`)
	if err != nil {
		return fmt.Errorf("localcache: listing local entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path                        string
			kind                        int
			modifiedAt                  sql.NullString
			originalSize, encryptedSize sql.NullInt64
			contentHash                 []byte
			unixMode                    sql.NullInt64
		)
		if err := rows.Scan(&path, &kind, &modifiedAt, &originalSize, &encryptedSize, &contentHash, &unixMode); err != nil {
			return fmt.Errorf("localcache: scanning local entry: %w", err)
		}
		e := domain.LocalEntry{Kind: domain.EntryKind(kind)}
		if e.Kind == domain.KindFile {
			f := &domain.LocalFileData{OriginalSize: uint64(originalSize.Int64), EncryptedSize: uint64(encryptedSize.Int64)}
			if modifiedAt.Valid {
				f.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt.String)
			}
			copy(f.ContentHash[:], contentHash)
			if unixMode.Valid {
				m := uint32(unixMode.Int64)
				f.UnixMode = &m
			}
			e.File = f
		}
		if err := fn(path, e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) ArchiveEntry(ctx context.Context, path string) (domain.Entry, bool, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT entry_id, update_number, kind, recorded_at, source_id, record_trigger,
		       file_modified_at, file_encrypted_size, file_encrypted_length, file_content_hash, file_unix_mode
		FROM archive_entries WHERE path = ?
	`, path)
	e, found, err := scanArchiveEntry(row, path)
	return e, found, err
}

func (s *Store) WalkArchiveEntries(ctx context.Context, fn func(domain.Entry) error) error {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT path, entry_id, update_number, kind, recorded_at, source_id, record_trigger,
		       file_modified_at, file_encrypted_size, file_encrypted_length, file_content_hash, file_unix_mode
		FROM archive_entries ORDER BY path
	`)
	if err != nil {
		return fmt.Errorf("localcache: listing archive entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		var (
			entryID, updateNumber, kind, sourceID int64
			recordedAt, recordTrigger             string
			fileModifiedAt                        sql.NullString
			fileEncryptedSize                     []byte
			fileEncryptedLength                   sql.NullInt64
			fileContentHash                        []byte
			fileUnixMode                           sql.NullInt64
		)
		if err := rows.Scan(&path, &entryID, &updateNumber, &kind, &recordedAt, &sourceID, &recordTrigger,
			&fileModifiedAt, &fileEncryptedSize, &fileEncryptedLength, &fileContentHash, &fileUnixMode); err != nil {
			return fmt.Errorf("localcache: scanning archive entry: %w", err)
		}
		e := buildArchiveEntry(path, entryID, updateNumber, kind, recordedAt, sourceID, recordTrigger,
			fileModifiedAt, fileEncryptedSize, fileEncryptedLength, fileContentHash, fileUnixMode)
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchiveEntry(row rowScanner, path string) (domain.Entry, bool, error) {
	var (
		entryID, updateNumber, kind, sourceID int64
		recordedAt, recordTrigger             string
		fileModifiedAt                        sql.NullString
		fileEncryptedSize                     []byte
		fileEncryptedLength                   sql.NullInt64
		fileContentHash                        []byte
		fileUnixMode                           sql.NullInt64
	)
	err := row.Scan(&entryID, &updateNumber, &kind, &recordedAt, &sourceID, &recordTrigger,
		&fileModifiedAt, &fileEncryptedSize, &fileEncryptedLength, &fileContentHash, &fileUnixMode)
	if err != nil {
		if isNoRows(err) {
			return domain.Entry{}, false, nil
		}
		return domain.Entry{}, false, fmt.Errorf("localcache: reading archive entry %s: %w", path, err)
	}
	return buildArchiveEntry(path, entryID, updateNumber, kind, recordedAt, sourceID, recordTrigger,
		fileModifiedAt, fileEncryptedSize, fileEncryptedLength, fileContentHash, fileUnixMode), true, nil
}

func buildArchiveEntry(
	path string,
	entryID, updateNumber, kind int64,
	recordedAt string,
	sourceID int64,
	recordTrigger string,
	fileModifiedAt sql.NullString,
	fileEncryptedSize []byte,
	fileEncryptedLength sql.NullInt64,
	fileContentHash []byte,
	fileUnixMode sql.NullInt64,
) domain.Entry {
	e := domain.Entry{
		ID:            entryID,
		UpdateNumber:  updateNumber,
		Path:          path,
		Kind:          domain.EntryKind(kind),
		SourceID:      sourceID,
		RecordTrigger: domain.RecordTrigger(recordTrigger),
	}
	e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
	if e.Kind == domain.KindFile {
		f := &domain.FileMetadata{EncryptedSize: fileEncryptedSize, ContentHash: fileContentHash}
		if fileModifiedAt.Valid {
			f.ModifiedAt, _ = time.Parse(time.RFC3339Nano, fileModifiedAt.String)
		}
		if fileEncryptedLength.Valid {
			f.EncryptedLength = uint64(fileEncryptedLength.Int64)
		}
		if fileUnixMode.Valid {
			m := uint32(fileUnixMode.Int64)
			f.UnixMode = &m
		}
		e.File = f
	}
	return e
}

// ApplyPulledEntries upserts entries and advances the cursor in a single
// transaction: GetNewEntries is idempotent re-pulled from an old cursor, so
// a transaction that fails partway leaves the cache consistent with
// whatever cursor value it last committed.
func (s *Store) ApplyPulledEntries(ctx context.Context, entries []domain.Entry, newCursor int64) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localcache: beginning apply transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		var (
			fileModifiedAt       *string
			fileEncryptedLength  *int64
			fileUnixMode         *int64
		)
		var fileEncryptedSize, fileContentHash []byte
		if e.Kind == domain.KindFile && e.File != nil {
			m := e.File.ModifiedAt.Format(time.RFC3339Nano)
			fileModifiedAt = &m
			fileEncryptedSize = e.File.EncryptedSize
			fileContentHash = e.File.ContentHash
			el := int64(e.File.EncryptedLength)
			fileEncryptedLength = &el
			if e.File.UnixMode != nil {
				um := int64(*e.File.UnixMode)
				fileUnixMode = &um
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO archive_entries (
				path, entry_id, update_number, kind, recorded_at, source_id, record_trigger,
				file_modified_at, file_encrypted_size, file_encrypted_length, file_content_hash, file_unix_mode
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				entry_id = excluded.entry_id,
				update_number = excluded.update_number,
				kind = excluded.kind,
				recorded_at = excluded.recorded_at,
				source_id = excluded.source_id,
				record_trigger = excluded.record_trigger,
				file_modified_at = excluded.file_modified_at,
				file_encrypted_size = excluded.file_encrypted_size,
				file_encrypted_length = excluded.file_encrypted_length,
				file_content_hash = excluded.file_content_hash,
				file_unix_mode = excluded.file_unix_mode
		`, e.Path, e.ID, e.UpdateNumber, int(e.Kind), e.RecordedAt.Format(time.RFC3339Nano), e.SourceID, string(e.RecordTrigger),
			fileModifiedAt, fileEncryptedSize, fileEncryptedLength, fileContentHash, fileUnixMode)
		if err != nil {
			return fmt.Errorf("localcache: upserting pulled entry %s: %w", e.Path, err)
		}
	}

	if err := putCursorTx(ctx, tx, newCursor); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localcache: committing apply transaction: %w", err)
	}
	return nil
}

func (s *Store) Cursor(ctx context.Context) (int64, error) {
	var value string
	err := s.db.conn.QueryRowContext(ctx, `SELECT value FROM kv_settings WHERE key = ?`, keyLastUpdateNumber).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("localcache: reading cursor: %w", err)
	}
	var cursor int64
	if _, err := fmt.Sscanf(value, "%d", &cursor); err != nil {
		return 0, fmt.Errorf("localcache: decoding cursor: %w", err)
	}
	return cursor, nil
}

func putCursorTx(ctx context.Context, tx *sql.Tx, cursor int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO kv_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, keyLastUpdateNumber, fmt.Sprintf("%d", cursor))
	if err != nil {
		return fmt.Errorf("localcache: advancing cursor: %w", err)
	}
	return nil
}

func (s *Store) NotificationStats(ctx context.Context) (localcache.NotificationStats, error) {
	var raw string
	err := s.db.conn.QueryRowContext(ctx, `SELECT value FROM kv_settings WHERE key = ?`, keyNotificationStats).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return localcache.NotificationStats{}, nil
		}
		return localcache.NotificationStats{}, fmt.Errorf("localcache: reading notification stats: %w", err)
	}
	var stats localcache.NotificationStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return localcache.NotificationStats{}, fmt.Errorf("localcache: decoding notification stats: %w", err)
	}
	return stats, nil
}

func (s *Store) RecordNotification(ctx context.Context, kind string) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localcache: beginning notification transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	var stats localcache.NotificationStats
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv_settings WHERE key = ?`, keyNotificationStats).Scan(&raw)
	if err != nil && !isNoRows(err) {
		return fmt.Errorf("localcache: reading notification stats: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal([]byte(raw), &stats); err != nil {
			return fmt.Errorf("localcache: decoding notification stats: %w", err)
		}
	}

	switch kind {
	case "created":
		stats.Created++
	case "updated":
		stats.Updated++
	case "deleted":
		stats.Deleted++
	case "conflicts":
		stats.Conflicts++
	default:
		return fmt.Errorf("localcache: unknown notification kind %q", kind)
	}

	encoded, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("localcache: encoding notification stats: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, keyNotificationStats, string(encoded))
	if err != nil {
		return fmt.Errorf("localcache: writing notification stats: %w", err)
	}

	return tx.Commit()
}

func (s *Store) ResetNotificationStats(ctx context.Context) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM kv_settings WHERE key = ?`, keyNotificationStats)
	if err != nil {
		return fmt.Errorf("localcache: resetting notification stats: %w", err)
	}
	return nil
}

var _ localcache.Store = (*Store)(nil)
