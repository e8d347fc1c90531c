package postgres

import (
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nf-oss/archivesync/internal/domain"
)

// entryRow mirrors the entries table's nullable file-only columns before
// they are folded into a *domain.FileMetadata.
type entryRow struct {
	id            int64
	updateNumber  int64
	parentDir     *int64
	path          string
	kind          int16
	recordedAt    time.Time
	sourceID      int64
	recordTrigger string

	modifiedAt    *time.Time
	originalSize  []byte
	encryptedSize *int64
	contentHash   []byte
	unixMode      *int64
}

func scanEntryRow(row pgx.Row) (entryRow, error) {
	var r entryRow
	err := row.Scan(
		&r.id, &r.updateNumber, &r.parentDir, &r.path, &r.kind, &r.recordedAt,
		&r.sourceID, &r.recordTrigger,
		&r.modifiedAt, &r.originalSize, &r.encryptedSize, &r.contentHash, &r.unixMode,
	)
	return r, err
}

func (r entryRow) toEntry() domain.Entry {
	e := domain.Entry{
		ID:            r.id,
		UpdateNumber:  r.updateNumber,
		ParentDirID:   r.parentDir,
		Path:          r.path,
		Kind:          domain.EntryKind(r.kind),
		RecordedAt:    r.recordedAt,
		SourceID:      r.sourceID,
		RecordTrigger: domain.RecordTrigger(r.recordTrigger),
	}
	e.File = r.fileMetadata()
	return e
}

func (r entryRow) fileMetadata() *domain.FileMetadata {
	if domain.EntryKind(r.kind) != domain.KindFile {
		return nil
	}
	fm := &domain.FileMetadata{
		EncryptedSize: r.originalSize,
		ContentHash:   r.contentHash,
	}
	if r.modifiedAt != nil {
		fm.ModifiedAt = *r.modifiedAt
	}
	if r.encryptedSize != nil {
		fm.EncryptedLength = uint64(*r.encryptedSize)
	}
	if r.unixMode != nil {
		m := uint32(*r.unixMode)
		fm.UnixMode = &m
	}
	return fm
}

// entryVersionRow mirrors entry_versions, which additionally carries
// entry_id/snapshot_id instead of the self-referencing parent_dir entries
// has.
type entryVersionRow struct {
	id            int64
	entryID       int64
	snapshotID    *int64
	path          string
	kind          int16
	recordedAt    time.Time
	sourceID      int64
	recordTrigger string

	modifiedAt    *time.Time
	originalSize  []byte
	encryptedSize *int64
	contentHash   []byte
	unixMode      *int64
}

func scanEntryVersionRow(row pgx.Row) (entryVersionRow, error) {
	var r entryVersionRow
	err := row.Scan(
		&r.id, &r.entryID, &r.snapshotID, &r.path, &r.kind, &r.recordedAt,
		&r.sourceID, &r.recordTrigger,
		&r.modifiedAt, &r.originalSize, &r.encryptedSize, &r.contentHash, &r.unixMode,
	)
	return r, err
}

func (r entryVersionRow) toEntryVersion() domain.EntryVersion {
	ev := domain.EntryVersion{
		ID:            r.id,
		EntryID:       r.entryID,
		SnapshotID:    r.snapshotID,
		Path:          r.path,
		Kind:          domain.EntryKind(r.kind),
		RecordedAt:    r.recordedAt,
		SourceID:      r.sourceID,
		RecordTrigger: domain.RecordTrigger(r.recordTrigger),
	}
	ev.File = entryRow{
		kind:          r.kind,
		modifiedAt:    r.modifiedAt,
		originalSize:  r.originalSize,
		encryptedSize: r.encryptedSize,
		contentHash:   r.contentHash,
		unixMode:      r.unixMode,
	}.fileMetadata()
	return ev
}

const entryColumns = `id, update_number, parent_dir, path, kind, recorded_at, source_id, record_trigger,
	modified_at, original_size, encrypted_size, content_hash, unix_mode`

const entryVersionColumns = `id, entry_id, snapshot_id, path, kind, recorded_at, source_id, record_trigger,
	modified_at, original_size, encrypted_size, content_hash, unix_mode`
