package serverapi

import (
	"time"

	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/historydb"
)

// The types in this file are the msgpack wire shapes for /api/v1/*: kept
// distinct from internal/domain so a schema change on the wire never
// forces a change to the storage-layer types, and vice versa.

// FileMetadataDTO is the wire form of domain.FileMetadata.
type FileMetadataDTO struct {
	ModifiedAt      time.Time `msgpack:"modified_at"`
	EncryptedSize   []byte    `msgpack:"encrypted_size"`
	EncryptedLength uint64    `msgpack:"encrypted_length"`
	ContentHash     []byte    `msgpack:"content_hash"`
	UnixMode        *uint32   `msgpack:"unix_mode,omitempty"`
}

func (d *FileMetadataDTO) toDomain() *domain.FileMetadata {
	if d == nil {
		return nil
	}
	return &domain.FileMetadata{
		ModifiedAt:      d.ModifiedAt,
		EncryptedSize:   d.EncryptedSize,
		EncryptedLength: d.EncryptedLength,
		ContentHash:     d.ContentHash,
		UnixMode:        d.UnixMode,
	}
}

func fileMetadataDTO(f *domain.FileMetadata) *FileMetadataDTO {
	if f == nil {
		return nil
	}
	return &FileMetadataDTO{
		ModifiedAt:      f.ModifiedAt,
		EncryptedSize:   f.EncryptedSize,
		EncryptedLength: f.EncryptedLength,
		ContentHash:     f.ContentHash,
		UnixMode:        f.UnixMode,
	}
}

// EntryDTO is the wire form of domain.Entry.
type EntryDTO struct {
	ID            int64            `msgpack:"id"`
	UpdateNumber  int64            `msgpack:"update_number"`
	Path          string           `msgpack:"path"`
	Kind          int16            `msgpack:"kind"`
	RecordedAt    time.Time        `msgpack:"recorded_at"`
	SourceID      int64            `msgpack:"source_id"`
	RecordTrigger string           `msgpack:"record_trigger"`
	File          *FileMetadataDTO `msgpack:"file,omitempty"`
}

func entryDTO(e domain.Entry) EntryDTO {
	return EntryDTO{
		ID:            e.ID,
		UpdateNumber:  e.UpdateNumber,
		Path:          e.Path,
		Kind:          int16(e.Kind),
		RecordedAt:    e.RecordedAt,
		SourceID:      e.SourceID,
		RecordTrigger: string(e.RecordTrigger),
		File:          fileMetadataDTO(e.File),
	}
}

// EntryVersionDTO is the wire form of domain.EntryVersion.
type EntryVersionDTO struct {
	ID            int64            `msgpack:"id"`
	EntryID       int64            `msgpack:"entry_id"`
	SnapshotID    *int64           `msgpack:"snapshot_id,omitempty"`
	Path          string           `msgpack:"path"`
	Kind          int16            `msgpack:"kind"`
	RecordedAt    time.Time        `msgpack:"recorded_at"`
	SourceID      int64            `msgpack:"source_id"`
	RecordTrigger string           `msgpack:"record_trigger"`
	File          *FileMetadataDTO `msgpack:"file,omitempty"`
}

func entryVersionDTO(v domain.EntryVersion) EntryVersionDTO {
	return EntryVersionDTO{
		ID:            v.ID,
		EntryID:       v.EntryID,
		SnapshotID:    v.SnapshotID,
		Path:          v.Path,
		Kind:          int16(v.Kind),
		RecordedAt:    v.RecordedAt,
		SourceID:      v.SourceID,
		RecordTrigger: string(v.RecordTrigger),
		File:          fileMetadataDTO(v.File),
	}
}

// AddVersionItem is one request in an AddVersions batch.
type AddVersionItem struct {
	EncryptedPath string           `msgpack:"encrypted_path"`
	RecordTrigger string           `msgpack:"record_trigger"`
	Kind          *int16           `msgpack:"kind,omitempty"`
	File          *FileMetadataDTO `msgpack:"file,omitempty"`
}

func (i AddVersionItem) toHistoryDB() historydb.AddVersionRequest {
	var kind *domain.EntryKind
	if i.Kind != nil {
		k := domain.EntryKind(*i.Kind)
		kind = &k
	}
	return historydb.AddVersionRequest{
		EncryptedPath: i.EncryptedPath,
		RecordTrigger: domain.RecordTrigger(i.RecordTrigger),
		Kind:          kind,
		File:          i.File.toDomain(),
	}
}

// AddVersionsRequest is the request body of POST /api/v1/AddVersions.
type AddVersionsRequest struct {
	Items []AddVersionItem `msgpack:"items"`
}

// AddVersionsResponse is the response body of POST /api/v1/AddVersions.
type AddVersionsResponse struct {
	Added []bool `msgpack:"added"`
}

// MovePathRequest is the request body of POST /api/v1/MovePath.
type MovePathRequest struct {
	OldPath string `msgpack:"old_path"`
	NewPath string `msgpack:"new_path"`
}

// RemovePathRequest is the request body of POST /api/v1/RemovePath.
type RemovePathRequest struct {
	Path string `msgpack:"path"`
}

// ResetVersionRequest is the request body of POST /api/v1/ResetVersion.
type ResetVersionRequest struct {
	Path       string    `msgpack:"path"`
	RecordedAt time.Time `msgpack:"recorded_at"`
}

// BulkActionStatsResponse is the common response shape for MovePath,
// RemovePath and ResetVersion.
type BulkActionStatsResponse struct {
	AffectedPaths int `msgpack:"affected_paths"`
}

// ContentHashExistsRequest is the request body of POST
// /api/v1/ContentHashExists.
type ContentHashExistsRequest struct {
	EncryptedContentHash []byte `msgpack:"encrypted_content_hash"`
}

// ContentHashExistsResponse is the response body of POST
// /api/v1/ContentHashExists.
type ContentHashExistsResponse struct {
	Exists bool `msgpack:"exists"`
}

// ServerStatusResponse is the response body of POST
// /api/v1/GetServerStatus.
type ServerStatusResponse struct {
	ServerID       string `msgpack:"server_id"`
	AvailableSpace uint64 `msgpack:"available_space"`
}

// SourceInfoDTO is one entry in GetSourcesResponse.
type SourceInfoDTO struct {
	ID        int64     `msgpack:"id"`
	Name      string    `msgpack:"name"`
	CreatedAt time.Time `msgpack:"created_at"`
	Revoked   bool      `msgpack:"revoked"`
}

// GetSourcesResponse is the response body of POST /api/v1/GetSources.
type GetSourcesResponse struct {
	Sources []SourceInfoDTO `msgpack:"sources"`
}

// GetNewEntriesRequest is the request body of POST /api/v1/GetNewEntries.
type GetNewEntriesRequest struct {
	LastUpdateNumber int64 `msgpack:"last_update_number"`
}

// GetDirectChildEntriesRequest is the request body of POST
// /api/v1/GetDirectChildEntries.
type GetDirectChildEntriesRequest struct {
	EncryptedArchivePath string `msgpack:"encrypted_archive_path"`
}

// GetEntryVersionsAtTimeRequest is the request body of POST
// /api/v1/GetEntryVersionsAtTime.
type GetEntryVersionsAtTimeRequest struct {
	Path       string    `msgpack:"path"`
	RecordedAt time.Time `msgpack:"recorded_at"`
}

// GetAllEntryVersionsRequest is the request body of POST
// /api/v1/GetAllEntryVersions.
type GetAllEntryVersionsRequest struct {
	Path      string `msgpack:"path"`
	Recursive bool   `msgpack:"recursive"`
}
