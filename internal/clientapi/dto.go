// Package clientapi is the client-side mirror of internal/serverapi's wire
// contract: the same /api/v1/* msgpack shapes, round-tripped through
// internal/transport instead of decoded off an http.Request. Kept as its
// own set of types rather than importing internal/serverapi directly, the
// way a client and server in this kind of system are separate binaries
// that only agree on the wire schema, never on Go types.
package clientapi

import "time"

// FileMetadataDTO is the wire form of domain.FileMetadata.
type FileMetadataDTO struct {
	ModifiedAt      time.Time `msgpack:"modified_at"`
	EncryptedSize   []byte    `msgpack:"encrypted_size"`
	EncryptedLength uint64    `msgpack:"encrypted_length"`
	ContentHash     []byte    `msgpack:"content_hash"`
	UnixMode        *uint32   `msgpack:"unix_mode,omitempty"`
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

// AddVersionItem is one request in an AddVersions batch.
type AddVersionItem struct {
	EncryptedPath string           `msgpack:"encrypted_path"`
	RecordTrigger string           `msgpack:"record_trigger"`
	Kind          *int16           `msgpack:"kind,omitempty"`
	File          *FileMetadataDTO `msgpack:"file,omitempty"`
}

type addVersionsRequest struct {
	Items []AddVersionItem `msgpack:"items"`
}

type addVersionsResponse struct {
	Added []bool `msgpack:"added"`
}

type movePathRequest struct {
	OldPath string `msgpack:"old_path"`
	NewPath string `msgpack:"new_path"`
}

type removePathRequest struct {
	Path string `msgpack:"path"`
}

type resetVersionRequest struct {
	Path       string    `msgpack:"path"`
	RecordedAt time.Time `msgpack:"recorded_at"`
}

type bulkActionStatsResponse struct {
	AffectedPaths int `msgpack:"affected_paths"`
}

type contentHashExistsRequest struct {
	EncryptedContentHash []byte `msgpack:"encrypted_content_hash"`
}

type contentHashExistsResponse struct {
	Exists bool `msgpack:"exists"`
}

type serverStatusResponse struct {
	ServerID       string `msgpack:"server_id"`
	AvailableSpace uint64 `msgpack:"available_space"`
}

// SourceInfo is one entry returned by GetSources.
type SourceInfo struct {
	ID        int64     `msgpack:"id"`
	Name      string    `msgpack:"name"`
	CreatedAt time.Time `msgpack:"created_at"`
	Revoked   bool      `msgpack:"revoked"`
}

type getSourcesResponse struct {
	Sources []SourceInfo `msgpack:"sources"`
}

type getNewEntriesRequest struct {
	LastUpdateNumber int64 `msgpack:"last_update_number"`
}

type getDirectChildEntriesRequest struct {
	EncryptedArchivePath string `msgpack:"encrypted_archive_path"`
}

type getEntryVersionsAtTimeRequest struct {
	Path       string    `msgpack:"path"`
	RecordedAt time.Time `msgpack:"recorded_at"`
}

type getAllEntryVersionsRequest struct {
	Path      string `msgpack:"path"`
	Recursive bool   `msgpack:"recursive"`
}
