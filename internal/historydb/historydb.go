// Package historydb defines the server-side archive history contract:
// append-only entries and entry_versions, snapshot-based retention, and
// the bulk path operations (Move/Remove/Reset) the wire API exposes.
package historydb

import (
	"context"
	"time"

	"github.com/nf-oss/archivesync/internal/domain"
)

// AddVersionRequest is one item of an AddVersions batch.
type AddVersionRequest struct {
	EncryptedPath string
	RecordTrigger domain.RecordTrigger
	Kind          *domain.EntryKind // nil means "no content claim"; required unless Kind==NotExists
	File          *domain.FileMetadata
}

// AddVersionResponse reports whether a request produced a new version.
type AddVersionResponse struct {
	Added bool
}

// BulkActionStats is returned by MovePath/RemovePath/ResetVersion.
type BulkActionStats struct {
	AffectedPaths int
}

// DB is the server-side archive history store.
type DB interface {
	AddVersion(ctx context.Context, sourceID int64, req AddVersionRequest) (AddVersionResponse, error)
	AddVersions(ctx context.Context, sourceID int64, reqs []AddVersionRequest) ([]AddVersionResponse, error)

	MovePath(ctx context.Context, sourceID int64, oldPath, newPath string) (BulkActionStats, error)
	RemovePath(ctx context.Context, sourceID int64, path string) (BulkActionStats, error)
	ResetVersion(ctx context.Context, sourceID int64, path string, recordedAt time.Time) (BulkActionStats, error)

	GetNewEntries(ctx context.Context, cursor int64, fn func(domain.Entry) error) error
	GetDirectChildEntries(ctx context.Context, path string, fn func(domain.Entry) error) error
	GetEntryVersionsAtTime(ctx context.Context, path string, at time.Time, fn func(domain.EntryVersion) error) error
	GetAllEntryVersions(ctx context.Context, path string, recursive bool, fn func(domain.EntryVersion) error) error

	CheckIntegrity(ctx context.Context, blobs func() (<-chan BlobRef, <-chan error)) error

	CreateSource(ctx context.Context, name string) (domain.Source, error)
	ListSources(ctx context.Context) ([]domain.Source, error)
	RevokeSource(ctx context.Context, id int64) error
	SourceByToken(ctx context.Context, token string) (domain.Source, error)

	// CompactSnapshot performs one RetentionEngine step: see
	// internal/retention for the scheduling loop that calls it.
	CompactSnapshot(ctx context.Context, at time.Time) (CompactionResult, error)
	LatestSnapshotOrFirstVersionTime(ctx context.Context) (time.Time, bool, error)
}

// BlobRef is one (hash, size) pair as enumerated by BlobStore, fed into
// CheckIntegrity for cross-referencing.
type BlobRef struct {
	Hash string
	Size int64
}

// CompactionResult reports what a single retention compaction step did.
// TouchedHashes lists the content hashes the step deleted or re-inserted
// that no entry_version references any more, so RetentionEngine can remove
// their blobs.
type CompactionResult struct {
	SnapshotID     int64
	TouchedHashes  [][]byte
	CompactedCount int
}
