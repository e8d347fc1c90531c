package retention

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nf-oss/archivesync/internal/blobstore"
	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/historydb"
)

// stubDB implements historydb.DB with only CompactSnapshot and
// LatestSnapshotOrFirstVersionTime behaving meaningfully; every other
// method panics if the engine ever calls it, which it shouldn't.
type stubDB struct {
	latest       time.Time
	found        bool
	compactCalls int
	result       historydb.CompactionResult
}

func (s *stubDB) AddVersion(ctx context.Context, sourceID int64, req historydb.AddVersionRequest) (historydb.AddVersionResponse, error) {
	panic("unused")
}
func (s *stubDB) AddVersions(ctx context.Context, sourceID int64, reqs []historydb.AddVersionRequest) ([]historydb.AddVersionResponse, error) {
	panic("unused")
}
func (s *stubDB) MovePath(ctx context.Context, sourceID int64, oldPath, newPath string) (historydb.BulkActionStats, error) {
	panic("unused")
}
func (s *stubDB) RemovePath(ctx context.Context, sourceID int64, path string) (historydb.BulkActionStats, error) {
	panic("unused")
}
func (s *stubDB) ResetVersion(ctx context.Context, sourceID int64, path string, recordedAt time.Time) (historydb.BulkActionStats, error) {
	panic("unused")
}
func (s *stubDB) GetNewEntries(ctx context.Context, cursor int64, fn func(domain.Entry) error) error {
	panic("unused")
}
func (s *stubDB) GetDirectChildEntries(ctx context.Context, path string, fn func(domain.Entry) error) error {
	panic("unused")
}
func (s *stubDB) GetEntryVersionsAtTime(ctx context.Context, path string, at time.Time, fn func(domain.EntryVersion) error) error {
	panic("unused")
}
func (s *stubDB) GetAllEntryVersions(ctx context.Context, path string, recursive bool, fn func(domain.EntryVersion) error) error {
	panic("unused")
}
func (s *stubDB) CheckIntegrity(ctx context.Context, blobs func() (<-chan historydb.BlobRef, <-chan error)) error {
	panic("unused")
}
func (s *stubDB) CreateSource(ctx context.Context, name string) (domain.Source, error) {
	panic("unused")
}
func (s *stubDB) ListSources(ctx context.Context) ([]domain.Source, error) { panic("unused") }
func (s *stubDB) RevokeSource(ctx context.Context, id int64) error         { panic("unused") }
func (s *stubDB) SourceByToken(ctx context.Context, token string) (domain.Source, error) {
	panic("unused")
}
func (s *stubDB) CompactSnapshot(ctx context.Context, at time.Time) (historydb.CompactionResult, error) {
	s.compactCalls++
	return s.result, nil
}
func (s *stubDB) LatestSnapshotOrFirstVersionTime(ctx context.Context) (time.Time, bool, error) {
	return s.latest, s.found, nil
}

var _ historydb.DB = (*stubDB)(nil)

func TestRetention_RunOnce_CompactsAndSweeps(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.Open(blobstore.Config{Root: dir})
	require.NoError(t, err)

	hash := "aabbccddeeff00112233445566778899aabbccdd"
	shardDir := blobstore.ComputeDir(dir, hash)
	require.NoError(t, os.MkdirAll(shardDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shardDir, hash), []byte("orphaned-blob-content"), 0o644))

	raw, err := hex.DecodeString(hash)
	require.NoError(t, err)

	db := &stubDB{
		latest: time.Now().Add(-48 * time.Hour),
		found:  true,
		result: historydb.CompactionResult{SnapshotID: 7, CompactedCount: 3, TouchedHashes: [][]byte{raw}},
	}

	eng := New(Config{ScanInterval: time.Hour, SnapshotAge: 24 * time.Hour}, db, store, nil, zerolog.Nop())
	eng.runOnce(context.Background())

	require.Equal(t, 1, db.compactCalls)
	exists, err := store.Exists(hash)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRetention_RunOnce_NotDueYet(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.Open(blobstore.Config{Root: dir})
	require.NoError(t, err)

	db := &stubDB{latest: time.Now(), found: true}
	eng := New(Config{ScanInterval: time.Hour, SnapshotAge: 24 * time.Hour}, db, store, nil, zerolog.Nop())
	eng.runOnce(context.Background())

	require.Equal(t, 0, db.compactCalls)
}
