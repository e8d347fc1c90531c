package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/localcache"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := Open(context.Background(), path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}
}

func TestLocalEntry_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mode := uint32(0o644)
	entry := domain.LocalEntry{
		Kind: domain.KindFile,
		File: &domain.LocalFileData{
			ModifiedAt:    time.Now().UTC().Truncate(time.Second),
			OriginalSize:  100,
			EncryptedSize: 148,
			UnixMode:      &mode,
		},
	}
	copy(entry.File.ContentHash[:], []byte("0123456789abcdef0123456789abcdef"))

	require.NoError(t, s.PutLocalEntry(ctx, "docs/a.txt", entry))

	got, found, err := s.LocalEntry(ctx, "docs/a.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.KindFile, got.Kind)
	require.Equal(t, entry.File.OriginalSize, got.File.OriginalSize)
	require.True(t, entry.File.ModifiedAt.Equal(got.File.ModifiedAt))
	require.Equal(t, entry.File.ContentHash, got.File.ContentHash)

	require.NoError(t, s.DeleteLocalEntry(ctx, "docs/a.txt"))
	_, found, err = s.LocalEntry(ctx, "docs/a.txt")
	require.NoError(t, err)
	require.False(t, found)
}

func TestApplyPulledEntries_AdvancesCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cursor, err := s.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), cursor)

	entries := []domain.Entry{
		{ID: 1, UpdateNumber: 1, Path: "a", Kind: domain.KindDirectory, RecordedAt: time.Now().UTC(), SourceID: 1, RecordTrigger: domain.TriggerSync},
		{ID: 2, UpdateNumber: 2, Path: "a/b.txt", Kind: domain.KindFile, RecordedAt: time.Now().UTC(), SourceID: 1, RecordTrigger: domain.TriggerUpload,
			File: &domain.FileMetadata{EncryptedLength: 64, ContentHash: []byte("hash"), EncryptedSize: []byte("size")}},
	}
	require.NoError(t, s.ApplyPulledEntries(ctx, entries, 2))

	cursor, err = s.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), cursor)

	got, found, err := s.ArchiveEntry(ctx, "a/b.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(64), got.File.EncryptedLength)

	var seen []string
	require.NoError(t, s.WalkArchiveEntries(ctx, func(e domain.Entry) error {
		seen = append(seen, e.Path)
		return nil
	}))
	require.ElementsMatch(t, []string{"a", "a/b.txt"}, seen)
}

func TestRecordNotification_Accumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordNotification(ctx, "created"))
	require.NoError(t, s.RecordNotification(ctx, "created"))
	require.NoError(t, s.RecordNotification(ctx, "deleted"))

	stats, err := s.NotificationStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Created)
	require.Equal(t, int64(1), stats.Deleted)

	require.NoError(t, s.ResetNotificationStats(ctx))
	stats, err = s.NotificationStats(ctx)
	require.NoError(t, err)
	require.Equal(t, localcache.NotificationStats{}, stats)
}
