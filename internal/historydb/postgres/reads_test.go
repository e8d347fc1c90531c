package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nf-oss/archivesync/internal/domain"
)

func TestGetNewEntries_OrderedByUpdateNumber(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	src := testSource(t, db)

	addFile(t, db, src, "/a.txt", []byte("ha"))
	addFile(t, db, src, "/b.txt", []byte("hb"))

	var seen []int64
	err := db.GetNewEntries(ctx, 0, func(e domain.Entry) error {
		seen = append(seen, e.UpdateNumber)
		return nil
	})
	require.NoError(t, err)
	require.True(t, len(seen) >= 2)
	for i := 1; i < len(seen); i++ {
		require.Less(t, seen[i-1], seen[i])
	}
}

func TestGetDirectChildEntries_RequiresPathExists(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.GetDirectChildEntries(ctx, "/nope", func(domain.Entry) error { return nil })
	require.Error(t, err)
}

func TestGetDirectChildEntries_Children(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	src := testSource(t, db)

	addFile(t, db, src, "/dir/a.txt", []byte("ha"))
	addFile(t, db, src, "/dir/b.txt", []byte("hb"))

	var paths []string
	err := db.GetDirectChildEntries(ctx, "/dir", func(e domain.Entry) error {
		paths = append(paths, e.Path)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/dir/a.txt", "/dir/b.txt"}, paths)
}

func TestGetEntryVersionsAtTime_LatestAtOrBefore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	src := testSource(t, db)

	addFile(t, db, src, "/f.txt", []byte("h1"))
	cutoff := time.Now().Add(time.Hour)

	var hashes [][]byte
	err := db.GetEntryVersionsAtTime(ctx, "/", cutoff, func(ev domain.EntryVersion) error {
		if ev.Path == "/f.txt" {
			hashes = append(hashes, ev.File.ContentHash)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("h1")}, hashes)
}

func TestGetAllEntryVersions_RecursiveVsNot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	src := testSource(t, db)

	addFile(t, db, src, "/dir/a.txt", []byte("ha"))

	var nonRecursive, recursive int
	require.NoError(t, db.GetAllEntryVersions(ctx, "/dir", false, func(domain.EntryVersion) error {
		nonRecursive++
		return nil
	}))
	require.NoError(t, db.GetAllEntryVersions(ctx, "/dir", true, func(domain.EntryVersion) error {
		recursive++
		return nil
	}))
	require.Equal(t, 1, nonRecursive) // just the /dir directory creation
	require.Equal(t, 2, recursive)    // /dir and /dir/a.txt
}
