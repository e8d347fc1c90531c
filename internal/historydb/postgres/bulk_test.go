package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/historydb"
)

func addFile(t *testing.T, db *DB, src int64, path string, hash []byte) {
	t.Helper()
	kind := domain.KindFile
	_, err := db.AddVersion(context.Background(), src, historydb.AddVersionRequest{
		EncryptedPath: path,
		RecordTrigger: domain.TriggerSync,
		Kind:          &kind,
		File:          fileReq(hash, nil),
	})
	require.NoError(t, err)
}

func TestMovePath_RelocatesSubtree(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	src := testSource(t, db)

	addFile(t, db, src, "/old/a.txt", []byte("ha"))
	addFile(t, db, src, "/old/sub/b.txt", []byte("hb"))

	stats, err := db.MovePath(ctx, src, "/old", "/new")
	require.NoError(t, err)
	require.Equal(t, 4, stats.AffectedPaths) // /old, /old/a.txt, /old/sub, /old/sub/b.txt

	var oldKind int16
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT kind FROM entries WHERE path = '/old'`).Scan(&oldKind))
	require.Equal(t, int16(domain.KindNotExists), oldKind)

	var newAKind, newBKind int16
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT kind FROM entries WHERE path = '/new/a.txt'`).Scan(&newAKind))
	require.Equal(t, int16(domain.KindFile), newAKind)
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT kind FROM entries WHERE path = '/new/sub/b.txt'`).Scan(&newBKind))
	require.Equal(t, int16(domain.KindFile), newBKind)
}

func TestMovePath_FailsIfDestinationExists(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	src := testSource(t, db)

	addFile(t, db, src, "/old/a.txt", []byte("ha"))
	addFile(t, db, src, "/new/a.txt", []byte("hb"))

	_, err := db.MovePath(ctx, src, "/old", "/new")
	require.ErrorIs(t, err, domain.ErrPathExists)
}

func TestRemovePath_ClearsSubtreeDeepestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	src := testSource(t, db)

	addFile(t, db, src, "/dir/a.txt", []byte("ha"))
	addFile(t, db, src, "/dir/sub/b.txt", []byte("hb"))

	stats, err := db.RemovePath(ctx, src, "/dir")
	require.NoError(t, err)
	require.Equal(t, 4, stats.AffectedPaths) // /dir, /dir/a.txt, /dir/sub, /dir/sub/b.txt

	var count int
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM entries WHERE kind != 0 AND path LIKE '/dir%'`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestResetVersion_RestoresPriorState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	src := testSource(t, db)

	addFile(t, db, src, "/f.txt", []byte("h1"))
	mid := time.Now()
	time.Sleep(10 * time.Millisecond)

	kind := domain.KindFile
	_, err := db.AddVersion(ctx, src, historydb.AddVersionRequest{
		EncryptedPath: "/f.txt",
		RecordTrigger: domain.TriggerSync,
		Kind:          &kind,
		File:          fileReq([]byte("h2"), nil),
	})
	require.NoError(t, err)

	stats, err := db.ResetVersion(ctx, src, "/f.txt", mid)
	require.NoError(t, err)
	require.Equal(t, 1, stats.AffectedPaths)

	var gotHash []byte
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT content_hash FROM entries WHERE path = '/f.txt'`).Scan(&gotHash))
	require.Equal(t, []byte("h1"), gotHash)
}

func TestResetVersion_ClearsPathsNotYetCreated(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	src := testSource(t, db)

	early := time.Now()
	time.Sleep(10 * time.Millisecond)
	addFile(t, db, src, "/dir/new.txt", []byte("h1"))

	stats, err := db.ResetVersion(ctx, src, "/dir", early)
	require.NoError(t, err)
	require.Equal(t, 2, stats.AffectedPaths) // /dir, /dir/new.txt cleared

	var kind int16
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT kind FROM entries WHERE path = '/dir/new.txt'`).Scan(&kind))
	require.Equal(t, int16(domain.KindNotExists), kind)
}
