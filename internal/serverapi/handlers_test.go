package serverapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nf-oss/archivesync/internal/authsrv"
	"github.com/nf-oss/archivesync/internal/blobstore"
	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/historydb"
	"github.com/nf-oss/archivesync/internal/wire"
)

// fakeDB implements historydb.DB with just enough behavior for router
// tests; every method panics if called beyond what a test configures.
type fakeDB struct {
	addVersionsFn func([]historydb.AddVersionRequest) ([]historydb.AddVersionResponse, error)
	sources       []domain.Source
}

func (f *fakeDB) AddVersion(ctx context.Context, sourceID int64, req historydb.AddVersionRequest) (historydb.AddVersionResponse, error) {
	res, err := f.AddVersions(ctx, sourceID, []historydb.AddVersionRequest{req})
	if err != nil {
		return historydb.AddVersionResponse{}, err
	}
	return res[0], nil
}

func (f *fakeDB) AddVersions(ctx context.Context, sourceID int64, reqs []historydb.AddVersionRequest) ([]historydb.AddVersionResponse, error) {
	return f.addVersionsFn(reqs)
}

func (f *fakeDB) MovePath(ctx context.Context, sourceID int64, oldPath, newPath string) (historydb.BulkActionStats, error) {
	return historydb.BulkActionStats{AffectedPaths: 1}, nil
}

func (f *fakeDB) RemovePath(ctx context.Context, sourceID int64, path string) (historydb.BulkActionStats, error) {
	return historydb.BulkActionStats{AffectedPaths: 1}, nil
}

func (f *fakeDB) ResetVersion(ctx context.Context, sourceID int64, path string, recordedAt time.Time) (historydb.BulkActionStats, error) {
	return historydb.BulkActionStats{AffectedPaths: 1}, nil
}

func (f *fakeDB) GetNewEntries(ctx context.Context, cursor int64, fn func(domain.Entry) error) error {
	return fn(domain.Entry{ID: 1, UpdateNumber: cursor + 1, Path: "abc", Kind: domain.KindDirectory})
}

func (f *fakeDB) GetDirectChildEntries(ctx context.Context, path string, fn func(domain.Entry) error) error {
	return nil
}

func (f *fakeDB) GetEntryVersionsAtTime(ctx context.Context, path string, at time.Time, fn func(domain.EntryVersion) error) error {
	return nil
}

func (f *fakeDB) GetAllEntryVersions(ctx context.Context, path string, recursive bool, fn func(domain.EntryVersion) error) error {
	return nil
}

func (f *fakeDB) CheckIntegrity(ctx context.Context, blobs func() (<-chan historydb.BlobRef, <-chan error)) error {
	out, errc := blobs()
	for range out {
	}
	return <-errc
}

func (f *fakeDB) CreateSource(ctx context.Context, name string) (domain.Source, error) {
	return domain.Source{}, nil
}

func (f *fakeDB) ListSources(ctx context.Context) ([]domain.Source, error) {
	return f.sources, nil
}

func (f *fakeDB) RevokeSource(ctx context.Context, id int64) error { return nil }

func (f *fakeDB) SourceByToken(ctx context.Context, token string) (domain.Source, error) {
	for _, s := range f.sources {
		if s.AccessToken == token {
			return s, nil
		}
	}
	return domain.Source{}, domain.ErrSourceNotFound
}

func (f *fakeDB) CompactSnapshot(ctx context.Context, at time.Time) (historydb.CompactionResult, error) {
	return historydb.CompactionResult{}, nil
}

func (f *fakeDB) LatestSnapshotOrFirstVersionTime(ctx context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type fakeHashCache struct{}

func (fakeHashCache) ContentHashExists(ctx context.Context, hash string) (bool, bool, error) {
	return false, false, nil
}
func (fakeHashCache) PutContentHashExists(ctx context.Context, hash string, exists bool) error {
	return nil
}

func testRouter(t *testing.T, db *fakeDB) (http.Handler, *blobstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := blobstore.Open(blobstore.Config{Root: dir})
	require.NoError(t, err)

	r := NewRouter(Deps{
		DB:       db,
		Blobs:    store,
		Lookup:   &fakeLookupDB{db: db},
		Hashes:   fakeHashCache{},
		ServerID: "test-server",
		Logger:   zerolog.Nop(),
	})
	return r, store
}

type fakeLookupDB struct{ db *fakeDB }

func (l *fakeLookupDB) SourceByToken(ctx context.Context, token string) (domain.Source, error) {
	return l.db.SourceByToken(ctx, token)
}

func authedRequest(method, path string, body *bytes.Buffer) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	req.Header.Set("Authorization", "Bearer tok")
	return req
}

func TestRouter_MovePath(t *testing.T) {
	db := &fakeDB{sources: []domain.Source{{ID: 1, Name: "laptop", AccessToken: "tok"}}}
	router, _ := testRouter(t, db)

	body, err := wire.Marshal(MovePathRequest{OldPath: "a", NewPath: "b"})
	require.NoError(t, err)

	req := authedRequest(http.MethodPost, "/api/v1/MovePath", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp BulkActionStatsResponse
	require.NoError(t, wire.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.AffectedPaths)
}

func TestRouter_GetNewEntries_Streams(t *testing.T) {
	db := &fakeDB{sources: []domain.Source{{ID: 1, Name: "laptop", AccessToken: "tok"}}}
	router, _ := testRouter(t, db)

	body, err := wire.Marshal(GetNewEntriesRequest{LastUpdateNumber: 5})
	require.NoError(t, err)

	req := authedRequest(http.MethodPost, "/api/v1/GetNewEntries", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	dec := wire.NewDecoder[EntryDTO](rec.Body)
	items, done, err := dec.Next()
	require.NoError(t, err)
	require.False(t, done)
	require.Len(t, items, 1)
	require.Equal(t, int64(6), items[0].UpdateNumber)

	_, done, err = dec.Next()
	require.NoError(t, err)
	require.True(t, done)
}

func TestRouter_Unauthorized(t *testing.T) {
	db := &fakeDB{}
	router, _ := testRouter(t, db)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/GetSources", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_PutGetBlob(t *testing.T) {
	db := &fakeDB{sources: []domain.Source{{ID: 1, Name: "laptop", AccessToken: "tok"}}}
	router, store := testRouter(t, db)

	content := []byte("ciphertext-bytes-long-enough")
	hash := hashKey([]byte("deadbeefcontenthash"))
	urlHash := urlSafeHash([]byte("deadbeefcontenthash"))

	putReq := authedRequest(http.MethodPut, "/content/"+urlHash, bytes.NewBuffer(content))
	putReq.ContentLength = int64(len(content))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, putReq)
	require.Equal(t, http.StatusOK, rec.Code)

	exists, err := store.Exists(hash)
	require.NoError(t, err)
	require.True(t, exists)

	getReq := authedRequest(http.MethodGet, "/content/"+urlHash, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, getReq)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, content, rec.Body.Bytes())
}

func TestRouter_AddVersions_RejectsUncommittedBlob(t *testing.T) {
	db := &fakeDB{
		sources: []domain.Source{{ID: 1, Name: "laptop", AccessToken: "tok"}},
		addVersionsFn: func(reqs []historydb.AddVersionRequest) ([]historydb.AddVersionResponse, error) {
			t.Fatal("historydb.DB.AddVersions should not be reached when the blob claim is unverified")
			return nil, nil
		},
	}
	router, _ := testRouter(t, db)

	body, err := wire.Marshal(AddVersionsRequest{Items: []AddVersionItem{{
		EncryptedPath: "p",
		RecordTrigger: string(domain.TriggerUpload),
		Kind:          &kindAsInt16,
		File: &FileMetadataDTO{
			ContentHash:     []byte("missing-hash"),
			EncryptedLength: 10,
		},
	}}})
	require.NoError(t, err)

	req := authedRequest(http.MethodPost, "/api/v1/AddVersions", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}

var kindAsInt16 = int16(domain.KindFile)

func urlSafeHash(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
