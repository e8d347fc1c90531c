package syncengine

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nf-oss/archivesync/internal/archivepath"
	"github.com/nf-oss/archivesync/internal/clientapi"
	"github.com/nf-oss/archivesync/internal/codec"
	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/localcache"
)

func newTestCodec(t *testing.T) *codec.Codec {
	t.Helper()
	key := make([]byte, codec.MasterKeySize)
	for i := range key {
		key[i] = byte(i * 7)
	}
	c, err := codec.New(key)
	require.NoError(t, err)
	return c
}

// fakeClient is an in-process stand-in for clientapi.API, holding server
// state entirely in memory so sync tests don't need a transport.Client.
type fakeClient struct {
	mu       sync.Mutex
	versions []clientapi.AddVersionItem
	blobs    map[string][]byte
	cursor   int64
	entries  []clientapi.EntryDTO
}

func newFakeClient() *fakeClient {
	return &fakeClient{blobs: make(map[string][]byte)}
}

func (f *fakeClient) AddVersions(ctx context.Context, items []clientapi.AddVersionItem) ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions = append(f.versions, items...)
	added := make([]bool, len(items))
	for i := range added {
		added[i] = true
	}
	return added, nil
}

func (f *fakeClient) ContentHashExists(ctx context.Context, encryptedHash []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[hex.EncodeToString(encryptedHash)]
	return ok, nil
}

func (f *fakeClient) GetNewEntries(ctx context.Context, cursor int64, fn func(clientapi.EntryDTO) error) error {
	f.mu.Lock()
	entries := append([]clientapi.EntryDTO(nil), f.entries...)
	f.mu.Unlock()
	for _, e := range entries {
		if e.UpdateNumber <= cursor {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeClient) PutBlob(ctx context.Context, hash string, size int64, open func() (io.ReadCloser, error)) error {
	rc, err := open()
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.blobs[hash] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) GetBlob(ctx context.Context, hash string, expectedSize int64) (io.ReadCloser, error) {
	f.mu.Lock()
	data, ok := f.blobs[hash]
	f.mu.Unlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// fakeStore is an in-memory localcache.Store used so syncengine tests never
// need a real sqlite file.
type fakeStore struct {
	mu       sync.Mutex
	local    map[string]domain.LocalEntry
	archive  map[string]domain.Entry
	cursor   int64
	notifs   map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		local:   make(map[string]domain.LocalEntry),
		archive: make(map[string]domain.Entry),
		notifs:  make(map[string]int64),
	}
}

func (s *fakeStore) LocalEntry(ctx context.Context, path string) (domain.LocalEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.local[path]
	return e, ok, nil
}

func (s *fakeStore) PutLocalEntry(ctx context.Context, path string, e domain.LocalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[path] = e
	return nil
}

func (s *fakeStore) DeleteLocalEntry(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.local, path)
	return nil
}

func (s *fakeStore) WalkLocalEntries(ctx context.Context, fn func(path string, e domain.LocalEntry) error) error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.local))
	for p := range s.local {
		paths = append(paths, p)
	}
	entries := make(map[string]domain.LocalEntry, len(s.local))
	for k, v := range s.local {
		entries[k] = v
	}
	s.mu.Unlock()

	sort.Strings(paths)
	for _, p := range paths {
		if err := fn(p, entries[p]); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) ArchiveEntry(ctx context.Context, path string) (domain.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.archive[path]
	return e, ok, nil
}

func (s *fakeStore) WalkArchiveEntries(ctx context.Context, fn func(domain.Entry) error) error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.archive))
	for p := range s.archive {
		paths = append(paths, p)
	}
	entries := make(map[string]domain.Entry, len(s.archive))
	for k, v := range s.archive {
		entries[k] = v
	}
	s.mu.Unlock()

	sort.Strings(paths)
	for _, p := range paths {
		if err := fn(entries[p]); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) Cursor(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *fakeStore) ApplyPulledEntries(ctx context.Context, entries []domain.Entry, newCursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.archive[e.Path] = e
	}
	s.cursor = newCursor
	return nil
}

func (s *fakeStore) NotificationStats(ctx context.Context) (localcache.NotificationStats, error) {
	return localcache.NotificationStats{}, nil
}

func (s *fakeStore) RecordNotification(ctx context.Context, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifs[kind]++
	return nil
}

func (s *fakeStore) ResetNotificationStats(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifs = make(map[string]int64)
	return nil
}

func newTestCtx(t *testing.T, client ArchiveClient, store *fakeStore, mounts []Mount) *Ctx {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RecentWindow = 0
	cfg.SpoolDir = t.TempDir()
	return New(client, newTestCodec(t), store, mounts, NewRules(nil), cfg, zerolog.Nop(), nil)
}

func TestSync_UploadThenDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()

	srcRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "hello.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(srcRoot, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "sub", "nested.txt"), []byte("nested content"), 0o644))

	client := newFakeClient()
	mounts := []Mount{{LocalRoot: srcRoot, ArchiveRoot: archivepath.MustNew("/mnt")}}
	srcCtx := newTestCtx(t, client, newFakeStore(), mounts)

	res, err := srcCtx.Sync(ctx)
	require.NoError(t, err)
	// Two files plus the "sub" directory entry all flow through the same
	// AddVersion batcher, so Uploaded counts all three.
	require.Equal(t, 3, res.Uploaded)

	require.NotEmpty(t, client.versions)
	var maxUpdate int64
	for i, v := range client.versions {
		maxUpdate++
		client.entries = append(client.entries, clientapi.EntryDTO{
			ID:            int64(i + 1),
			UpdateNumber:  maxUpdate,
			Path:          v.EncryptedPath,
			Kind:          derefKind(v.Kind),
			File:          v.File,
			RecordTrigger: v.RecordTrigger,
		})
	}

	dstRoot := t.TempDir()
	dstMounts := []Mount{{LocalRoot: dstRoot, ArchiveRoot: archivepath.MustNew("/mnt")}}
	dstCtx := newTestCtx(t, client, newFakeStore(), dstMounts)

	res, err = dstCtx.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Downloaded)

	got, err := os.ReadFile(filepath.Join(dstRoot, "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))

	got, err = os.ReadFile(filepath.Join(dstRoot, "sub", "nested.txt"))
	require.NoError(t, err)
	require.Equal(t, "nested content", string(got))
}

func TestSync_LocalDeletionIsRecorded(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	filePath := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("bye"), 0o644))

	client := newFakeClient()
	mounts := []Mount{{LocalRoot: root, ArchiveRoot: archivepath.MustNew("/mnt")}}
	store := newFakeStore()
	c := newTestCtx(t, client, store, mounts)

	_, err := c.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filePath))
	res, err := c.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Deleted)
}

func TestSync_UnchangedFileIsSkipped(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "same.txt"), []byte("content"), 0o644))

	client := newFakeClient()
	mounts := []Mount{{LocalRoot: root, ArchiveRoot: archivepath.MustNew("/mnt")}}
	c := newTestCtx(t, client, newFakeStore(), mounts)

	_, err := c.Sync(ctx)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	res, err := c.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Uploaded)
}

func derefKind(k *int16) int16 {
	if k == nil {
		return int16(domain.KindNotExists)
	}
	return *k
}
