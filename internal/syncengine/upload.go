package syncengine

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nf-oss/archivesync/internal/clientapi"
	"github.com/nf-oss/archivesync/internal/domain"
)

// pendingVersion is one item queued for the AddVersion batcher, carrying
// enough local-cache context to apply the server's response.
type pendingVersion struct {
	item      clientapi.AddVersionItem
	localPath string
	isDelete  bool
	entry     domain.LocalEntry
}

// uploadPhase runs the upload scan across every configured mount, returning
// the set of paths visited per mount root so local-deletion detection can
// diff against it.
func (c *Ctx) uploadPhase(ctx context.Context, res *Result, mu *sync.Mutex) (map[string]map[string]struct{}, error) {
	g, gctx := errgroup.WithContext(ctx)
	addVersionCh := make(chan pendingVersion, BatchSize)
	uploadSem := make(chan struct{}, UploadWorkers)
	var wg sync.WaitGroup

	g.Go(func() error { return c.runBatcher(gctx, addVersionCh, res, mu) })

	existing := make(map[string]map[string]struct{}, len(c.Mounts))
	for _, m := range c.Mounts {
		visited := make(map[string]struct{})
		existing[m.LocalRoot] = visited
		if err := c.walkMount(gctx, g, &wg, m, visited, uploadSem, addVersionCh, res, mu); err != nil {
			return nil, err
		}
	}

	go func() {
		wg.Wait()
		close(addVersionCh)
	}()

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return existing, nil
}

// walkMount performs the depth-first scan of one mount root. Directory
// recursion is sequential, matching spec.md §4.4's "upload scan is
// sequential across the directory tree"; content encryption and upload for
// files that turn out to have changed is dispatched onto g, bounded by
// uploadSem.
func (c *Ctx) walkMount(ctx context.Context, g *errgroup.Group, wg *sync.WaitGroup, m Mount, visited map[string]struct{}, uploadSem chan struct{}, ch chan<- pendingVersion, res *Result, mu *sync.Mutex) error {
	root := filepath.Clean(m.LocalRoot)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("syncengine: walking %s: %w", path, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		isRoot := path == root
		if !isRoot && c.Rules.Excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		mode := d.Type()
		switch {
		case mode.IsDir():
			if !isRoot {
				visited[path] = struct{}{}
				if err := c.processDirectory(ctx, m, path, ch); err != nil {
					return err
				}
			}
			return nil
		case mode.IsRegular():
			visited[path] = struct{}{}
			return c.dispatchFile(ctx, g, wg, m, path, uploadSem, ch, res, mu)
		default:
			// symlinks and block/char/fifo/socket special files are never
			// synced.
			return nil
		}
	})
}

func (c *Ctx) archivePath(m Mount, localPath string) (string, error) {
	rel, err := filepath.Rel(m.LocalRoot, localPath)
	if err != nil {
		return "", fmt.Errorf("syncengine: relativizing %s under %s: %w", localPath, m.LocalRoot, err)
	}
	p, err := m.ArchiveRoot.JoinMultiple(filepath.ToSlash(rel))
	if err != nil {
		return "", err
	}
	return c.Codec.EncryptPath(p.String()), nil
}

func (c *Ctx) processDirectory(ctx context.Context, m Mount, path string, ch chan<- pendingVersion) error {
	cached, found, err := c.Cache.LocalEntry(ctx, path)
	if err != nil {
		return fmt.Errorf("syncengine: reading local cache for %s: %w", path, err)
	}
	if found && cached.Unchanged(domain.KindDirectory, time.Time{}, nil) {
		return nil
	}

	encPath, err := c.archivePath(m, path)
	if err != nil {
		return err
	}
	kind := int16(domain.KindDirectory)
	item := clientapi.AddVersionItem{
		EncryptedPath: encPath,
		RecordTrigger: string(domain.TriggerSync),
		Kind:          &kind,
	}
	select {
	case ch <- pendingVersion{item: item, localPath: path, entry: domain.LocalEntry{Kind: domain.KindDirectory}}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchFile decides whether a file needs (re-)encrypting and, if so,
// spawns the content-upload/AddVersion task on g.
func (c *Ctx) dispatchFile(ctx context.Context, g *errgroup.Group, wg *sync.WaitGroup, m Mount, path string, uploadSem chan struct{}, ch chan<- pendingVersion, res *Result, mu *sync.Mutex) error {
	cached, found, err := c.Cache.LocalEntry(ctx, path)
	if err != nil {
		return fmt.Errorf("syncengine: reading local cache for %s: %w", path, err)
	}

	modifiedAt, unixMode, err := c.statFileDebounced(ctx, path)
	if err != nil {
		return err
	}

	if found && cached.Unchanged(domain.KindFile, modifiedAt, unixMode) {
		return nil
	}

	wg.Add(1)
	g.Go(func() error {
		defer wg.Done()
		return c.uploadOne(ctx, m, path, modifiedAt, unixMode, cached, found, uploadSem, ch, res, mu)
	})
	return nil
}

// statFileDebounced implements the "too recent" debounce: a file whose
// modified_at is within Config.RecentWindow of now is re-read up to
// Config.StatRetries times before being trusted.
func (c *Ctx) statFileDebounced(ctx context.Context, path string) (time.Time, *uint32, error) {
	var info os.FileInfo
	var err error
	for attempt := 0; attempt < c.Config.StatRetries; attempt++ {
		info, err = os.Lstat(path)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("syncengine: stat %s: %w", path, err)
		}
		if time.Since(info.ModTime()) >= c.Config.RecentWindow {
			return info.ModTime(), unixModeOf(info), nil
		}
		select {
		case <-time.After(c.Config.StatBackoff):
		case <-ctx.Done():
			return time.Time{}, nil, ctx.Err()
		}
	}
	return time.Time{}, nil, fmt.Errorf("syncengine: %s kept changing across %d stat attempts", path, c.Config.StatRetries)
}

func (c *Ctx) uploadOne(ctx context.Context, m Mount, path string, modifiedAt time.Time, unixMode *uint32, cached domain.LocalEntry, cachedFound bool, uploadSem chan struct{}, ch chan<- pendingVersion, res *Result, mu *sync.Mutex) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("syncengine: opening %s: %w", path, err)
	}
	head, err := c.Codec.EncryptFile(f, c.Config.SpoolDir)
	f.Close()
	if err != nil {
		return fmt.Errorf("syncengine: encrypting %s: %w", path, err)
	}
	defer head.Close()

	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("syncengine: re-stat %s: %w", path, err)
	}
	if !info.ModTime().Equal(modifiedAt) {
		return fmt.Errorf("syncengine: %s was updated while being processed", path)
	}

	if cachedFound && cached.Kind == domain.KindFile && cached.File != nil &&
		cached.File.ContentHash == head.PlaintextHash && sameUnixMode(cached.File.UnixMode, unixMode) {
		newFile := *cached.File
		newFile.ModifiedAt = modifiedAt
		if err := c.Cache.PutLocalEntry(ctx, path, domain.LocalEntry{Kind: domain.KindFile, File: &newFile}); err != nil {
			return fmt.Errorf("syncengine: updating local cache for %s: %w", path, err)
		}
		mu.Lock()
		res.SkippedSame++
		mu.Unlock()
		return nil
	}

	encContentHash := c.Codec.EncryptContentHash(head.PlaintextHash)
	encSize := c.Codec.EncryptSize(head.OriginalSize)
	blobKey := hex.EncodeToString(encContentHash)

	select {
	case uploadSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-uploadSem }()

	exists, err := c.Client.ContentHashExists(ctx, encContentHash)
	if err != nil {
		return fmt.Errorf("syncengine: checking content hash for %s: %w", path, err)
	}
	if !exists {
		if err := c.Client.PutBlob(ctx, blobKey, int64(head.EncryptedSize), func() (io.ReadCloser, error) {
			r, err := head.Reader()
			if err != nil {
				return nil, err
			}
			return io.NopCloser(r), nil
		}); err != nil {
			return fmt.Errorf("syncengine: uploading blob for %s: %w", path, err)
		}
		c.Metrics.countBytes("up", int64(head.EncryptedSize))
	}

	encPath, err := c.archivePath(m, path)
	if err != nil {
		return err
	}
	kind := int16(domain.KindFile)
	item := clientapi.AddVersionItem{
		EncryptedPath: encPath,
		RecordTrigger: string(domain.TriggerSync),
		Kind:          &kind,
		File: &clientapi.FileMetadataDTO{
			ModifiedAt:      modifiedAt,
			EncryptedSize:   encSize,
			EncryptedLength: head.EncryptedSize,
			ContentHash:     encContentHash,
			UnixMode:        unixMode,
		},
	}
	localEntry := domain.LocalEntry{
		Kind: domain.KindFile,
		File: &domain.LocalFileData{
			ModifiedAt:    modifiedAt,
			OriginalSize:  head.OriginalSize,
			EncryptedSize: head.EncryptedSize,
			ContentHash:   head.PlaintextHash,
			UnixMode:      unixMode,
		},
	}

	select {
	case ch <- pendingVersion{item: item, localPath: path, entry: localEntry}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runBatcher reads pendingVersion values off ch, flushing an AddVersions
// call every BatchSize items (or once ch is drained and closed), and
// applies each item's server-confirmed outcome to the local cache.
func (c *Ctx) runBatcher(ctx context.Context, ch <-chan pendingVersion, res *Result, mu *sync.Mutex) error {
	batch := make([]pendingVersion, 0, BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		items := make([]clientapi.AddVersionItem, len(batch))
		for i, pv := range batch {
			items[i] = pv.item
		}
		added, err := c.Client.AddVersions(ctx, items)
		if err != nil {
			return fmt.Errorf("syncengine: AddVersions: %w", err)
		}
		for i, pv := range batch {
			confirmed := i < len(added) && added[i]
			if !confirmed {
				continue
			}
			if pv.isDelete {
				if err := c.Cache.DeleteLocalEntry(ctx, pv.localPath); err != nil {
					c.Logger.Warn().Err(err).Str("path", pv.localPath).Msg("syncengine: dropping local cache row failed")
				}
				mu.Lock()
				res.Deleted++
				mu.Unlock()
				c.Metrics.countFile("deleted")
				continue
			}
			if err := c.Cache.PutLocalEntry(ctx, pv.localPath, pv.entry); err != nil {
				c.Logger.Warn().Err(err).Str("path", pv.localPath).Msg("syncengine: updating local cache failed")
			}
			mu.Lock()
			res.Uploaded++
			mu.Unlock()
			c.Metrics.countFile("uploaded")
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case pv, ok := <-ch:
			if !ok {
				return flush()
			}
			batch = append(batch, pv)
			if len(batch) >= BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func unixModeOf(info os.FileInfo) *uint32 {
	mode := uint32(info.Mode().Perm())
	return &mode
}

func sameUnixMode(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
