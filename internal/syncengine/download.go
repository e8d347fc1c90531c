package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nf-oss/archivesync/internal/archivepath"
	"github.com/nf-oss/archivesync/internal/domain"
)

// downloadPhase walks LocalCache's mirror of server entries and
// materializes anything a mount maps to a local path, per spec.md §4.4's
// download-apply stage. File downloads run on up to DownloadWorkers
// concurrent workers; directory/deletion handling is cheap enough to run
// inline on the walk.
func (c *Ctx) downloadPhase(ctx context.Context, res *Result) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, DownloadWorkers)
	var mu sync.Mutex

	walkErr := c.Cache.WalkArchiveEntries(ctx, func(e domain.Entry) error {
		archPath, err := archivepath.New(e.Path)
		if err != nil {
			c.Logger.Warn().Err(err).Str("path", e.Path).Msg("syncengine: invalid cached archive path, skipping")
			return nil
		}
		localPath, ok := c.localPathFor(archPath)
		if !ok {
			return nil
		}
		if c.Rules.Excluded(localPath) {
			return nil
		}

		switch e.Kind {
		case domain.KindNotExists:
			return c.applyDeletion(gctx, localPath)
		case domain.KindDirectory:
			return c.applyDirectory(gctx, localPath)
		case domain.KindFile:
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
				case <-gctx.Done():
					return gctx.Err()
				}
				defer func() { <-sem }()
				return c.applyFile(gctx, localPath, e, res, &mu)
			})
			return nil
		default:
			return nil
		}
	})
	if walkErr != nil {
		return fmt.Errorf("syncengine: walking archive cache: %w", walkErr)
	}
	return g.Wait()
}

// localPathFor maps an archive path onto a local filesystem path via
// whichever configured mount's ArchiveRoot is its ancestor-or-self.
func (c *Ctx) localPathFor(p archivepath.Path) (string, bool) {
	for _, m := range c.Mounts {
		rel, ok := p.StripPrefix(m.ArchiveRoot)
		if !ok {
			continue
		}
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			return filepath.Clean(m.LocalRoot), true
		}
		return filepath.Join(m.LocalRoot, filepath.FromSlash(rel)), true
	}
	return "", false
}

// applyDeletion removes a locally-materialized path whose server state has
// become NotExists, per spec.md's "delete it and drop the LocalCache row"
// rule. A directory that's grown local children is logged and left alone.
func (c *Ctx) applyDeletion(ctx context.Context, localPath string) error {
	_, found, err := c.Cache.LocalEntry(ctx, localPath)
	if err != nil {
		return fmt.Errorf("syncengine: reading local cache for %s: %w", localPath, err)
	}
	if !found {
		return nil
	}

	info, err := os.Lstat(localPath)
	if os.IsNotExist(err) {
		return c.Cache.DeleteLocalEntry(ctx, localPath)
	}
	if err != nil {
		return fmt.Errorf("syncengine: stat %s: %w", localPath, err)
	}

	if err := os.Remove(localPath); err != nil {
		if info.IsDir() {
			c.Logger.Warn().Err(err).Str("path", localPath).Msg("syncengine: directory became non-empty locally, skipping removal")
			return nil
		}
		return fmt.Errorf("syncengine: removing %s: %w", localPath, err)
	}
	return c.Cache.DeleteLocalEntry(ctx, localPath)
}

// applyDirectory ensures a directory exists at localPath, removing a
// conflicting file first.
func (c *Ctx) applyDirectory(ctx context.Context, localPath string) error {
	info, err := os.Lstat(localPath)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		if rmErr := os.Remove(localPath); rmErr != nil {
			return fmt.Errorf("syncengine: removing conflicting file at %s: %w", localPath, rmErr)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("syncengine: stat %s: %w", localPath, err)
	}

	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return fmt.Errorf("syncengine: creating directory %s: %w", localPath, err)
	}
	return c.Cache.PutLocalEntry(ctx, localPath, domain.LocalEntry{Kind: domain.KindDirectory})
}

// applyFile downloads e's blob into a sibling temp file, verifies it, and
// renames it atomically onto localPath.
func (c *Ctx) applyFile(ctx context.Context, localPath string, e domain.Entry, res *Result, mu *sync.Mutex) error {
	if e.File == nil {
		return fmt.Errorf("syncengine: file entry %s missing metadata", localPath)
	}

	plaintextSize, err := c.Codec.DecryptSize(e.File.EncryptedSize)
	if err != nil {
		return fmt.Errorf("syncengine: decrypting size for %s: %w", localPath, err)
	}
	plaintextHash, err := c.Codec.DecryptContentHash(e.File.ContentHash)
	if err != nil {
		return fmt.Errorf("syncengine: decrypting content hash for %s: %w", localPath, err)
	}
	blobKey := hex.EncodeToString(e.File.ContentHash)

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("syncengine: creating parent directory for %s: %w", localPath, err)
	}

	tmpPath := filepath.Join(filepath.Dir(localPath), tempName(localPath))
	defer os.Remove(tmpPath)

	rc, err := c.Client.GetBlob(ctx, blobKey, int64(e.File.EncryptedLength))
	if err != nil {
		return fmt.Errorf("syncengine: downloading blob for %s: %w", localPath, err)
	}
	defer rc.Close()

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("syncengine: creating temp file for %s: %w", localPath, err)
	}

	gotHash, gotSize, err := c.Codec.DecryptFile(rc, tmp)
	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("syncengine: decrypting blob for %s: %w", localPath, err)
	}
	if closeErr != nil {
		return fmt.Errorf("syncengine: closing temp file for %s: %w", localPath, closeErr)
	}
	if gotHash != plaintextHash {
		return fmt.Errorf("syncengine: content hash mismatch for %s", localPath)
	}
	if gotSize != plaintextSize {
		return fmt.Errorf("syncengine: plaintext size mismatch for %s: got %d want %d", localPath, gotSize, plaintextSize)
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		return fmt.Errorf("syncengine: renaming into place %s: %w", localPath, err)
	}
	if e.File.UnixMode != nil {
		if err := os.Chmod(localPath, os.FileMode(*e.File.UnixMode)); err != nil {
			c.Logger.Warn().Err(err).Str("path", localPath).Msg("syncengine: restoring unix mode failed")
		}
	}

	info, err := os.Lstat(localPath)
	if err != nil {
		return fmt.Errorf("syncengine: re-stat %s after apply: %w", localPath, err)
	}
	localEntry := domain.LocalEntry{
		Kind: domain.KindFile,
		File: &domain.LocalFileData{
			ModifiedAt:    info.ModTime(),
			OriginalSize:  gotSize,
			EncryptedSize: e.File.EncryptedLength,
			ContentHash:   gotHash,
			UnixMode:      e.File.UnixMode,
		},
	}
	if err := c.Cache.PutLocalEntry(ctx, localPath, localEntry); err != nil {
		return fmt.Errorf("syncengine: updating local cache for %s: %w", localPath, err)
	}

	mu.Lock()
	res.Downloaded++
	mu.Unlock()
	c.Metrics.countFile("downloaded")
	c.Metrics.countBytes("down", int64(e.File.EncryptedLength))
	return nil
}

// tempName derives the ".{sha256(path)}.rammingen.part" staging name
// spec.md mandates, so two entries whose target names collide after
// hashing never share a temp file.
func tempName(localPath string) string {
	sum := sha256.Sum256([]byte(localPath))
	return "." + hex.EncodeToString(sum[:]) + partSuffix
}

var _ io.Closer = (io.ReadCloser)(nil)
