// Package blobstore implements the content-addressed, sharded filesystem
// blob repository the server uses to hold encrypted file content. Blobs
// are opaque to the store: it only ever sees ciphertext and the encrypted
// hash used to address it.
package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nf-oss/archivesync/internal/domain"
)

// ErrBlobNotFound is returned by Open and FileSize when no blob exists
// for the given hash.
var ErrBlobNotFound = domain.ErrBlobNotFound

// Store is a sharded, content-addressed blob repository rooted at a single
// directory: blobs live at root/h[0]/h[1]/h[2]/h, uploads stage under
// root/tmp before an atomic rename commits them.
type Store struct {
	root   string
	tmpDir string
	shards *shardLocker
}

// Config configures a Store.
type Config struct {
	// Root is the directory blobs and the tmp/ staging area live under.
	Root string
}

// Open initializes a Store rooted at cfg.Root, creating the root and its
// tmp/ staging directory if they don't already exist.
func Open(cfg Config) (*Store, error) {
	tmpDir := filepath.Join(cfg.Root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating tmp dir: %w", err)
	}
	return &Store{root: cfg.Root, tmpDir: tmpDir, shards: newShardLocker()}, nil
}

// ComputeDir returns the shard directory a hash's blob lives under.
func ComputeDir(root, hash string) string {
	if len(hash) <= 3 {
		return filepath.Join(root, hash)
	}
	return filepath.Join(root, hash[0:1], hash[1:2], hash[2:3])
}

// ComputePath returns the full path a hash's blob lives at.
func ComputePath(root, hash string) string {
	return filepath.Join(ComputeDir(root, hash), hash)
}

// TempHandle is an opaque in-progress upload returned by Create.
type TempHandle struct {
	file *os.File
}

// Write streams bytes into the temp handle.
func (h *TempHandle) Write(p []byte) (int, error) { return h.file.Write(p) }

// Create opens a new temp handle under root/tmp for an in-progress upload.
func (s *Store) Create() (*TempHandle, error) {
	f, err := os.CreateTemp(s.tmpDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("blobstore: creating temp upload: %w", err)
	}
	return &TempHandle{file: f}, nil
}

// Commit flushes and fsyncs the temp handle, creates the shard directories
// for hash if needed, and atomically renames the temp file into its final
// sharded path. On rename failure the temp file is removed. Overwriting an
// existing committed blob for the same hash is permitted: the committer
// trusts the caller that same hash implies same ciphertext.
func (s *Store) Commit(h *TempHandle, hash string) error {
	if len(hash) <= 3 {
		h.file.Close()
		os.Remove(h.file.Name())
		return fmt.Errorf("blobstore: hash %q too short for sharding", hash)
	}

	if err := h.file.Sync(); err != nil {
		h.file.Close()
		os.Remove(h.file.Name())
		return fmt.Errorf("blobstore: fsyncing temp upload: %w", err)
	}
	tempName := h.file.Name()
	if err := h.file.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("blobstore: closing temp upload: %w", err)
	}

	s.shards.Lock(hash)
	defer s.shards.Unlock(hash)

	dir := ComputeDir(s.root, hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("blobstore: creating shard dir: %w", err)
	}

	if err := os.Rename(tempName, ComputePath(s.root, hash)); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("blobstore: committing blob: %w", err)
	}
	return nil
}

// Abort discards a temp handle without committing it.
func (s *Store) Abort(h *TempHandle) error {
	name := h.file.Name()
	h.file.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: removing aborted temp upload: %w", err)
	}
	return nil
}

// Open returns a readable handle for hash's blob.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	s.shards.Lock(hash)
	defer s.shards.Unlock(hash)

	f, err := os.Open(ComputePath(s.root, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("blobstore: opening blob: %w", err)
	}
	return f, nil
}

// Remove deletes hash's blob. Removing a blob that doesn't exist is not an
// error, matching RetentionEngine's best-effort orphan collection.
func (s *Store) Remove(hash string) error {
	s.shards.Lock(hash)
	defer s.shards.Unlock(hash)

	if err := os.Remove(ComputePath(s.root, hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: removing blob: %w", err)
	}
	return nil
}

// Exists reports whether a blob for hash is committed.
func (s *Store) Exists(hash string) (bool, error) {
	s.shards.Lock(hash)
	defer s.shards.Unlock(hash)

	_, err := os.Stat(ComputePath(s.root, hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("blobstore: statting blob: %w", err)
}

// FileSize returns the on-disk (encrypted) size of hash's blob.
func (s *Store) FileSize(hash string) (int64, error) {
	s.shards.Lock(hash)
	defer s.shards.Unlock(hash)

	info, err := os.Stat(ComputePath(s.root, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrBlobNotFound
		}
		return 0, fmt.Errorf("blobstore: statting blob: %w", err)
	}
	return info.Size(), nil
}

// AvailableSpace reports free bytes on the filesystem backing root. It is
// best-effort and may race with concurrent writers; only status/integrity
// endpoints consume it.
func (s *Store) AvailableSpace() (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.root, &stat); err != nil {
		return 0, fmt.Errorf("blobstore: statfs: %w", err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// BlobInfo is one entry yielded by Enumerate.
type BlobInfo struct {
	Hash string
	Size int64
}

// Enumerate walks the sharded tree rooted at root, skipping tmp/ and
// failing outright if it encounters a symlink anywhere under root (the
// store must never contain one).
func (s *Store) Enumerate() (<-chan BlobInfo, <-chan error) {
	out := make(chan BlobInfo)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if path == s.root {
				return nil
			}
			if path == s.tmpDir {
				return filepath.SkipDir
			}
			if info.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("blobstore: refusing to enumerate symlink %s", path)
			}
			if info.IsDir() {
				return nil
			}
			hash := filepath.Base(path)
			if strings.Contains(hash, string(filepath.Separator)) {
				return nil
			}
			out <- BlobInfo{Hash: hash, Size: info.Size()}
			return nil
		})
		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}
