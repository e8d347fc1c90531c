package postgres

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nf-oss/archivesync/internal/historydb"
)

// CheckIntegrity compares the set of (encrypted_hash -> max(encrypted_size))
// referenced by live entry_versions against what blobs actually enumerates.
// Any missing blob, any unreferenced blob, or any size mismatch fails.
func (db *DB) CheckIntegrity(ctx context.Context, blobs func() (<-chan historydb.BlobRef, <-chan error)) error {
	referenced, err := referencedHashSizes(ctx, db.Pool)
	if err != nil {
		return err
	}

	blobCh, errCh := blobs()
	seen := make(map[string]bool, len(referenced))
	for ref := range blobCh {
		seen[ref.Hash] = true
		wantSize, ok := referenced[ref.Hash]
		if !ok {
			return fmt.Errorf("historydb: blob %s is not referenced by any entry_version", ref.Hash)
		}
		if wantSize != ref.Size {
			return fmt.Errorf("historydb: blob %s size mismatch: store has %d, entry_versions expect %d",
				ref.Hash, ref.Size, wantSize)
		}
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("historydb: enumerating blobs: %w", err)
	}

	for hash := range referenced {
		if !seen[hash] {
			return fmt.Errorf("historydb: referenced blob %s is missing from the store", hash)
		}
	}
	return nil
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgxRows, error)
}

// referencedHashSizes returns, per content hash, the largest encrypted_size
// recorded across all entry_versions referencing it. The content_hash
// column is ciphertext, so it is base64-encoded the same way BlobStore
// keys blobs on disk.
func referencedHashSizes(ctx context.Context, q pgxQuerier) (map[string]int64, error) {
	rows, err := q.Query(ctx, `
		SELECT content_hash, MAX(encrypted_size)
		FROM entry_versions
		WHERE kind = 1 AND content_hash IS NOT NULL
		GROUP BY content_hash`)
	if err != nil {
		return nil, fmt.Errorf("historydb: CheckIntegrity query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var hash []byte
		var size *int64
		if err := rows.Scan(&hash, &size); err != nil {
			return nil, fmt.Errorf("historydb: CheckIntegrity scan: %w", err)
		}
		if size == nil {
			continue
		}
		out[base64.RawURLEncoding.EncodeToString(hash)] = *size
	}
	return out, rows.Err()
}
