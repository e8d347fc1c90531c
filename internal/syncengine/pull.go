package syncengine

import (
	"context"
	"fmt"

	"github.com/nf-oss/archivesync/internal/clientapi"
	"github.com/nf-oss/archivesync/internal/domain"
)

// pullPhase calls GetNewEntries from the cache's last cursor, decrypts each
// entry's path and content hash, and commits the whole batch plus the new
// cursor atomically.
func (c *Ctx) pullPhase(ctx context.Context, res *Result) error {
	cursor, err := c.Cache.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: reading pull cursor: %w", err)
	}

	var entries []domain.Entry
	maxUpdate := cursor
	err = c.Client.GetNewEntries(ctx, cursor, func(dto clientapi.EntryDTO) error {
		e, err := c.decodeEntry(dto)
		if err != nil {
			return err
		}
		entries = append(entries, e)
		if e.UpdateNumber > maxUpdate {
			maxUpdate = e.UpdateNumber
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("syncengine: pulling new entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	if err := c.Cache.ApplyPulledEntries(ctx, entries, maxUpdate); err != nil {
		return fmt.Errorf("syncengine: applying pulled entries: %w", err)
	}
	res.PulledNew += len(entries)
	return nil
}

// decodeEntry decrypts only the archive path, which is what LocalCache keys
// archive_entries by. EncryptedSize and ContentHash stay as the ciphertexts
// the server holds: ContentHash doubles as the blob store's addressing key,
// so download apply decrypts it lazily, only once it actually needs the
// plaintext hash for post-download verification.
func (c *Ctx) decodeEntry(dto clientapi.EntryDTO) (domain.Entry, error) {
	path, err := c.Codec.DecryptPath(dto.Path)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("syncengine: decrypting archive path: %w", err)
	}

	e := domain.Entry{
		ID:            dto.ID,
		UpdateNumber:  dto.UpdateNumber,
		Path:          path,
		Kind:          domain.EntryKind(dto.Kind),
		RecordedAt:    dto.RecordedAt,
		SourceID:      dto.SourceID,
		RecordTrigger: domain.RecordTrigger(dto.RecordTrigger),
	}
	if dto.File != nil {
		e.File = &domain.FileMetadata{
			ModifiedAt:      dto.File.ModifiedAt,
			EncryptedSize:   dto.File.EncryptedSize,
			EncryptedLength: dto.File.EncryptedLength,
			ContentHash:     dto.File.ContentHash,
			UnixMode:        dto.File.UnixMode,
		}
	}
	return e, nil
}
