package domain

import "time"

// LocalFileData mirrors FileMetadata but in the client's local-cache
// representation, where ContentHash is the plaintext SHA-256 and sizes are
// plaintext too (everything here lives only on the client's disk).
type LocalFileData struct {
	ModifiedAt    time.Time
	OriginalSize  uint64
	EncryptedSize uint64
	ContentHash   [32]byte
	UnixMode      *uint32
}

// LocalEntry is the client's cached record of the last-known state of a
// local path, one per path in LocalCache.
type LocalEntry struct {
	Kind EntryKind
	File *LocalFileData // non-nil iff Kind == KindFile
}

// Unchanged reports whether observing (kind, modifiedAt, unixMode) for a
// file on disk still matches this cached entry, per the SyncEngine upload
// scan's "declare unchanged" short-circuit.
func (e *LocalEntry) Unchanged(kind EntryKind, modifiedAt time.Time, unixMode *uint32) bool {
	if e == nil || e.Kind != kind {
		return false
	}
	if kind != KindFile {
		return true
	}
	if e.File == nil {
		return false
	}
	if !e.File.ModifiedAt.Equal(modifiedAt) {
		return false
	}
	if !samePtr(e.File.UnixMode, unixMode) {
		return false
	}
	return true
}

func samePtr(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
