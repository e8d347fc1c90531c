// Package domain contains the core business entities of the archive
// history model: entries, their versions, snapshots and sources.
package domain

import "time"

// EntryKind describes what, if anything, exists at a path.
type EntryKind int

const (
	// KindNotExists means the path currently has no content; it is a
	// tombstone state, not the absence of a row.
	KindNotExists EntryKind = 0
	// KindFile means the path is a regular file.
	KindFile EntryKind = 1
	// KindDirectory means the path is a directory.
	KindDirectory EntryKind = 2
)

// Exists reports whether the kind denotes a live path.
func (k EntryKind) Exists() bool { return k > KindNotExists }

func (k EntryKind) String() string {
	switch k {
	case KindNotExists:
		return "NotExists"
	case KindFile:
		return "File"
	case KindDirectory:
		return "Directory"
	default:
		return "Unknown"
	}
}

// RecordTrigger names the operation that produced an Entry/EntryVersion
// state transition.
type RecordTrigger string

const (
	TriggerSync   RecordTrigger = "Sync"
	TriggerUpload RecordTrigger = "Upload"
	TriggerReset  RecordTrigger = "Reset"
	TriggerMove   RecordTrigger = "Move"
	TriggerRemove RecordTrigger = "Remove"
)

// FileMetadata holds the fields that only apply when Kind == KindFile. All
// byte-oriented fields are already encrypted; the server never decrypts
// them.
type FileMetadata struct {
	ModifiedAt      time.Time
	EncryptedSize   []byte // deterministic AES-SIV ciphertext of the plaintext size
	EncryptedLength uint64 // cleartext length of the encrypted blob on disk
	ContentHash     []byte // deterministic AES-SIV ciphertext of the SHA-256 hash
	UnixMode        *uint32
}

// Entry is the latest known state of a path in the archive, unique by
// encrypted path.
type Entry struct {
	ID            int64
	UpdateNumber  int64
	ParentDirID   *int64
	Path          string // encrypted
	Kind          EntryKind
	RecordedAt    time.Time
	SourceID      int64
	RecordTrigger RecordTrigger

	File *FileMetadata // non-nil iff Kind == KindFile
}

// EntryVersion is an immutable historical record of a past Entry state.
type EntryVersion struct {
	ID         int64
	EntryID    int64
	SnapshotID *int64

	Path          string
	Kind          EntryKind
	RecordedAt    time.Time
	SourceID      int64
	RecordTrigger RecordTrigger

	File *FileMetadata
}

// MateriallyEquivalent reports whether two states differ only in fields the
// AddVersion idempotence contract (P4) considers immaterial: RecordTrigger
// and ModifiedAt never affect equivalence; UnixMode is compared only when
// both sides specify it.
func (e *Entry) MateriallyEquivalent(kind EntryKind, contentHash []byte, unixMode *uint32) bool {
	if e.Kind != kind {
		return false
	}
	if kind != KindFile {
		return true
	}
	if e.File == nil {
		return false
	}
	if string(e.File.ContentHash) != string(contentHash) {
		return false
	}
	if e.File.UnixMode != nil && unixMode != nil && *e.File.UnixMode != *unixMode {
		return false
	}
	return true
}

// Snapshot marks a retained point in time; after compaction, history
// at-or-before its timestamp is represented only by snapshot-stamped
// versions.
type Snapshot struct {
	ID        int64
	Timestamp time.Time
}

// Source is a distinct client identity authenticated by bearer token.
type Source struct {
	ID          int64
	Name        string
	AccessToken string
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// Revoked reports whether the source's token has been invalidated.
func (s *Source) Revoked() bool { return s.RevokedAt != nil }
