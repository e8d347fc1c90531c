// Package localcache defines the client-side persistent mirror of archive
// state: a local view of the last-known file attributes SyncEngine's
// upload scan diffs against (local_entries), a cached copy of server
// Entry rows pulled since the last cursor (archive_entries), the pull
// cursor itself, and counters for notifications shown to the user.
package localcache

import (
	"context"

	"github.com/nf-oss/archivesync/internal/domain"
)

// NotificationStats counts sync outcomes surfaced to the user between
// reads; kept in the same store as a reserved row so a crash mid-sync
// doesn't lose what happened before it.
type NotificationStats struct {
	Created   int64
	Updated   int64
	Deleted   int64
	Conflicts int64
}

// Store is the client-side cache SyncEngine reads and writes on every
// scan/pull/apply cycle.
type Store interface {
	// LocalEntry returns the cached last-known state of path, if any.
	LocalEntry(ctx context.Context, path string) (domain.LocalEntry, bool, error)
	// PutLocalEntry upserts path's cached state after a successful upload
	// or download-apply.
	PutLocalEntry(ctx context.Context, path string, e domain.LocalEntry) error
	// DeleteLocalEntry drops path's cached state after a detected local
	// deletion has been recorded.
	DeleteLocalEntry(ctx context.Context, path string) error
	// WalkLocalEntries calls fn for every cached local entry, in path
	// order, stopping at the first error fn returns.
	WalkLocalEntries(ctx context.Context, fn func(path string, e domain.LocalEntry) error) error

	// ArchiveEntry returns the cached mirror of a server Entry, if any.
	ArchiveEntry(ctx context.Context, path string) (domain.Entry, bool, error)
	// WalkArchiveEntries calls fn for every cached archive entry, in path
	// order.
	WalkArchiveEntries(ctx context.Context, fn func(domain.Entry) error) error

	// Cursor returns the last_update_number pull has advanced to; 0 means
	// the cache has never been populated.
	Cursor(ctx context.Context) (int64, error)
	// ApplyPulledEntries upserts entries into the archive mirror and
	// advances the cursor to newCursor in one transaction, so a crash
	// between the two can never leave the cursor ahead of the data it
	// claims to cover.
	ApplyPulledEntries(ctx context.Context, entries []domain.Entry, newCursor int64) error

	// NotificationStats returns the accumulated counters.
	NotificationStats(ctx context.Context) (NotificationStats, error)
	// RecordNotification increments one counter field by one; kind is one
	// of "created", "updated", "deleted", "conflicts".
	RecordNotification(ctx context.Context, kind string) error
	// ResetNotificationStats zeroes the counters, called after the CLI's
	// LocalStatus command has reported them to the user.
	ResetNotificationStats(ctx context.Context) error
}
