// Package syncengine implements the client-side synchronization pipeline:
// the upload scan, local-deletion detection, pull-updates, and
// download-apply stages that together make up one sync run, generalized
// from the teacher's tiering.TieringController worker/semaphore shape in
// internal/tiering/controller.go and its scan/reconcile split.
package syncengine

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/nf-oss/archivesync/internal/archivepath"
	"github.com/nf-oss/archivesync/internal/clientapi"
	"github.com/nf-oss/archivesync/internal/codec"
	"github.com/nf-oss/archivesync/internal/localcache"
)

// BatchSize is the number of AddVersion items flushed to the server in one
// request.
const BatchSize = 128

// UploadWorkers and DownloadWorkers bound the concurrent content transfers
// a sync runs at once.
const (
	UploadWorkers   = 8
	DownloadWorkers = 8
)

// ArchiveClient is the subset of clientapi.API the engine needs; an
// interface so tests can substitute a fake transport.
type ArchiveClient interface {
	AddVersions(ctx context.Context, items []clientapi.AddVersionItem) ([]bool, error)
	ContentHashExists(ctx context.Context, encryptedHash []byte) (bool, error)
	GetNewEntries(ctx context.Context, cursor int64, fn func(clientapi.EntryDTO) error) error
	PutBlob(ctx context.Context, hash string, size int64, open func() (io.ReadCloser, error)) error
	GetBlob(ctx context.Context, hash string, expectedSize int64) (io.ReadCloser, error)
}

// Mount maps a local filesystem directory onto an archive subtree; multiple
// mounts let one sync cover several local directories sharing the same
// archive namespace.
type Mount struct {
	LocalRoot   string
	ArchiveRoot archivepath.Path
}

// Config tunes the engine's retry/backoff knobs, all of which spec the
// "too recent" debounce and batching constants.
type Config struct {
	// StatRetries bounds how many times a file's modified_at is re-read
	// when it looks "too recent" to trust.
	StatRetries int
	// StatBackoff is the delay between those re-reads.
	StatBackoff time.Duration
	// RecentWindow is how close to "now" a modified_at must be to be
	// considered untrustworthy.
	RecentWindow time.Duration
	// SpoolDir is where the codec spools ciphertext while encrypting.
	SpoolDir string
}

// DefaultConfig matches spec.md §4.4's "five attempts, 100ms backoff,
// 100ms recency window".
func DefaultConfig() Config {
	return Config{
		StatRetries:  5,
		StatBackoff:  100 * time.Millisecond,
		RecentWindow: 100 * time.Millisecond,
		SpoolDir:     "",
	}
}

// Ctx bundles every collaborator the four sync pipelines share, per
// spec.md §4.4's "all four share a Ctx holding client, codec, cache,
// counters, and configuration."
type Ctx struct {
	Client  ArchiveClient
	Codec   *codec.Codec
	Cache   localcache.Store
	Mounts  []Mount
	Rules   *Rules
	Config  Config
	Logger  zerolog.Logger
	Metrics *Metrics
}

// New builds a Ctx, filling in defaults for a nil Config or Metrics.
func New(client ArchiveClient, cdc *codec.Codec, cache localcache.Store, mounts []Mount, rules *Rules, cfg Config, logger zerolog.Logger, metrics *Metrics) *Ctx {
	if cfg.StatRetries == 0 {
		cfg = DefaultConfig()
	}
	if rules == nil {
		rules = NewRules(nil)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Ctx{
		Client:  client,
		Codec:   cdc,
		Cache:   cache,
		Mounts:  mounts,
		Rules:   rules,
		Config:  cfg,
		Logger:  logger.With().Str("component", "syncengine").Logger(),
		Metrics: metrics,
	}
}

// Result summarizes one sync run's outcome for the CLI's LocalStatus
// reporting.
type Result struct {
	Uploaded    int
	Deleted     int
	PulledNew   int
	Downloaded  int
	SkippedSame int
}
