// Package retention implements the server-side snapshot-frontier
// scheduler: a background loop, generalized from the teacher's
// tiering.TieringController scanLoop/shutdownCh/wg shape in
// internal/tiering/controller.go, that periodically compacts history into
// snapshots and garbage-collects blobs no compacted version references
// anymore.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nf-oss/archivesync/internal/blobstore"
	"github.com/nf-oss/archivesync/internal/blobstore/coldarchive"
	"github.com/nf-oss/archivesync/internal/historydb"
)

// Config controls the scheduler's cadence and the snapshot age it
// maintains.
type Config struct {
	// ScanInterval is how often the engine checks whether a new snapshot
	// is due.
	ScanInterval time.Duration
	// SnapshotAge is how far behind "now" a new snapshot frontier is cut;
	// keeping it nonzero leaves a window of full history for clients that
	// haven't synced in a while.
	SnapshotAge time.Duration
}

// DefaultConfig mirrors the teacher's DefaultControllerConfig shape.
func DefaultConfig() Config {
	return Config{ScanInterval: time.Hour, SnapshotAge: 24 * time.Hour}
}

// Engine runs CompactSnapshot on a schedule and archives-then-removes any
// blob the compaction step leaves unreferenced.
type Engine struct {
	cfg      Config
	db       historydb.DB
	blobs    *blobstore.Store
	archiver coldarchive.Archiver
	logger   zerolog.Logger

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New builds an Engine. archiver may be nil, in which case orphaned blobs
// are removed directly without a cold-archive step.
func New(cfg Config, db historydb.DB, blobs *blobstore.Store, archiver coldarchive.Archiver, logger zerolog.Logger) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultConfig().ScanInterval
	}
	return &Engine{
		cfg:        cfg,
		db:         db,
		blobs:      blobs,
		archiver:   archiver,
		logger:     logger.With().Str("component", "retention-engine").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the background scan loop.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info().Dur("scan_interval", e.cfg.ScanInterval).Msg("starting retention engine")
	e.wg.Add(1)
	go e.scanLoop(ctx)
}

// Stop signals the scan loop to exit and waits for it to finish.
func (e *Engine) Stop() {
	close(e.shutdownCh)
	e.wg.Wait()
}

func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	e.runOnce(ctx)
	for {
		select {
		case <-e.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runOnce(ctx)
		}
	}
}

// runOnce decides whether a new snapshot is due and, if so, compacts to it
// and sweeps any blob the compaction orphaned.
func (e *Engine) runOnce(ctx context.Context) {
	latest, found, err := e.db.LatestSnapshotOrFirstVersionTime(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("retention: reading snapshot frontier failed")
		return
	}
	if !found {
		e.logger.Debug().Msg("retention: no history yet, nothing to compact")
		return
	}

	frontier := time.Now().Add(-e.cfg.SnapshotAge)
	if !frontier.After(latest) {
		e.logger.Debug().Time("latest", latest).Time("frontier", frontier).Msg("retention: not due yet")
		return
	}

	result, err := e.db.CompactSnapshot(ctx, frontier)
	if err != nil {
		e.logger.Error().Err(err).Msg("retention: compaction failed")
		return
	}
	e.logger.Info().
		Int64("snapshot_id", result.SnapshotID).
		Int("compacted", result.CompactedCount).
		Int("touched_hashes", len(result.TouchedHashes)).
		Msg("retention: compaction committed")

	e.sweepOrphans(ctx, result.TouchedHashes)
}

// sweepOrphans removes every hash CompactSnapshot reported as no longer
// referenced by any surviving entry_version. CompactSnapshot itself only
// rewrites entry_versions rows; it never touches the blob store, so this
// is the only place a blob is actually deleted from disk.
func (e *Engine) sweepOrphans(ctx context.Context, touched [][]byte) {
	for _, raw := range touched {
		key := hashKey(raw)

		exists, err := e.blobs.Exists(key)
		if err != nil {
			e.logger.Warn().Err(err).Str("hash", key).Msg("retention: checking blob existence failed")
			continue
		}
		if !exists {
			continue
		}

		if e.archiver != nil {
			if err := e.archiveBlob(ctx, key); err != nil {
				e.logger.Warn().Err(err).Str("hash", key).Msg("retention: cold-archive failed, leaving blob in place")
				continue
			}
		}

		if err := e.blobs.Remove(key); err != nil {
			e.logger.Warn().Err(err).Str("hash", key).Msg("retention: removing orphaned blob failed")
		}
	}
}

func (e *Engine) archiveBlob(ctx context.Context, key string) error {
	size, err := e.blobs.FileSize(key)
	if err != nil {
		return err
	}
	f, err := e.blobs.Open(key)
	if err != nil {
		return err
	}
	defer f.Close()
	return e.archiver.Archive(ctx, key, size, f)
}
