package syncengine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nf-oss/archivesync/internal/clientapi"
	"github.com/nf-oss/archivesync/internal/domain"
)

// deletionPhase walks every path LocalCache still remembers, deepest-first,
// and records a deletion for anything the just-completed upload scan did
// not observe. Runs after every mount's upload scan, per spec.md §5.
func (c *Ctx) deletionPhase(ctx context.Context, existing map[string]map[string]struct{}, res *Result, mu *sync.Mutex) error {
	var paths []string
	if err := c.Cache.WalkLocalEntries(ctx, func(path string, e domain.LocalEntry) error {
		paths = append(paths, path)
		return nil
	}); err != nil {
		return fmt.Errorf("syncengine: walking local cache: %w", err)
	}

	// Reverse lexicographic order puts a directory's children ahead of the
	// directory itself, since a child path is always a strict extension of
	// its parent's string.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan pendingVersion, BatchSize)
	g.Go(func() error { return c.runBatcher(gctx, ch, res, mu) })

	g.Go(func() error {
		defer close(ch)
		for _, path := range paths {
			m, ok := c.mountFor(path)
			if !ok {
				continue
			}
			if _, stillThere := existing[m.LocalRoot][path]; stillThere {
				continue
			}
			if c.Rules.ExcludedUnder(path, filepath.Clean(m.LocalRoot)) {
				continue
			}

			encPath, err := c.archivePath(m, path)
			if err != nil {
				return err
			}
			item := clientapi.AddVersionItem{
				EncryptedPath: encPath,
				RecordTrigger: string(domain.TriggerSync),
				// Kind left nil: the wire contract treats a missing Kind as
				// the deletion tombstone (domain.KindNotExists).
			}
			select {
			case ch <- pendingVersion{item: item, localPath: path, isDelete: true}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

func (c *Ctx) mountFor(path string) (Mount, bool) {
	for _, m := range c.Mounts {
		root := filepath.Clean(m.LocalRoot)
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return m, true
		}
	}
	return Mount{}, false
}
