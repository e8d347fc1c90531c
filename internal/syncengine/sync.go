package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Sync runs one full synchronization pass: upload scan, then local-deletion
// detection (which must see every mount's upload scan complete first, per
// spec.md §5), then pulling new server entries, then applying them locally.
// A failure in an earlier phase aborts the rest; partial progress already
// flushed to LocalCache survives for the next run to pick up.
func (c *Ctx) Sync(ctx context.Context) (Result, error) {
	var res Result
	var mu sync.Mutex

	start := time.Now()
	existing, err := c.uploadPhase(ctx, &res, &mu)
	c.Metrics.observePhase("upload", start)
	if err != nil {
		return res, fmt.Errorf("syncengine: upload scan: %w", err)
	}

	start = time.Now()
	if err := c.deletionPhase(ctx, existing, &res, &mu); err != nil {
		c.Metrics.observePhase("deletion", start)
		return res, fmt.Errorf("syncengine: local deletion detection: %w", err)
	}
	c.Metrics.observePhase("deletion", start)

	start = time.Now()
	if err := c.pullPhase(ctx, &res); err != nil {
		c.Metrics.observePhase("pull", start)
		return res, fmt.Errorf("syncengine: pull updates: %w", err)
	}
	c.Metrics.observePhase("pull", start)

	start = time.Now()
	if err := c.downloadPhase(ctx, &res); err != nil {
		c.Metrics.observePhase("download", start)
		return res, fmt.Errorf("syncengine: download apply: %w", err)
	}
	c.Metrics.observePhase("download", start)

	return res, nil
}
