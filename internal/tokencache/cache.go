// Package tokencache fronts historydb.DB's SourceByToken and
// ContentHashExists lookups with Redis, so the hot authentication path and
// the upload admission check on every AddVersion don't round-trip Postgres
// on every request.
package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nf-oss/archivesync/internal/domain"
)

const (
	sourceKeyPrefix = "archivesync:source:"
	hashKeyPrefix   = "archivesync:hashexists:"
)

// Cache wraps a redis client with the two narrow lookups serverapi's hot
// path needs.
type Cache struct {
	rdb       *redis.Client
	sourceTTL time.Duration
	hashTTL   time.Duration
}

// Config configures a Cache.
type Config struct {
	// SourceTTL bounds how long a revoked-or-not Source stays cached.
	// Revoking a source does not call InvalidateSource, so a cached entry
	// is only dropped when this TTL expires.
	SourceTTL time.Duration
	// HashTTL bounds how long a ContentHashExists=true result is trusted.
	HashTTL time.Duration
}

// New builds a Cache over an already-connected redis client.
func New(rdb *redis.Client, cfg Config) *Cache {
	if cfg.SourceTTL <= 0 {
		cfg.SourceTTL = 5 * time.Minute
	}
	if cfg.HashTTL <= 0 {
		cfg.HashTTL = time.Hour
	}
	return &Cache{rdb: rdb, sourceTTL: cfg.SourceTTL, hashTTL: cfg.HashTTL}
}

type cachedSource struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	AccessToken string     `json:"access_token"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at"`
}

// SourceByToken returns the cached Source for token, if present. found is
// false on a cache miss; callers fall through to historydb.DB.SourceByToken
// and call PutSource with the result.
func (c *Cache) SourceByToken(ctx context.Context, token string) (s domain.Source, found bool, err error) {
	raw, err := c.rdb.Get(ctx, sourceKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Source{}, false, nil
	}
	if err != nil {
		return domain.Source{}, false, fmt.Errorf("tokencache: get source: %w", err)
	}

	var cs cachedSource
	if err := json.Unmarshal(raw, &cs); err != nil {
		return domain.Source{}, false, fmt.Errorf("tokencache: decoding cached source: %w", err)
	}
	return domain.Source{
		ID:          cs.ID,
		Name:        cs.Name,
		AccessToken: cs.AccessToken,
		CreatedAt:   cs.CreatedAt,
		RevokedAt:   cs.RevokedAt,
	}, true, nil
}

// PutSource caches s under its access token.
func (c *Cache) PutSource(ctx context.Context, s domain.Source) error {
	cs := cachedSource{ID: s.ID, Name: s.Name, AccessToken: s.AccessToken, CreatedAt: s.CreatedAt, RevokedAt: s.RevokedAt}
	raw, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("tokencache: encoding source: %w", err)
	}
	if err := c.rdb.Set(ctx, sourceKeyPrefix+s.AccessToken, raw, c.sourceTTL).Err(); err != nil {
		return fmt.Errorf("tokencache: put source: %w", err)
	}
	return nil
}

// InvalidateSource drops a cached Source, so the next lookup for token
// misses the cache and falls through to historydb.DB.SourceByToken.
func (c *Cache) InvalidateSource(ctx context.Context, token string) error {
	if err := c.rdb.Del(ctx, sourceKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("tokencache: invalidate source: %w", err)
	}
	return nil
}

// ContentHashExists returns the cached admission result for hash.
func (c *Cache) ContentHashExists(ctx context.Context, hash string) (exists, found bool, err error) {
	v, err := c.rdb.Get(ctx, hashKeyPrefix+hash).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("tokencache: get hash: %w", err)
	}
	return v == "1", true, nil
}

// PutContentHashExists caches hash's existence result.
func (c *Cache) PutContentHashExists(ctx context.Context, hash string, exists bool) error {
	v := "0"
	if exists {
		v = "1"
	}
	if err := c.rdb.Set(ctx, hashKeyPrefix+hash, v, c.hashTTL).Err(); err != nil {
		return fmt.Errorf("tokencache: put hash: %w", err)
	}
	return nil
}
