package authsrv

import (
	"context"

	"github.com/nf-oss/archivesync/internal/domain"
)

// sourceCache is the subset of tokencache.Cache CachingSourceLookup needs;
// kept narrow so tests can fake it without a real redis connection.
type sourceCache interface {
	SourceByToken(ctx context.Context, token string) (domain.Source, bool, error)
	PutSource(ctx context.Context, s domain.Source) error
}

// sourceStore is the subset of historydb.DB CachingSourceLookup needs.
type sourceStore interface {
	SourceByToken(ctx context.Context, token string) (domain.Source, error)
}

// CachingSourceLookup implements SourceLookup over a historydb.DB, fronted
// by a tokencache.Cache so repeated requests from the same Source don't hit
// Postgres every time.
type CachingSourceLookup struct {
	store sourceStore
	cache sourceCache
}

// NewCachingSourceLookup wires store and cache into one SourceLookup.
func NewCachingSourceLookup(store sourceStore, cache sourceCache) *CachingSourceLookup {
	return &CachingSourceLookup{store: store, cache: cache}
}

// SourceByToken checks the cache first, falling through to store and
// populating the cache on a hit so the next request avoids the round trip.
func (l *CachingSourceLookup) SourceByToken(ctx context.Context, token string) (domain.Source, error) {
	if cached, found, err := l.cache.SourceByToken(ctx, token); err == nil && found {
		return cached, nil
	}

	s, err := l.store.SourceByToken(ctx, token)
	if err != nil {
		return domain.Source{}, err
	}

	// A cache-write failure shouldn't fail an otherwise-successful lookup;
	// the next request just falls through to store again.
	_ = l.cache.PutSource(ctx, s)
	return s, nil
}
