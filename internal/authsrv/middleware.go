// Package authsrv implements bearer-token authentication for serverapi,
// adapted from the teacher's SigV4-style auth.Config{Region, Service,
// AllowAnonymous, SkipPaths} shape referenced (but not included) by
// internal/handler/router.go's CreateAuthMiddleware: the same
// allow-anonymous/skip-paths knobs, rebuilt around a flat
// "Authorization: Bearer <token>" -> Source lookup instead of AWS SigV4
// request signing.
package authsrv

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/wire"
)

// SourceLookup resolves a bearer token to its Source, the shape
// serverapi's middleware depends on regardless of whether a cache sits in
// front of historydb.DB.
type SourceLookup interface {
	SourceByToken(ctx context.Context, token string) (domain.Source, error)
}

// Config mirrors the teacher's auth.Config shape, trimmed to what a
// bearer-token scheme needs.
type Config struct {
	// AllowAnonymous lets requests without an Authorization header through
	// unauthenticated. serverapi's router does not set it, so every
	// /api/v1 endpoint, GetServerStatus included, requires a token.
	AllowAnonymous bool
	// SkipPaths bypasses authentication entirely for exact path matches,
	// e.g. "/health" and "/metrics".
	SkipPaths []string
}

type contextKey int

const sourceContextKey contextKey = 0

// SourceFromContext returns the authenticated Source a request carried, if
// any.
func SourceFromContext(ctx context.Context) (domain.Source, bool) {
	s, ok := ctx.Value(sourceContextKey).(domain.Source)
	return s, ok
}

// CreateAuthMiddleware builds the bearer-auth middleware, following the
// teacher's CreateAuthMiddleware(store, config) func(http.Handler)
// http.Handler signature with store generalized to SourceLookup.
func CreateAuthMiddleware(lookup SourceLookup, cfg Config, logger zerolog.Logger) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				if cfg.AllowAnonymous {
					next.ServeHTTP(w, r)
					return
				}
				writeUnauthorized(w, "missing bearer token")
				return
			}

			source, err := lookup.SourceByToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, domain.ErrSourceNotFound) || errors.Is(err, domain.ErrSourceRevoked) {
					writeUnauthorized(w, "invalid or revoked token")
					return
				}
				logger.Error().Err(err).Msg("authsrv: source lookup failed")
				writeUnauthorized(w, "authentication unavailable")
				return
			}

			ctx := context.WithValue(r.Context(), sourceContextKey, source)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(h, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(http.StatusUnauthorized)
	body, _ := wire.Marshal(wire.ErrorBody{Message: msg})
	w.Write(body)
}
