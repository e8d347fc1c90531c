package authsrv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nf-oss/archivesync/internal/domain"
)

type fakeLookup struct {
	sources map[string]domain.Source
}

func (f *fakeLookup) SourceByToken(ctx context.Context, token string) (domain.Source, error) {
	s, ok := f.sources[token]
	if !ok {
		return domain.Source{}, domain.ErrSourceNotFound
	}
	return s, nil
}

func TestMiddleware_ValidToken(t *testing.T) {
	lookup := &fakeLookup{sources: map[string]domain.Source{"tok": {ID: 1, Name: "laptop"}}}

	var seen domain.Source
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SourceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mw := CreateAuthMiddleware(lookup, Config{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), seen.ID)
}

func TestMiddleware_MissingToken(t *testing.T) {
	mw := CreateAuthMiddleware(&fakeLookup{}, Config{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_SkipPath(t *testing.T) {
	mw := CreateAuthMiddleware(&fakeLookup{}, Config{SkipPaths: []string{"/health"}}, zerolog.Nop())
	called := false
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_UnknownToken(t *testing.T) {
	lookup := &fakeLookup{sources: map[string]domain.Source{}}
	mw := CreateAuthMiddleware(lookup, Config{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer unknown")
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
