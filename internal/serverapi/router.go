// Package serverapi implements the server-side wire API of spec.md §6: the
// /api/v1/* RPC-style endpoints and the out-of-band /content/{hash} blob
// transport, built on go-chi/chi the way the teacher's go.mod declares chi
// as a direct dependency even though internal/handler/router.go itself
// falls back to a bare http.ServeMux; this router is the piece of the
// teacher's stack that actually exercises chi.
package serverapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nf-oss/archivesync/internal/authsrv"
	"github.com/nf-oss/archivesync/internal/blobstore"
	"github.com/nf-oss/archivesync/internal/historydb"
)

// Deps are the collaborators NewRouter wires into Handlers and the auth
// middleware.
type Deps struct {
	DB       historydb.DB
	Blobs    *blobstore.Store
	Lookup   authsrv.SourceLookup
	Hashes   hashCache
	ServerID string
	Logger   zerolog.Logger
	Registry *prometheus.Registry
}

// NewRouter builds the full HTTP handler: chi middleware stack, bearer
// auth (skipping /health and /metrics), the /api/v1/* RPC endpoints and
// /content/{hash} blob transport.
func NewRouter(d Deps) http.Handler {
	h := &Handlers{DB: d.DB, Blobs: d.Blobs, Hashes: d.Hashes, ServerID: d.ServerID, Logger: d.Logger}

	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := newMetrics(reg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	authMW := authsrv.CreateAuthMiddleware(d.Lookup, authsrv.Config{
		SkipPaths: []string{"/health", "/metrics"},
	}, d.Logger)

	r.Group(func(r chi.Router) {
		r.Use(authMW)

		r.Route("/api/v1", func(r chi.Router) {
			post := func(path string, fn http.HandlerFunc) {
				r.Post(path, m.instrument("/api/v1"+path, fn))
			}
			post("/GetNewEntries", h.GetNewEntries)
			post("/GetDirectChildEntries", h.GetDirectChildEntries)
			post("/GetEntryVersionsAtTime", h.GetEntryVersionsAtTime)
			post("/GetAllEntryVersions", h.GetAllEntryVersions)
			post("/AddVersions", h.AddVersions)
			post("/MovePath", h.MovePath)
			post("/RemovePath", h.RemovePath)
			post("/ResetVersion", h.ResetVersion)
			post("/ContentHashExists", h.ContentHashExists)
			post("/GetServerStatus", h.GetServerStatus)
			post("/CheckIntegrity", h.CheckIntegrity)
			post("/GetSources", h.GetSources)
		})

		r.Put("/content/{hash}", m.instrument("/content", h.PutBlob))
		r.Get("/content/{hash}", m.instrument("/content", h.GetBlob))
	})

	return r
}
