package serverapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nf-oss/archivesync/internal/authsrv"
	"github.com/nf-oss/archivesync/internal/blobstore"
	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/historydb"
	"github.com/nf-oss/archivesync/internal/wire"
)

// hashCache is the subset of tokencache.Cache Handlers needs for the
// ContentHashExists admission check.
type hashCache interface {
	ContentHashExists(ctx context.Context, hash string) (exists, found bool, err error)
	PutContentHashExists(ctx context.Context, hash string, exists bool) error
}

// Handlers implements the /api/v1/* RPC-style endpoints of spec.md §6 plus
// /content/{hash} blob transport, generalized from the teacher's
// handler.Handlers{store, blobStore, accessTracker} shape in
// internal/handler/router.go: one struct holding every collaborator a
// request might touch, with one method per route.
type Handlers struct {
	DB       historydb.DB
	Blobs    *blobstore.Store
	Hashes   hashCache
	ServerID string
	Logger   zerolog.Logger
}

func sourceID(r *http.Request) int64 {
	s, _ := authsrv.SourceFromContext(r.Context())
	return s.ID
}

// AddVersions verifies every claimed blob is actually committed with the
// claimed size before delegating to historydb.DB.AddVersions: the DB layer
// intentionally stops short of this check (see postgres/addversion.go's
// verifyBlobClaim), since only serverapi holds the blobstore.Store handle.
func (h *Handlers) AddVersions(w http.ResponseWriter, r *http.Request) {
	var req AddVersionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	reqs := make([]historydb.AddVersionRequest, len(req.Items))
	for i, item := range req.Items {
		db := item.toHistoryDB()
		if db.Kind != nil && *db.Kind == domain.KindFile && db.File != nil {
			if err := h.verifyBlobClaim(*db.File); err != nil {
				writeError(w, err)
				return
			}
		}
		reqs[i] = db
	}

	results, err := h.DB.AddVersions(r.Context(), sourceID(r), reqs)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := AddVersionsResponse{Added: make([]bool, len(results))}
	for i, res := range results {
		resp.Added[i] = res.Added
	}
	writeOK(w, resp)
}

func (h *Handlers) verifyBlobClaim(f domain.FileMetadata) error {
	key := hashKey(f.ContentHash)
	size, err := h.Blobs.FileSize(key)
	if err != nil {
		return fmt.Errorf("%w: content hash not committed to blob store", domain.ErrBlobNotFound)
	}
	if uint64(size) != f.EncryptedLength {
		return domain.ErrBlobSizeMismatch
	}
	return nil
}

func (h *Handlers) MovePath(w http.ResponseWriter, r *http.Request) {
	var req MovePathRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.DB.MovePath(r.Context(), sourceID(r), req.OldPath, req.NewPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, BulkActionStatsResponse{AffectedPaths: stats.AffectedPaths})
}

func (h *Handlers) RemovePath(w http.ResponseWriter, r *http.Request) {
	var req RemovePathRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.DB.RemovePath(r.Context(), sourceID(r), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, BulkActionStatsResponse{AffectedPaths: stats.AffectedPaths})
}

func (h *Handlers) ResetVersion(w http.ResponseWriter, r *http.Request) {
	var req ResetVersionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.DB.ResetVersion(r.Context(), sourceID(r), req.Path, req.RecordedAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, BulkActionStatsResponse{AffectedPaths: stats.AffectedPaths})
}

func (h *Handlers) ContentHashExists(w http.ResponseWriter, r *http.Request) {
	var req ContentHashExistsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	key := hashKey(req.EncryptedContentHash)

	if cached, found, err := h.Hashes.ContentHashExists(r.Context(), key); err == nil && found {
		writeOK(w, ContentHashExistsResponse{Exists: cached})
		return
	}

	exists, err := h.Blobs.Exists(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Hashes.PutContentHashExists(r.Context(), key, exists); err != nil {
		h.Logger.Warn().Err(err).Msg("serverapi: caching content hash result failed")
	}
	writeOK(w, ContentHashExistsResponse{Exists: exists})
}

func (h *Handlers) GetServerStatus(w http.ResponseWriter, r *http.Request) {
	avail, err := h.Blobs.AvailableSpace()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, ServerStatusResponse{ServerID: h.ServerID, AvailableSpace: avail})
}

func (h *Handlers) GetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.DB.ListSources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := GetSourcesResponse{Sources: make([]SourceInfoDTO, len(sources))}
	for i, s := range sources {
		resp.Sources[i] = SourceInfoDTO{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt, Revoked: s.Revoked()}
	}
	writeOK(w, resp)
}

// CheckIntegrity cross-references entry_versions against the blob store's
// enumerate() stream, per spec.md P9: it responds with a streamed
// ApplicationError if CheckIntegrity reports any drift, and an empty
// terminal frame otherwise.
func (h *Handlers) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	enc := wire.NewEncoder[struct{}](w)
	w.Header().Set("Content-Type", "application/octet-stream")

	err := h.DB.CheckIntegrity(r.Context(), func() (<-chan historydb.BlobRef, <-chan error) {
		infos, errc := h.Blobs.Enumerate()
		out := make(chan historydb.BlobRef)
		mapped := make(chan error, 1)
		go func() {
			defer close(out)
			for info := range infos {
				out <- historydb.BlobRef{Hash: info.Hash, Size: info.Size}
			}
			if walkErr := <-errc; walkErr != nil {
				mapped <- walkErr
			}
			close(mapped)
		}()
		return out, mapped
	})
	if err != nil {
		_ = enc.WriteErr(err.Error())
		return
	}
	_ = enc.WriteEnd()
}

// GetNewEntries streams every entry recorded after cursor, in update_number
// order, terminated by the Ok(None) frame wire.Encoder.WriteEnd writes.
func (h *Handlers) GetNewEntries(w http.ResponseWriter, r *http.Request) {
	var req GetNewEntriesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.streamEntries(w, r, func(fn func(domain.Entry) error) error {
		return h.DB.GetNewEntries(r.Context(), req.LastUpdateNumber, fn)
	})
}

func (h *Handlers) GetDirectChildEntries(w http.ResponseWriter, r *http.Request) {
	var req GetDirectChildEntriesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.streamEntries(w, r, func(fn func(domain.Entry) error) error {
		return h.DB.GetDirectChildEntries(r.Context(), req.EncryptedArchivePath, fn)
	})
}

func (h *Handlers) GetEntryVersionsAtTime(w http.ResponseWriter, r *http.Request) {
	var req GetEntryVersionsAtTimeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.streamVersions(w, r, func(fn func(domain.EntryVersion) error) error {
		return h.DB.GetEntryVersionsAtTime(r.Context(), req.Path, req.RecordedAt, fn)
	})
}

func (h *Handlers) GetAllEntryVersions(w http.ResponseWriter, r *http.Request) {
	var req GetAllEntryVersionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.streamVersions(w, r, func(fn func(domain.EntryVersion) error) error {
		return h.DB.GetAllEntryVersions(r.Context(), req.Path, req.Recursive, fn)
	})
}

// streamBatchSize caps how many items accumulate before a frame is flushed;
// chosen to match syncengine's AddVersion batch size so a client pulling
// entries and pushing versions sees consistent batch granularity.
const streamBatchSize = 128

func (h *Handlers) streamEntries(w http.ResponseWriter, r *http.Request, iterate func(func(domain.Entry) error) error) {
	w.Header().Set("Content-Type", "application/octet-stream")
	enc := wire.NewEncoder[EntryDTO](w)

	batch := make([]EntryDTO, 0, streamBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := enc.WriteBatch(batch)
		batch = batch[:0]
		return err
	}

	err := iterate(func(e domain.Entry) error {
		batch = append(batch, entryDTO(e))
		if len(batch) >= streamBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		_ = enc.WriteErr(err.Error())
		return
	}
	_ = enc.WriteEnd()
}

func (h *Handlers) streamVersions(w http.ResponseWriter, r *http.Request, iterate func(func(domain.EntryVersion) error) error) {
	w.Header().Set("Content-Type", "application/octet-stream")
	enc := wire.NewEncoder[EntryVersionDTO](w)

	batch := make([]EntryVersionDTO, 0, streamBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := enc.WriteBatch(batch)
		batch = batch[:0]
		return err
	}

	err := iterate(func(v domain.EntryVersion) error {
		batch = append(batch, entryVersionDTO(v))
		if len(batch) >= streamBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		_ = enc.WriteErr(err.Error())
		return
	}
	_ = enc.WriteEnd()
}
