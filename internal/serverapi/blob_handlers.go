package serverapi

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// decodeHashParam recovers the raw content hash from a url-safe base64
// {hash} path segment, per spec.md §6's "PUT /content/{url_safe_encrypted_hash}".
func decodeHashParam(r *http.Request) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(chi.URLParam(r, "hash"))
}

// PutBlob streams a Content-Length-bounded request body into the blob
// store, committing it under the path hash only once fully written and
// fsynced, matching blobstore.Store.Create/Commit's temp-then-rename
// contract.
func (h *Handlers) PutBlob(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeHashParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	key := hashKey(raw)

	tmp, err := h.Blobs.Create()
	if err != nil {
		writeError(w, err)
		return
	}

	n, err := io.Copy(tmp, r.Body)
	if err != nil {
		_ = h.Blobs.Abort(tmp)
		writeError(w, err)
		return
	}
	if r.ContentLength >= 0 && n != r.ContentLength {
		_ = h.Blobs.Abort(tmp)
		writeError(w, errors.New("serverapi: blob upload truncated"))
		return
	}

	if err := h.Blobs.Commit(tmp, key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetBlob streams a committed blob back to the caller, setting
// Content-Length from blobstore.Store.FileSize so transport.Client's
// size-scaled timeout and the caller's integrity check both have a
// trustworthy expected size up front.
func (h *Handlers) GetBlob(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeHashParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	key := hashKey(raw)

	size, err := h.Blobs.FileSize(key)
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := h.Blobs.Open(key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
