package clientapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/nf-oss/archivesync/internal/transport"
)

// API is the typed client-side view of /api/v1/*, built on top of a
// transport.Client's retry/timeout policy.
type API struct {
	c *transport.Client
}

// New wraps an already-configured transport.Client.
func New(c *transport.Client) *API {
	return &API{c: c}
}

// AddVersions pushes one batch and returns the per-item "added" flags in
// request order.
func (a *API) AddVersions(ctx context.Context, items []AddVersionItem) ([]bool, error) {
	var resp addVersionsResponse
	if err := a.c.Call(ctx, http.MethodPost, "/api/v1/AddVersions", addVersionsRequest{Items: items}, &resp); err != nil {
		return nil, err
	}
	return resp.Added, nil
}

// MovePath renames a path, returning how many entries were affected.
func (a *API) MovePath(ctx context.Context, oldPath, newPath string) (int, error) {
	var resp bulkActionStatsResponse
	err := a.c.Call(ctx, http.MethodPost, "/api/v1/MovePath", movePathRequest{OldPath: oldPath, NewPath: newPath}, &resp)
	return resp.AffectedPaths, err
}

// RemovePath records a deletion under path.
func (a *API) RemovePath(ctx context.Context, path string) (int, error) {
	var resp bulkActionStatsResponse
	err := a.c.Call(ctx, http.MethodPost, "/api/v1/RemovePath", removePathRequest{Path: path}, &resp)
	return resp.AffectedPaths, err
}

// ResetVersion restores path to the version live at recordedAt.
func (a *API) ResetVersion(ctx context.Context, path string, recordedAt time.Time) (int, error) {
	var resp bulkActionStatsResponse
	err := a.c.Call(ctx, http.MethodPost, "/api/v1/ResetVersion", resetVersionRequest{Path: path, RecordedAt: recordedAt}, &resp)
	return resp.AffectedPaths, err
}

// ContentHashExists reports whether the server already has a blob for the
// given encrypted content hash, letting the upload scan skip a redundant
// content-upload task.
func (a *API) ContentHashExists(ctx context.Context, encryptedHash []byte) (bool, error) {
	var resp contentHashExistsResponse
	err := a.c.Call(ctx, http.MethodPost, "/api/v1/ContentHashExists", contentHashExistsRequest{EncryptedContentHash: encryptedHash}, &resp)
	return resp.Exists, err
}

// GetServerStatus returns the server's identity and available blob storage.
func (a *API) GetServerStatus(ctx context.Context) (serverID string, availableSpace uint64, err error) {
	var resp serverStatusResponse
	err = a.c.Call(ctx, http.MethodPost, "/api/v1/GetServerStatus", nil, &resp)
	return resp.ServerID, resp.AvailableSpace, err
}

// GetSources lists every source registered on the server.
func (a *API) GetSources(ctx context.Context) ([]SourceInfo, error) {
	var resp getSourcesResponse
	err := a.c.Call(ctx, http.MethodPost, "/api/v1/GetSources", nil, &resp)
	return resp.Sources, err
}

// GetNewEntries streams every entry recorded after cursor, invoking fn for
// each in update_number order.
func (a *API) GetNewEntries(ctx context.Context, cursor int64, fn func(EntryDTO) error) error {
	return streamEntries(ctx, a.c, "/api/v1/GetNewEntries", getNewEntriesRequest{LastUpdateNumber: cursor}, fn)
}

// GetDirectChildEntries streams the direct children of an encrypted archive
// path.
func (a *API) GetDirectChildEntries(ctx context.Context, encryptedArchivePath string, fn func(EntryDTO) error) error {
	return streamEntries(ctx, a.c, "/api/v1/GetDirectChildEntries", getDirectChildEntriesRequest{EncryptedArchivePath: encryptedArchivePath}, fn)
}

// GetEntryVersionsAtTime streams every version of path live at recordedAt.
func (a *API) GetEntryVersionsAtTime(ctx context.Context, path string, recordedAt time.Time, fn func(EntryVersionDTO) error) error {
	return streamVersions(ctx, a.c, "/api/v1/GetEntryVersionsAtTime", getEntryVersionsAtTimeRequest{Path: path, RecordedAt: recordedAt}, fn)
}

// GetAllEntryVersions streams the full version history of path.
func (a *API) GetAllEntryVersions(ctx context.Context, path string, recursive bool, fn func(EntryVersionDTO) error) error {
	return streamVersions(ctx, a.c, "/api/v1/GetAllEntryVersions", getAllEntryVersionsRequest{Path: path, Recursive: recursive}, fn)
}

// PutBlob and GetBlob pass straight through to the underlying transport,
// which already handles size-scaled timeouts and hash-addressed routing.
func (a *API) PutBlob(ctx context.Context, hash string, size int64, open func() (io.ReadCloser, error)) error {
	return a.c.PutBlob(ctx, hash, size, open)
}

func (a *API) GetBlob(ctx context.Context, hash string, expectedSize int64) (io.ReadCloser, error) {
	return a.c.GetBlob(ctx, hash, expectedSize)
}

func streamEntries(ctx context.Context, c *transport.Client, path string, body any, fn func(EntryDTO) error) error {
	dec, closer, err := transport.Stream[EntryDTO](ctx, c, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer closer.Close()
	for {
		items, done, err := dec.Next()
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

func streamVersions(ctx context.Context, c *transport.Client, path string, body any, fn func(EntryVersionDTO) error) error {
	dec, closer, err := transport.Stream[EntryVersionDTO](ctx, c, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer closer.Close()
	for {
		items, done, err := dec.Next()
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
		if done {
			return nil
		}
	}
}
