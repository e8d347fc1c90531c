package domain

import "errors"

// Sentinel errors classifiable by callers via errors.Is, shared across
// historydb, localcache and serverapi.
var (
	ErrPathNotFound     = errors.New("domain: path not found")
	ErrPathExists       = errors.New("domain: path already exists")
	ErrHasChildren      = errors.New("domain: path has existing children")
	ErrSourceNotFound   = errors.New("domain: source not found")
	ErrSourceRevoked    = errors.New("domain: source revoked")
	ErrBlobNotFound     = errors.New("domain: blob not found")
	ErrBlobSizeMismatch = errors.New("domain: blob size does not match declared encrypted_size")
	ErrSnapshotNotFound = errors.New("domain: snapshot not found")
)
