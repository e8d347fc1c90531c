package serverapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/nf-oss/archivesync/internal/blobstore"
	"github.com/nf-oss/archivesync/internal/domain"
	"github.com/nf-oss/archivesync/internal/wire"
)

// writeError maps a domain/blobstore sentinel to an HTTP status the way the
// teacher's handler/common.go maps S3Error values to XML fault codes,
// adapted to a single msgpack wire.ErrorBody instead of per-error XML
// codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrPathNotFound), errors.Is(err, blobstore.ErrBlobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrPathExists), errors.Is(err, domain.ErrHasChildren):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrBlobSizeMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSourceNotFound), errors.Is(err, domain.ErrSourceRevoked):
		status = http.StatusUnauthorized
	}

	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(status)
	body, _ := wire.Marshal(wire.ErrorBody{Message: err.Error()})
	w.Write(body)
}

func writeOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/msgpack")
	if v == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	body, err := wire.Marshal(v)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	return wire.Unmarshal(buf, v)
}
