// Package wire implements the binary request/response codec shared by the
// client and server: msgpack-encoded bodies for every /api/v1/* call, and a
// length-prefixed streaming frame format for the endpoints that return an
// unbounded number of rows (GetNewEntries, GetDirectChildEntries,
// GetEntryVersionsAtTime, GetAllEntryVersions).
package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes v as the msgpack body of a request or a non-streamed
// response.
func Marshal(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a msgpack body into v.
func Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

// ErrorBody is the msgpack body of a non-2xx /api/v1/* response. Both
// transport and serverapi use it as the single error shape travelling over
// the wire, matching spec.md §7's "Application" error class: a
// server-reported logical failure, distinct from connection-level errors.
type ErrorBody struct {
	Message string `msgpack:"message"`
}
