package serverapi

import "encoding/hex"

// hashKey renders a raw content hash as the string blobstore.Store shards
// and looks blobs up by. It is distinct from the base64 URL-safe encoding
// used on the wire for /content/{hash}: the two are converted between at
// the HTTP boundary, never mixed.
func hashKey(raw []byte) string {
	return hex.EncodeToString(raw)
}
