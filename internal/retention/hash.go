package retention

import "encoding/hex"

// hashKey renders a raw content hash the way serverapi and blobstore do:
// lowercase hex, matching the string blobstore.Store shards blobs by.
func hashKey(raw []byte) string {
	return hex.EncodeToString(raw)
}
