package sqlite

const schemaSQL = `
CREATE TABLE IF NOT EXISTS local_entries (
	path           TEXT PRIMARY KEY,
	kind           INTEGER NOT NULL,
	modified_at    TEXT,
	original_size  INTEGER,
	encrypted_size INTEGER,
	content_hash   BLOB,
	unix_mode      INTEGER
);

CREATE TABLE IF NOT EXISTS archive_entries (
	path                  TEXT PRIMARY KEY,
	entry_id              INTEGER NOT NULL,
	update_number         INTEGER NOT NULL,
	kind                  INTEGER NOT NULL,
	recorded_at           TEXT NOT NULL,
	source_id             INTEGER NOT NULL,
	record_trigger        TEXT NOT NULL,
	file_modified_at      TEXT,
	file_encrypted_size   BLOB,
	file_encrypted_length INTEGER,
	file_content_hash     BLOB,
	file_unix_mode        INTEGER
);

CREATE TABLE IF NOT EXISTS kv_settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Reserved kv_settings keys, named rather than the spec's raw 0x00000001 /
// 0x00000002 integer keys since a relational schema has no need to borrow
// another tree's keyspace to avoid collisions.
const (
	keyLastUpdateNumber  = "last_update_number"
	keyNotificationStats = "notification_stats"
)
