package postgres

// schemaSQL creates the archive history schema if it does not already
// exist. Out-of-process migration tooling is explicitly out of scope for
// the core (spec.md §1); this is the minimal bootstrap a fresh server
// needs, following the "single sequence for update_number" invariant (I3).
const schemaSQL = `
CREATE SEQUENCE IF NOT EXISTS entry_update_numbers;

CREATE TABLE IF NOT EXISTS sources (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	access_token TEXT NOT NULL UNIQUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	revoked_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS snapshots (
	id        BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS entries (
	id             BIGSERIAL PRIMARY KEY,
	update_number  BIGINT NOT NULL,
	parent_dir     BIGINT REFERENCES entries(id),
	path           TEXT NOT NULL UNIQUE,
	kind           SMALLINT NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL,
	source_id      BIGINT NOT NULL REFERENCES sources(id),
	record_trigger TEXT NOT NULL,
	modified_at    TIMESTAMPTZ,
	original_size  BYTEA,
	encrypted_size BIGINT,
	content_hash   BYTEA,
	unix_mode      BIGINT
);

CREATE INDEX IF NOT EXISTS idx_entries_update_number ON entries (update_number);
CREATE INDEX IF NOT EXISTS idx_entries_parent_dir ON entries (parent_dir);

CREATE TABLE IF NOT EXISTS entry_versions (
	id             BIGSERIAL PRIMARY KEY,
	entry_id       BIGINT NOT NULL REFERENCES entries(id),
	snapshot_id    BIGINT REFERENCES snapshots(id),
	path           TEXT NOT NULL,
	kind           SMALLINT NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL,
	source_id      BIGINT NOT NULL,
	record_trigger TEXT NOT NULL,
	modified_at    TIMESTAMPTZ,
	original_size  BYTEA,
	encrypted_size BIGINT,
	content_hash   BYTEA,
	unix_mode      BIGINT
);

CREATE INDEX IF NOT EXISTS idx_entry_versions_path ON entry_versions (path);
CREATE INDEX IF NOT EXISTS idx_entry_versions_entry_id ON entry_versions (entry_id);
CREATE INDEX IF NOT EXISTS idx_entry_versions_snapshot_id ON entry_versions (snapshot_id);
`
