package storage

// Schema versions for migration tracking
const (
	SchemaVersion1 = 1
	SchemaVersion2 = 2
	CurrentSchema  = SchemaVersion2
)

// SQL schema for version 1: the clipboard history table
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS clipboard_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    content TEXT,
    file_path TEXT,
    file_hash TEXT,
    file_size INTEGER,
    created_at INTEGER NOT NULL,
    extra_data TEXT
);

CREATE INDEX IF NOT EXISTS idx_history_type ON clipboard_history(type);
CREATE INDEX IF NOT EXISTS idx_history_created ON clipboard_history(created_at);
CREATE INDEX IF NOT EXISTS idx_created_type ON clipboard_history(created_at, type);
`

// SQL schema for version 2: first-class favorite flag and persisted sessions.
// Rows written before v2 only carry the flag inside extra_data, so the
// column is backfilled from the two serializations clients are known to use.
const schemaV2 = `
ALTER TABLE clipboard_history ADD COLUMN favorited INTEGER NOT NULL DEFAULT 0;

UPDATE clipboard_history SET favorited = 1
WHERE extra_data LIKE '%"favorited":true%'
   OR extra_data LIKE '%"favorited": true%';

CREATE INDEX IF NOT EXISTS idx_history_favorited ON clipboard_history(favorited, created_at);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`

// GetSchema returns the SQL schema for the given version
func GetSchema(version int) string {
	switch version {
	case SchemaVersion1:
		return schemaV1
	case SchemaVersion2:
		return schemaV2
	default:
		return ""
	}
}
