package sqlite

// initialSchema holds only the schema_migrations table used for version tracking.
// The most recently inserted row is the store's schema version; applied_at is
// informational and never used for ordering.
const initialSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

const (
	recordVersionSQL   = `INSERT OR REPLACE INTO schema_migrations (version, applied_at) VALUES (?, strftime('%s', 'now'))`
	currentVersionSQL  = `SELECT version FROM schema_migrations ORDER BY rowid DESC LIMIT 1`
	hasVersionTableSQL = `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'`
)

// auxiliarySuffixes are the side files SQLite may keep next to the main file.
var auxiliarySuffixes = []string{"-wal", "-shm", "-journal"}
