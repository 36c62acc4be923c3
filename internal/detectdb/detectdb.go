// Package detectdb owns the sqlite database that persists detection runs
// and their output boxes. It opens connections with the standard pragma
// set, manages the schema through embedded migrations, and exposes the
// debug/admin HTTP surface (live SQL console, stats, backup).
package detectdb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// busyTimeoutMs is how long a connection waits on a locked database
// before returning SQLITE_BUSY to the caller.
const busyTimeoutMs = 5000

// DB wraps the sql handle together with the path it was opened from,
// which the admin routes need for labelling and backups.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if necessary) the detection database at path.
// Pragmas are carried in the DSN so every pooled connection gets them:
// WAL journalling, a busy timeout, NORMAL sync and in-memory temp store.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)",
		path, busyTimeoutMs,
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// OpenAndMigrate opens the database and applies all pending schema
// migrations. This is the normal entry point for commands; Open alone is
// for tooling that manages the schema explicitly.
func OpenAndMigrate(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database %s: %w", path, err)
	}
	return db, nil
}

// Path returns the filesystem path the database was opened from.
func (db *DB) Path() string { return db.path }
