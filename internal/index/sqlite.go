package index

import (
	"context"
	"database/sql"
	"fmt"
)

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	err = applyPragmas(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// The index can always be rebuilt from the vault, so it trades durability
// for speed.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, stmt := range statements {
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	row := db.QueryRowContext(ctx, "PRAGMA user_version")

	var version int

	err := row.Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}

	return version, nil
}

// createSchema drops and recreates every table.
func createSchema(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		"DROP TABLE IF EXISTS entries",
		"DROP TABLE IF EXISTS documents",
		`CREATE TABLE documents (
			path TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			unit TEXT NOT NULL,
			mtime_ns INTEGER NOT NULL,
			size INTEGER NOT NULL
		) WITHOUT ROWID`,
		`CREATE TABLE entries (
			path TEXT NOT NULL,
			date TEXT NOT NULL,
			value_num REAL,
			value_text TEXT,
			PRIMARY KEY (path, date)
		) WITHOUT ROWID`,
		"CREATE INDEX idx_entries_date ON entries(date)",
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion),
	}

	for _, stmt := range statements {
		_, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("apply schema statement %q: %w", stmt, err)
		}
	}

	return nil
}
