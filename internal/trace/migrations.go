package trace

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the journal tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		tasks      TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS dispatches (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		at         TEXT NOT NULL,
		slot       INTEGER NOT NULL,
		task       TEXT NOT NULL,
		tick       INTEGER NOT NULL,
		dur_us     INTEGER NOT NULL,
		fault      INTEGER NOT NULL DEFAULT 0,
		err        TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_dispatches_session ON dispatches(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatches_fault ON dispatches(fault) WHERE fault != 0`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
