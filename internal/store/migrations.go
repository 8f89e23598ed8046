package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the run history tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		sample       TEXT NOT NULL,
		sample_dir   TEXT NOT NULL,
		start_stage  TEXT NOT NULL,
		end_stage    TEXT NOT NULL,
		state        TEXT NOT NULL DEFAULT 'RUNNING',
		error        TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		completed_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS stage_events (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		stage  TEXT NOT NULL,
		action TEXT NOT NULL,
		at     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS unit_outcomes (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		unit        TEXT NOT NULL,
		state       TEXT NOT NULL,
		length      INTEGER NOT NULL DEFAULT 0,
		stop_codons INTEGER NOT NULL DEFAULT 0,
		intron      TEXT NOT NULL DEFAULT 'N/A',
		reason      TEXT NOT NULL DEFAULT '',
		elapsed_ms  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, unit)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_sample ON runs(sample)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_events_run_id ON stage_events(run_id)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "unit_outcomes",
		column:   "missing_input",
		alterSQL: "ALTER TABLE unit_outcomes ADD COLUMN missing_input INTEGER NOT NULL DEFAULT 0",
	},
	{
		table:    "unit_outcomes",
		column:   "error",
		alterSQL: "ALTER TABLE unit_outcomes ADD COLUMN error TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_unit_outcomes_state ON unit_outcomes(run_id, state)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}
	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
