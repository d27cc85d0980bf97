package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the task table.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		task_type     TEXT NOT NULL,
		scheduled_for TEXT NOT NULL,
		repeat        INTEGER NOT NULL DEFAULT 0,
		last_run      TEXT,
		created_at    TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_scheduled_for ON tasks(scheduled_for)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	// Scheduler claims
	{
		table:    "tasks",
		column:   "lease_owner",
		alterSQL: "ALTER TABLE tasks ADD COLUMN lease_owner TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_tasks_lease_owner ON tasks(lease_owner)",
	},
	{
		table:    "tasks",
		column:   "lease_expires_at",
		alterSQL: "ALTER TABLE tasks ADD COLUMN lease_expires_at TEXT",
	},
}

// migrate executes all schema DDL statements and alter migrations.
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

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	// Close before ALTER: the store runs on a single connection.
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		return nil
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
