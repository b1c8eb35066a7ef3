package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    venue         TEXT NOT NULL DEFAULT '',
    start_date    TIMESTAMPTZ NOT NULL,
    end_date      TIMESTAMPTZ NOT NULL,
    created_by_id TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL
  )`,
	`CREATE TABLE IF NOT EXISTS passes (
    pass_id             TEXT PRIMARY KEY,
    visitor_name        TEXT NOT NULL,
    visitor_phone       TEXT NOT NULL,
    id_type             TEXT NOT NULL,
    id_number           TEXT NOT NULL,
    visit_type          TEXT NOT NULL,
    event_id            TEXT NOT NULL DEFAULT '',
    event_name          TEXT NOT NULL DEFAULT '',
    student_name        TEXT NOT NULL DEFAULT '',
    relation_to_student TEXT NOT NULL DEFAULT '',
    department          TEXT NOT NULL DEFAULT '',
    purpose             TEXT NOT NULL,
    valid_from          TIMESTAMPTZ NOT NULL,
    valid_until         TIMESTAMPTZ NOT NULL,
    pass_status         TEXT NOT NULL DEFAULT 'active',
    entry_time          TIMESTAMPTZ,
    exit_time           TIMESTAMPTZ,
    entry_status        TEXT NOT NULL DEFAULT '',
    created_by_id       TEXT NOT NULL,
    created_by_role     TEXT NOT NULL,
    created_by_name     TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL,
    CHECK (valid_from < valid_until),
    CHECK (exit_time IS NULL OR (entry_time IS NOT NULL AND exit_time >= entry_time))
  )`,
	`CREATE TABLE IF NOT EXISTS student_entries (
    id                  TEXT PRIMARY KEY,
    registration_number TEXT NOT NULL,
    name                TEXT NOT NULL DEFAULT '',
    purpose             TEXT NOT NULL,
    entry_time          TIMESTAMPTZ NOT NULL,
    exit_time           TIMESTAMPTZ,
    recorded_by_id      TEXT NOT NULL,
    CHECK (exit_time IS NULL OR exit_time >= entry_time)
  )`,
	`CREATE INDEX IF NOT EXISTS idx_student_entries_entry_time ON student_entries (entry_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_passes_valid_until ON passes (valid_until)`,
	`CREATE INDEX IF NOT EXISTS idx_passes_entry_time ON passes (entry_time DESC)`,
}

// Migrate applies the schema. Statements are idempotent so startup can
// run this unconditionally.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
