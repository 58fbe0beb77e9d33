package ledger

import (
	"context"
	"fmt"
)

// Migrate creates any missing tables. Statements are written in the portable
// subset shared by SQLite and Postgres.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_jobs (
			id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			task TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			segment_id TEXT NOT NULL,
			edition_id TEXT,
			work_id TEXT,
			input TEXT NOT NULL DEFAULT '{}',
			output TEXT,
			attempt INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_claim
			ON pipeline_jobs(status, job_type, task, created_at)`,
		`CREATE TABLE IF NOT EXISTS editions (
			id TEXT PRIMARY KEY,
			work_id TEXT NOT NULL,
			media_type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			id TEXT PRIMARY KEY,
			edition_id TEXT NOT NULL,
			segment_type TEXT NOT NULL,
			number INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			bucket TEXT,
			key TEXT NOT NULL UNIQUE,
			asset_type TEXT NOT NULL,
			content_type TEXT,
			bytes INTEGER NOT NULL DEFAULT 0,
			sha256 TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS segment_assets (
			segment_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			role TEXT,
			PRIMARY KEY (segment_id, asset_id)
		)`,
		`CREATE TABLE IF NOT EXISTS segment_summaries (
			segment_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			summary_short TEXT NOT NULL DEFAULT '',
			events TEXT NOT NULL DEFAULT '[]',
			beats TEXT NOT NULL DEFAULT '[]',
			key_dialogue TEXT NOT NULL DEFAULT '[]',
			tone TEXT NOT NULL DEFAULT '{}',
			model_version TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS segment_entities (
			segment_id TEXT PRIMARY KEY,
			entities TEXT NOT NULL DEFAULT '{}',
			model_version TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			work_id TEXT NOT NULL,
			name TEXT NOT NULL,
			aliases TEXT NOT NULL DEFAULT '[]',
			character_facts TEXT NOT NULL DEFAULT '[]',
			description TEXT NOT NULL DEFAULT '',
			model_version TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			UNIQUE (work_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_characters_work ON characters(work_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
