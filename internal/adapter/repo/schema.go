// Package repo implements the persistence interfaces on PostgreSQL via pgx.
package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables and indexes if they do not exist yet. The
// service owns its schema and applies it on boot.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS generation_jobs (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			requested_mode TEXT NOT NULL,
			final_mode TEXT NOT NULL,
			options JSONB NOT NULL DEFAULT '{}'::jsonb,
			poses TEXT[] NOT NULL DEFAULT '{}',
			main_image TEXT NOT NULL,
			env_image TEXT,
			person_image TEXT,
			status TEXT NOT NULL DEFAULT 'created',
			provider TEXT,
			results JSONB,
			debug JSONB,
			idempotency_key TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generation_jobs_owner ON generation_jobs(owner);`,
		`CREATE INDEX IF NOT EXISTS idx_generation_jobs_idem ON generation_jobs(owner, idempotency_key) WHERE idempotency_key IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_generation_jobs_queued ON generation_jobs(created_at) WHERE status = 'queued';`,
		`CREATE TABLE IF NOT EXISTS generation_results (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			pose TEXT NOT NULL,
			image TEXT,
			error TEXT,
			instruction TEXT,
			latency_ms BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generation_results_job ON generation_results(job_id);`,
		`CREATE TABLE IF NOT EXISTS reference_images (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			kind TEXT NOT NULL,
			gender TEXT,
			image TEXT NOT NULL,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reference_images_owner_kind ON reference_images(owner, kind);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reference_images_default ON reference_images(owner, kind) WHERE is_default;`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
