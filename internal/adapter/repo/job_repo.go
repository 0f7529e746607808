package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tryon/internal/domain"
)

// JobRepositoryPG implements domain.JobStore.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, owner, requested_mode, final_mode, options, poses, main_image,
	env_image, person_image, status, provider, results, debug, idempotency_key,
	error, created_at, started_at, ended_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	debug, err := marshalNullable(job.Debug)
	if err != nil {
		return fmt.Errorf("marshal debug: %w", err)
	}
	query := `
INSERT INTO generation_jobs (id, owner, requested_mode, final_mode, options, poses, main_image, env_image, person_image, status, debug, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Owner,
		job.RequestedMode,
		job.FinalMode,
		options,
		posesToStrings(job.Poses),
		job.MainImage,
		nullableString(job.EnvironmentImage),
		nullableString(job.PersonImage),
		job.Status,
		debug,
		nullableString(job.IdempotencyKey),
		job.CreatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey returns the most recent job for (owner, key).
func (r *JobRepositoryPG) GetByIdempotencyKey(ctx context.Context, owner, key string) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE owner = $1 AND idempotency_key = $2
ORDER BY created_at DESC
LIMIT 1;
`
	return r.scanJob(r.pool.QueryRow(ctx, query, owner, key))
}

// MarkQueued flips created -> queued, leaving any other status alone.
func (r *JobRepositoryPG) MarkQueued(ctx context.Context, id string) error {
	query := `
UPDATE generation_jobs
SET status = 'queued'
WHERE id = $1 AND status = 'created';
`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkRunning conditionally records the running transition with provider and
// start time. Terminal jobs are untouched.
func (r *JobRepositoryPG) MarkRunning(ctx context.Context, id, provider string, startedAt time.Time) (bool, error) {
	query := `
UPDATE generation_jobs
SET status = 'running', provider = $2, started_at = $3
WHERE id = $1 AND status IN ('created', 'queued', 'running');
`
	tag, err := r.pool.Exec(ctx, query, id, provider, startedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Complete writes the terminal status, results, debug record and end time in
// one update.
func (r *JobRepositoryPG) Complete(ctx context.Context, id string, status domain.JobStatus, results *domain.Results, debug map[string]any, errMsg string, endedAt time.Time) error {
	var resultsJSON []byte
	if results != nil {
		var err error
		resultsJSON, err = json.Marshal(results)
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
	}
	debugJSON, err := marshalNullable(debug)
	if err != nil {
		return fmt.Errorf("marshal debug: %w", err)
	}
	query := `
UPDATE generation_jobs
SET status = $2,
    results = COALESCE($3::jsonb, results),
    debug = COALESCE($4::jsonb, debug),
    error = $5,
    ended_at = $6
WHERE id = $1;
`
	_, err = r.pool.Exec(ctx, query, id, status, nullableBytes(resultsJSON), debugJSON, nullableString(errMsg), endedAt)
	return err
}

// ClaimQueued atomically claims the oldest queued job for a worker.
func (r *JobRepositoryPG) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM generation_jobs
    WHERE status = 'queued'
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
claimed AS (
    UPDATE generation_jobs
    SET status = 'running'
    WHERE id IN (SELECT id FROM next_job)
    RETURNING ` + jobColumns + `
)
SELECT * FROM claimed;
`
	return r.scanJob(r.pool.QueryRow(ctx, query))
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job         domain.Job
		options     []byte
		poses       []string
		envImage    *string
		personImage *string
		provider    *string
		results     []byte
		debug       []byte
		idemKey     *string
		errMsg      *string
	)
	if err := row.Scan(
		&job.ID,
		&job.Owner,
		&job.RequestedMode,
		&job.FinalMode,
		&options,
		&poses,
		&job.MainImage,
		&envImage,
		&personImage,
		&job.Status,
		&provider,
		&results,
		&debug,
		&idemKey,
		&errMsg,
		&job.CreatedAt,
		&job.StartedAt,
		&job.EndedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	job.Poses = domain.NormalizePoses(poses)
	job.EnvironmentImage = deref(envImage)
	job.PersonImage = deref(personImage)
	job.Provider = deref(provider)
	job.IdempotencyKey = deref(idemKey)
	job.Error = deref(errMsg)
	if len(results) > 0 {
		job.Results = &domain.Results{}
		if err := json.Unmarshal(results, job.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	if len(debug) > 0 {
		if err := json.Unmarshal(debug, &job.Debug); err != nil {
			return nil, fmt.Errorf("unmarshal debug: %w", err)
		}
	}
	return &job, nil
}

func posesToStrings(poses []domain.Pose) []string {
	out := make([]string, len(poses))
	for i, p := range poses {
		out[i] = string(p)
	}
	return out
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ domain.JobStore = (*JobRepositoryPG)(nil)
