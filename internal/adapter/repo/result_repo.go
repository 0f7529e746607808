package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"tryon/internal/domain"
)

// ResultRepositoryPG implements domain.ResultStore. Rows are append-only.
type ResultRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a result repository backed by PostgreSQL.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepositoryPG {
	return &ResultRepositoryPG{pool: pool}
}

// Append inserts one pose attempt.
func (r *ResultRepositoryPG) Append(ctx context.Context, res *domain.GenerationResult) error {
	query := `
INSERT INTO generation_results (id, job_id, pose, image, error, instruction, latency_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		res.ID,
		res.JobID,
		res.Pose,
		nullableString(res.Image),
		nullableString(res.Error),
		res.Instruction,
		res.LatencyMs,
		res.CreatedAt,
	)
	return err
}

// ListByJob returns the full audit trail for a job, oldest first.
func (r *ResultRepositoryPG) ListByJob(ctx context.Context, jobID string) ([]domain.GenerationResult, error) {
	query := `
SELECT id, job_id, pose, image, error, instruction, latency_ms, created_at
FROM generation_results
WHERE job_id = $1
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GenerationResult
	for rows.Next() {
		var (
			res    domain.GenerationResult
			image  *string
			errMsg *string
		)
		if err := rows.Scan(&res.ID, &res.JobID, &res.Pose, &image, &errMsg, &res.Instruction, &res.LatencyMs, &res.CreatedAt); err != nil {
			return nil, err
		}
		res.Image = deref(image)
		res.Error = deref(errMsg)
		out = append(out, res)
	}
	return out, rows.Err()
}

var _ domain.ResultStore = (*ResultRepositoryPG)(nil)
