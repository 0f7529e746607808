package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tryon/internal/domain"
)

// ReferenceRepositoryPG implements domain.ReferenceStore.
type ReferenceRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewReferenceRepository creates a reference repository backed by PostgreSQL.
func NewReferenceRepository(pool *pgxpool.Pool) *ReferenceRepositoryPG {
	return &ReferenceRepositoryPG{pool: pool}
}

const referenceColumns = `id, owner, kind, gender, image, is_default, created_at`

// Default returns the reference flagged as default for (owner, kind).
func (r *ReferenceRepositoryPG) Default(ctx context.Context, owner string, kind domain.ReferenceKind) (*domain.ReferenceImage, error) {
	query := `
SELECT ` + referenceColumns + `
FROM reference_images
WHERE owner = $1 AND kind = $2 AND is_default
LIMIT 1;
`
	return r.scanReference(r.pool.QueryRow(ctx, query, owner, kind))
}

// Latest returns the most recently created reference for (owner, kind).
func (r *ReferenceRepositoryPG) Latest(ctx context.Context, owner string, kind domain.ReferenceKind) (*domain.ReferenceImage, error) {
	query := `
SELECT ` + referenceColumns + `
FROM reference_images
WHERE owner = $1 AND kind = $2
ORDER BY created_at DESC
LIMIT 1;
`
	return r.scanReference(r.pool.QueryRow(ctx, query, owner, kind))
}

// List returns the owner's references, newest first, optionally filtered by
// kind.
func (r *ReferenceRepositoryPG) List(ctx context.Context, owner string, kind domain.ReferenceKind) ([]domain.ReferenceImage, error) {
	query := `
SELECT ` + referenceColumns + `
FROM reference_images
WHERE owner = $1 AND ($2 = '' OR kind = $2)
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query, owner, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReferenceImage
	for rows.Next() {
		ref, err := scanReferenceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ref)
	}
	return out, rows.Err()
}

// Create inserts a reference. When it is flagged default, siblings lose the
// flag in the same transaction so the partial unique index holds.
func (r *ReferenceRepositoryPG) Create(ctx context.Context, ref *domain.ReferenceImage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if ref.IsDefault {
		clear := `UPDATE reference_images SET is_default = FALSE WHERE owner = $1 AND kind = $2 AND is_default;`
		if _, err := tx.Exec(ctx, clear, ref.Owner, ref.Kind); err != nil {
			return fmt.Errorf("clear default flag: %w", err)
		}
	}
	insert := `
INSERT INTO reference_images (id, owner, kind, gender, image, is_default, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	if _, err := tx.Exec(ctx, insert, ref.ID, ref.Owner, ref.Kind, nullableString(ref.Gender), ref.Image, ref.IsDefault, ref.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetDefault marks the reference as the (owner, kind) default.
func (r *ReferenceRepositoryPG) SetDefault(ctx context.Context, owner, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var kind string
	row := tx.QueryRow(ctx, `SELECT kind FROM reference_images WHERE id = $1 AND owner = $2;`, id, owner)
	if err := row.Scan(&kind); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE reference_images SET is_default = FALSE WHERE owner = $1 AND kind = $2 AND is_default;`, owner, kind); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE reference_images SET is_default = TRUE WHERE id = $1;`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ReferenceRepositoryPG) scanReference(row pgx.Row) (*domain.ReferenceImage, error) {
	return scanReferenceRow(row)
}

func scanReferenceRow(row pgx.Row) (*domain.ReferenceImage, error) {
	var (
		ref    domain.ReferenceImage
		gender *string
	)
	if err := row.Scan(&ref.ID, &ref.Owner, &ref.Kind, &gender, &ref.Image, &ref.IsDefault, &ref.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	ref.Gender = deref(gender)
	return &ref, nil
}

var _ domain.ReferenceStore = (*ReferenceRepositoryPG)(nil)
