package domain

import (
	"context"
	"time"
)

// JobStore owns Job persistence. Implementations return ErrNotFound when a
// job does not exist for the given scope.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	// GetByID loads a job regardless of owner; callers enforce ownership.
	GetByID(ctx context.Context, id string) (*Job, error)
	// GetByIdempotencyKey returns the most recent job for (owner, key).
	GetByIdempotencyKey(ctx context.Context, owner, key string) (*Job, error)
	// MarkQueued flips created -> queued; a no-op for any other status.
	MarkQueued(ctx context.Context, id string) error
	// MarkRunning conditionally transitions created/queued/running ->
	// running and records the provider and start time. Terminal jobs are
	// left untouched so a re-run keeps the prior provider on record until
	// Complete. It reports whether the update applied.
	MarkRunning(ctx context.Context, id, provider string, startedAt time.Time) (bool, error)
	// Complete writes the terminal status, results, debug record and end
	// time in a single update.
	Complete(ctx context.Context, id string, status JobStatus, results *Results, debug map[string]any, errMsg string, endedAt time.Time) error
	// ClaimQueued atomically claims the oldest queued job for a worker,
	// returning ErrNotFound when none is available.
	ClaimQueued(ctx context.Context) (*Job, error)
}

// ResultStore owns the append-only per-pose audit trail.
type ResultStore interface {
	Append(ctx context.Context, res *GenerationResult) error
	ListByJob(ctx context.Context, jobID string) ([]GenerationResult, error)
}

// ReferenceStore reads and manages saved reference images. The resolver only
// uses the read side.
type ReferenceStore interface {
	Default(ctx context.Context, owner string, kind ReferenceKind) (*ReferenceImage, error)
	Latest(ctx context.Context, owner string, kind ReferenceKind) (*ReferenceImage, error)
	List(ctx context.Context, owner string, kind ReferenceKind) ([]ReferenceImage, error)
	Create(ctx context.Context, ref *ReferenceImage) error
	// SetDefault marks the given reference as the (owner, kind) default and
	// clears the flag on its siblings.
	SetDefault(ctx context.Context, owner, id string) error
}
