// Package memory provides in-memory store implementations. They back unit
// tests and local runs without a database; behavior mirrors the PostgreSQL
// repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tryon/internal/domain"
)

// JobStore is an in-memory domain.JobStore.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

// NewJobStore builds an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job)}
}

func (s *JobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return domain.ErrInvalidInput
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *JobStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyJob(job), nil
}

func (s *JobStore) GetByIdempotencyKey(_ context.Context, owner, key string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Job
	for _, job := range s.jobs {
		if job.Owner != owner || job.IdempotencyKey == "" || job.IdempotencyKey != key {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return copyJob(latest), nil
}

func (s *JobStore) MarkQueued(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status == domain.JobStatusCreated {
		job.Status = domain.JobStatusQueued
	}
	return nil
}

func (s *JobStore) MarkRunning(_ context.Context, id, provider string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	switch job.Status {
	case domain.JobStatusCreated, domain.JobStatusQueued, domain.JobStatusRunning:
		job.Status = domain.JobStatusRunning
		job.Provider = provider
		started := startedAt
		job.StartedAt = &started
		return true, nil
	default:
		return false, nil
	}
}

func (s *JobStore) Complete(_ context.Context, id string, status domain.JobStatus, results *domain.Results, debug map[string]any, errMsg string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = status
	if results != nil {
		job.Results = results
	}
	if debug != nil {
		job.Debug = debug
	}
	job.Error = errMsg
	ended := endedAt
	job.EndedAt = &ended
	return nil
}

func (s *JobStore) ClaimQueued(_ context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var queued []*domain.Job
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })
	claimed := queued[0]
	claimed.Status = domain.JobStatusRunning
	return copyJob(claimed), nil
}

func copyJob(job *domain.Job) *domain.Job {
	dup := *job
	dup.Poses = append([]domain.Pose(nil), job.Poses...)
	if job.Results != nil {
		res := *job.Results
		res.Images = append([]*string(nil), job.Results.Images...)
		res.Poses = append([]domain.Pose(nil), job.Results.Poses...)
		if job.Results.ErrorsByIndex != nil {
			res.ErrorsByIndex = make(map[int]string, len(job.Results.ErrorsByIndex))
			for k, v := range job.Results.ErrorsByIndex {
				res.ErrorsByIndex[k] = v
			}
		}
		dup.Results = &res
	}
	if job.Debug != nil {
		dup.Debug = make(map[string]any, len(job.Debug))
		for k, v := range job.Debug {
			dup.Debug[k] = v
		}
	}
	return &dup
}

// ResultStore is an in-memory domain.ResultStore.
type ResultStore struct {
	mu   sync.Mutex
	rows []domain.GenerationResult
}

// NewResultStore builds an empty in-memory result store.
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

func (s *ResultStore) Append(_ context.Context, row *domain.GenerationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *row)
	return nil
}

func (s *ResultStore) ListByJob(_ context.Context, jobID string) ([]domain.GenerationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.GenerationResult
	for _, row := range s.rows {
		if row.JobID == jobID {
			out = append(out, row)
		}
	}
	return out, nil
}

// ReferenceStore is an in-memory domain.ReferenceStore.
type ReferenceStore struct {
	mu   sync.Mutex
	refs map[string]*domain.ReferenceImage
}

// NewReferenceStore builds an empty in-memory reference store.
func NewReferenceStore() *ReferenceStore {
	return &ReferenceStore{refs: make(map[string]*domain.ReferenceImage)}
}

func (s *ReferenceStore) Default(_ context.Context, owner string, kind domain.ReferenceKind) (*domain.ReferenceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range s.refs {
		if ref.Owner == owner && ref.Kind == kind && ref.IsDefault {
			dup := *ref
			return &dup, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *ReferenceStore) Latest(_ context.Context, owner string, kind domain.ReferenceKind) (*domain.ReferenceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.ReferenceImage
	for _, ref := range s.refs {
		if ref.Owner != owner || ref.Kind != kind {
			continue
		}
		if latest == nil || ref.CreatedAt.After(latest.CreatedAt) {
			latest = ref
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	dup := *latest
	return &dup, nil
}

func (s *ReferenceStore) List(_ context.Context, owner string, kind domain.ReferenceKind) ([]domain.ReferenceImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ReferenceImage
	for _, ref := range s.refs {
		if ref.Owner == owner && (kind == "" || ref.Kind == kind) {
			out = append(out, *ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *ReferenceStore) Create(_ context.Context, ref *domain.ReferenceImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref.IsDefault {
		for _, other := range s.refs {
			if other.Owner == ref.Owner && other.Kind == ref.Kind {
				other.IsDefault = false
			}
		}
	}
	dup := *ref
	s.refs[ref.ID] = &dup
	return nil
}

func (s *ReferenceStore) SetDefault(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.refs[id]
	if !ok || target.Owner != owner {
		return domain.ErrNotFound
	}
	for _, other := range s.refs {
		if other.Owner == owner && other.Kind == target.Kind {
			other.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}
