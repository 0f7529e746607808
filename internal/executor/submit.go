package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tryon/internal/domain"
	"tryon/internal/infra"
	"tryon/internal/resolver"
	"tryon/internal/storage"
)

// SubmitRequest is a parsed job submission. Environment and person inputs are
// either carried inline (data URL / remote URL) or requested as a lookup of
// the owner's saved reference.
type SubmitRequest struct {
	MainImage          string
	RequestedMode      string
	EnvironmentImage   string
	UseEnvReference    bool
	PersonImage        string
	UsePersonReference bool
	Options            domain.Options
	Poses              []string
	IdempotencyKey     string
}

// Submitter validates and resolves a submission into a persisted job in
// state created.
type Submitter struct {
	jobs   domain.JobStore
	res    *resolver.Resolver
	blobs  storage.BlobStore
	logger infra.Logger
}

// NewSubmitter wires the submission path.
func NewSubmitter(jobs domain.JobStore, res *resolver.Resolver, blobs storage.BlobStore, logger infra.Logger) *Submitter {
	return &Submitter{jobs: jobs, res: res, blobs: blobs, logger: logger}
}

// Submit creates a job for the owner, or returns the existing one when the
// idempotency key has been seen before. The returned bool is true when an
// existing job was reused.
func (s *Submitter) Submit(ctx context.Context, owner string, req SubmitRequest) (*domain.Job, bool, error) {
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := s.jobs.GetByIdempotencyKey(ctx, owner, key)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	requested, err := parseMode(req.RequestedMode)
	if err != nil {
		return nil, false, err
	}

	if strings.TrimSpace(req.MainImage) == "" {
		return nil, false, fmt.Errorf("%w: mainImage is required", domain.ErrInvalidInput)
	}
	main, err := s.res.Resolve(ctx, req.MainImage)
	if err != nil {
		return nil, false, mapResolveError(err)
	}

	env := s.resolveOptional(ctx, owner, req.EnvironmentImage, req.UseEnvReference, domain.ReferenceEnvironment)
	person := s.resolveOptional(ctx, owner, req.PersonImage, req.UsePersonReference, domain.ReferencePerson)

	finalMode, err := decideFinalMode(requested, env != nil)
	if err != nil {
		return nil, false, err
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		Owner:          owner,
		RequestedMode:  requested,
		FinalMode:      finalMode,
		Options:        req.Options,
		Poses:          domain.NormalizePoses(req.Poses),
		MainImage:      main.DataURL(),
		Status:         domain.JobStatusCreated,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		CreatedAt:      time.Now().UTC(),
	}
	if env != nil {
		job.EnvironmentImage = env.DataURL()
	}
	if person != nil {
		job.PersonImage = person.DataURL()
	}
	s.persistBlobs(ctx, job, main, env, person)

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, false, err
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("owner", owner).
		Str("final_mode", string(job.FinalMode)).
		Int("poses", len(job.Poses)).
		Msg("job submitted")
	return job, false, nil
}

// resolveOptional resolves an auxiliary image, degrading to absent on any
// failure. The two-image mode conflict is handled by decideFinalMode.
func (s *Submitter) resolveOptional(ctx context.Context, owner, inline string, useRef bool, kind domain.ReferenceKind) *resolver.Image {
	if strings.TrimSpace(inline) != "" {
		im, err := s.res.Resolve(ctx, inline)
		if err != nil {
			s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("auxiliary image unresolvable, continuing without it")
			return nil
		}
		return im
	}
	if !useRef {
		return nil
	}
	im, err := s.res.ResolveReference(ctx, owner, kind)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("reference lookup failed, continuing without it")
		}
		return nil
	}
	return im
}

// persistBlobs writes durable copies of the resolved inputs. Failures only
// log; the job record itself carries the images.
func (s *Submitter) persistBlobs(ctx context.Context, job *domain.Job, main, env, person *resolver.Image) {
	if s.blobs == nil {
		return
	}
	refs := map[string]string{}
	put := func(name string, im *resolver.Image) {
		if im == nil {
			return
		}
		key := fmt.Sprintf("jobs/%s/%s.%s", job.ID, name, storage.ExtFromMIME(im.MIME))
		ref, err := s.blobs.Put(ctx, key, im.MIME, im.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("blob persistence failed")
			return
		}
		refs[name] = ref
	}
	put("main", main)
	put("environment", env)
	put("person", person)
	if len(refs) > 0 {
		if job.Debug == nil {
			job.Debug = map[string]any{}
		}
		job.Debug["blobs"] = refs
	}
}

func parseMode(raw string) (domain.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return domain.ModeAuto, nil
	case "one", "one-image":
		return domain.ModeOneImage, nil
	case "two", "two-image", "two-images":
		return domain.ModeTwoImage, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, raw)
	}
}

func decideFinalMode(requested domain.Mode, hasEnv bool) (domain.Mode, error) {
	switch requested {
	case domain.ModeTwoImage:
		if !hasEnv {
			return "", domain.ErrNoEnvironment
		}
		return domain.ModeTwoImage, nil
	case domain.ModeOneImage:
		return domain.ModeOneImage, nil
	default:
		if hasEnv {
			return domain.ModeTwoImage, nil
		}
		return domain.ModeOneImage, nil
	}
}

func mapResolveError(err error) error {
	switch {
	case errors.Is(err, domain.ErrImageTooLarge):
		return err
	case errors.Is(err, resolver.ErrInvalidImage), errors.Is(err, resolver.ErrFetchFailed):
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	default:
		return err
	}
}
