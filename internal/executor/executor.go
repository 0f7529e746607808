// Package executor drives the job lifecycle: state transitions, per-pose
// instruction building, provider dispatch and result persistence.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tryon/internal/composer"
	"tryon/internal/domain"
	"tryon/internal/infra"
	"tryon/internal/provider"
)

// defaultThrottle is the inter-call delay in sequential dispatch. Bursting
// two-image calls measurably raises the provider safety rejection rate.
const defaultThrottle = 150 * time.Millisecond

// RunOutcome is the result of one executor pass over a job.
type RunOutcome struct {
	Job          *domain.Job
	Results      *domain.Results
	Instructions []string
	Debug        map[string]any
}

// Executor runs jobs to completion.
type Executor struct {
	jobs     domain.JobStore
	results  domain.ResultStore
	registry *provider.Registry
	logger   infra.Logger
	throttle time.Duration
	now      func() time.Time
}

// New wires an Executor. throttle <= 0 selects the default sequential delay.
func New(jobs domain.JobStore, results domain.ResultStore, registry *provider.Registry, logger infra.Logger, throttle time.Duration) *Executor {
	if throttle <= 0 {
		throttle = defaultThrottle
	}
	return &Executor{
		jobs:     jobs,
		results:  results,
		registry: registry,
		logger:   logger,
		throttle: throttle,
		now:      time.Now,
	}
}

// Run executes every pose of the job and persists the outcome. Terminal jobs
// may be re-run; each pass appends fresh result rows and overwrites the
// job-level results. A whole-run failure (no pose produced an image) returns
// domain.ErrAllPosesFailed alongside the outcome.
func (e *Executor) Run(ctx context.Context, jobID, providerOverride string) (outcome *RunOutcome, err error) {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == domain.JobStatusCreated {
		if err := e.jobs.MarkQueued(ctx, job.ID); err != nil {
			e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("queue transition failed")
		}
	}

	gen := e.registry.Select(providerOverride)
	startedAt := e.now().UTC()
	if _, err := e.jobs.MarkRunning(ctx, job.ID, gen.Name(), startedAt); err != nil {
		return nil, err
	}

	// Whatever happens below, the job must not be left in running.
	defer func() {
		if r := recover(); r != nil {
			e.failBestEffort(job.ID, fmt.Sprintf("internal error: %v", r))
			panic(r)
		}
		if err != nil && outcome == nil {
			e.failBestEffort(job.ID, err.Error())
		}
	}()

	poses := job.Poses
	if len(poses) == 0 {
		poses = []domain.Pose{domain.PoseFace}
	}

	run := &poseRun{
		job:          job,
		gen:          gen,
		executor:     e,
		instructions: make([]string, len(poses)),
		images:       make([]*string, len(poses)),
		errs:         make(map[int]string),
	}

	if job.FinalMode == domain.ModeTwoImage {
		run.sequential(ctx, poses)
	} else {
		run.concurrent(ctx, poses)
	}

	results := &domain.Results{Images: run.images, Poses: poses, ErrorsByIndex: run.errs}
	debug := mergeDebug(job.Debug, job.FinalMode, run.instructions)

	anyImage := false
	for _, img := range run.images {
		if img != nil {
			anyImage = true
			break
		}
	}
	status := domain.JobStatusDone
	errMsg := ""
	if !anyImage {
		status = domain.JobStatusFailed
		errMsg = firstError(run.errs, len(poses))
	}
	if err := e.jobs.Complete(ctx, job.ID, status, results, debug, errMsg, e.now().UTC()); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("provider", gen.Name()).
		Str("status", string(status)).
		Int("poses", len(poses)).
		Int("failures", len(run.errs)).
		Msg("job run finished")

	job.Status = status
	job.Results = results
	job.Debug = debug
	outcome = &RunOutcome{Job: job, Results: results, Instructions: run.instructions, Debug: debug}
	if !anyImage {
		return outcome, domain.ErrAllPosesFailed
	}
	return outcome, nil
}

// RunNext claims one queued job and runs it. Returns domain.ErrNotFound when
// the queue is empty.
func (e *Executor) RunNext(ctx context.Context) (*RunOutcome, error) {
	job, err := e.jobs.ClaimQueued(ctx)
	if err != nil {
		return nil, err
	}
	outcome, err := e.Run(ctx, job.ID, "")
	if errors.Is(err, domain.ErrAllPosesFailed) {
		// Already reflected in the persisted job; the worker loop moves on.
		return outcome, nil
	}
	return outcome, err
}

type poseRun struct {
	job      *domain.Job
	gen      provider.Generator
	executor *Executor

	mu           sync.Mutex
	instructions []string
	images       []*string
	errs         map[int]string
}

// concurrent dispatches every pose at once; one pose's failure never cancels
// the siblings, so the group tasks always return nil.
func (r *poseRun) concurrent(ctx context.Context, poses []domain.Pose) {
	g, ctx := errgroup.WithContext(ctx)
	for i, pose := range poses {
		i, pose := i, pose
		g.Go(func() error {
			r.attempt(ctx, i, pose)
			return nil
		})
	}
	_ = g.Wait()
}

// sequential dispatches poses one at a time with a fixed inter-call delay.
func (r *poseRun) sequential(ctx context.Context, poses []domain.Pose) {
	limiter := rate.NewLimiter(rate.Every(r.executor.throttle), 1)
	for i, pose := range poses {
		if err := limiter.Wait(ctx); err != nil {
			r.record(ctx, i, pose, "", nil, err, 0)
			continue
		}
		r.attempt(ctx, i, pose)
	}
}

func (r *poseRun) attempt(ctx context.Context, idx int, pose domain.Pose) {
	instruction := r.instruction(pose)

	req := provider.Request{Instruction: instruction, MainImage: r.job.MainImage}
	if r.job.FinalMode == domain.ModeTwoImage && r.job.EnvironmentImage != "" {
		req.SecondaryImages = append(req.SecondaryImages, r.job.EnvironmentImage)
		if r.job.PersonImage != "" {
			req.SecondaryImages = append(req.SecondaryImages, r.job.PersonImage)
		}
	}

	started := r.executor.now()
	res, err := r.gen.Generate(ctx, req)
	latency := r.executor.now().Sub(started).Milliseconds()
	r.record(ctx, idx, pose, instruction, res, err, latency)
}

func (r *poseRun) instruction(pose domain.Pose) string {
	if r.job.FinalMode == domain.ModeTwoImage && r.job.PersonImage != "" {
		return composer.ComposePersona(r.job.Options, pose)
	}
	return composer.Compose(r.job.Options, pose, r.job.FinalMode)
}

// record persists the pose attempt immediately and folds it into the shared
// run state.
func (r *poseRun) record(ctx context.Context, idx int, pose domain.Pose, instruction string, res *provider.Result, genErr error, latencyMs int64) {
	row := &domain.GenerationResult{
		ID:          uuid.NewString(),
		JobID:       r.job.ID,
		Pose:        pose,
		Instruction: instruction,
		LatencyMs:   latencyMs,
		CreatedAt:   r.executor.now().UTC(),
	}

	r.mu.Lock()
	r.instructions[idx] = instruction
	if genErr != nil {
		row.Error = genErr.Error()
		r.errs[idx] = genErr.Error()
	} else {
		row.Image = res.Image
		r.images[idx] = &row.Image
	}
	r.mu.Unlock()

	if err := r.executor.results.Append(ctx, row); err != nil {
		r.executor.logger.Warn().Err(err).Str("job_id", r.job.ID).Str("pose", string(pose)).Msg("result row persistence failed")
	}
	if genErr != nil {
		r.executor.logger.Warn().Err(genErr).Str("job_id", r.job.ID).Str("pose", string(pose)).Msg("pose generation failed")
	}
}

func (e *Executor) failBestEffort(jobID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.jobs.Complete(ctx, jobID, domain.JobStatusFailed, nil, nil, msg, e.now().UTC()); err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("could not mark job failed")
	}
}

func mergeDebug(prev map[string]any, mode domain.Mode, instructions []string) map[string]any {
	debug := make(map[string]any, len(prev)+2)
	for k, v := range prev {
		debug[k] = v
	}
	label := "one-image"
	if mode == domain.ModeTwoImage {
		label = "two-images"
	}
	debug["mode"] = label
	debug["instructions"] = instructions
	return debug
}

func firstError(errs map[int]string, n int) string {
	for i := 0; i < n; i++ {
		if msg, ok := errs[i]; ok {
			return msg
		}
	}
	return "all poses failed"
}
