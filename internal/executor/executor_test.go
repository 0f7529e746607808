package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tryon/internal/adapter/repo/memory"
	"tryon/internal/domain"
	"tryon/internal/provider"
	"tryon/internal/resolver"
)

const testImage = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg=="

// fakeGenerator scripts per-pose outcomes and records dispatch timing.
type fakeGenerator struct {
	mu       sync.Mutex
	failFor  map[string]error
	calls    []fakeCall
	inflight int
	maxInfl  int
	delay    time.Duration
}

type fakeCall struct {
	instruction string
	secondary   int
	at          time.Time
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(_ context.Context, req provider.Request) (*provider.Result, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInfl {
		f.maxInfl = f.inflight
	}
	f.calls = append(f.calls, fakeCall{instruction: req.Instruction, secondary: len(req.SecondaryImages), at: time.Now()})
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	for marker, err := range f.failFor {
		if strings.Contains(req.Instruction, marker) {
			return nil, err
		}
	}
	return &provider.Result{Image: "data:image/png;base64,b3V0"}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestExecutor(t *testing.T, gen provider.Generator, throttle time.Duration) (*Executor, *memory.JobStore, *memory.ResultStore) {
	t.Helper()
	jobs := memory.NewJobStore()
	results := memory.NewResultStore()
	reg, err := provider.NewRegistry(gen.Name(), gen)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(jobs, results, reg, testLogger(), throttle), jobs, results
}

func seedJob(t *testing.T, jobs *memory.JobStore, job *domain.Job) *domain.Job {
	t.Helper()
	if job.ID == "" {
		job.ID = "job-1"
	}
	if job.Owner == "" {
		job.Owner = "owner-1"
	}
	if job.MainImage == "" {
		job.MainImage = testImage
	}
	if job.Status == "" {
		job.Status = domain.JobStatusCreated
	}
	if job.FinalMode == "" {
		job.FinalMode = domain.ModeOneImage
	}
	if len(job.Poses) == 0 {
		job.Poses = []domain.Pose{domain.PoseFace}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestRunHappyPath(t *testing.T) {
	gen := &fakeGenerator{}
	exec, jobs, results := newTestExecutor(t, gen, 0)
	job := seedJob(t, jobs, &domain.Job{
		Poses: []domain.Pose{domain.PoseFace, domain.PoseThreeQuarter, domain.PoseProfile},
	})

	outcome, err := exec.Run(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if outcome.Job.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, want done", outcome.Job.Status)
	}
	res := outcome.Results
	if len(res.Images) != 3 || len(res.Poses) != 3 {
		t.Fatalf("cardinality images=%d poses=%d, want 3/3", len(res.Images), len(res.Poses))
	}
	for i, img := range res.Images {
		if img == nil {
			t.Errorf("image %d is nil", i)
		}
	}
	if len(res.ErrorsByIndex) != 0 {
		t.Fatalf("errorsByIndex = %v, want empty", res.ErrorsByIndex)
	}

	stored, err := jobs.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != domain.JobStatusDone || stored.EndedAt == nil || stored.StartedAt == nil {
		t.Fatalf("persisted job incomplete: %+v", stored)
	}
	if stored.Provider != "fake" {
		t.Fatalf("provider = %q", stored.Provider)
	}

	rows, _ := results.ListByJob(context.Background(), job.ID)
	if len(rows) != 3 {
		t.Fatalf("result rows = %d, want 3", len(rows))
	}
	for _, row := range rows {
		if row.Instruction == "" {
			t.Error("result row missing instruction")
		}
	}
}

func TestRunPartialFailure(t *testing.T) {
	// The profile pose instruction is the only one containing "profil".
	gen := &fakeGenerator{failFor: map[string]error{"profil": provider.ErrNoImage}}
	exec, jobs, _ := newTestExecutor(t, gen, 0)
	job := seedJob(t, jobs, &domain.Job{
		Poses: []domain.Pose{domain.PoseFace, domain.PoseThreeQuarter, domain.PoseProfile},
	})

	outcome, err := exec.Run(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if outcome.Job.Status != domain.JobStatusDone {
		t.Fatalf("status = %s, partial success must be done", outcome.Job.Status)
	}
	res := outcome.Results
	if res.Images[0] == nil || res.Images[1] == nil {
		t.Fatal("successful poses lost their images")
	}
	if res.Images[2] != nil {
		t.Fatal("failed pose must have a nil image slot")
	}
	if len(res.ErrorsByIndex) != 1 || res.ErrorsByIndex[2] == "" {
		t.Fatalf("errorsByIndex = %v, want entry for index 2 only", res.ErrorsByIndex)
	}
}

func TestRunAllPosesFailed(t *testing.T) {
	gen := &fakeGenerator{failFor: map[string]error{"Pose:": provider.ErrRejected}}
	exec, jobs, _ := newTestExecutor(t, gen, 0)
	job := seedJob(t, jobs, &domain.Job{Poses: []domain.Pose{domain.PoseFace, domain.PoseProfile}})

	outcome, err := exec.Run(context.Background(), job.ID, "")
	if !errors.Is(err, domain.ErrAllPosesFailed) {
		t.Fatalf("err = %v, want ErrAllPosesFailed", err)
	}
	if outcome == nil || outcome.Job.Status != domain.JobStatusFailed {
		t.Fatal("job must be failed when no pose produced an image")
	}

	stored, _ := jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed || stored.Error == "" {
		t.Fatalf("persisted job = %+v, want failed with error", stored)
	}
}

func TestRunRecordsDebugInstructions(t *testing.T) {
	gen := &fakeGenerator{}
	exec, jobs, _ := newTestExecutor(t, gen, 0)
	job := seedJob(t, jobs, &domain.Job{
		Poses: []domain.Pose{domain.PoseFace, domain.PoseProfile},
		Debug: map[string]any{"blobs": "kept"},
	})

	outcome, err := exec.Run(context.Background(), job.ID, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Debug["mode"] != "one-image" {
		t.Fatalf("debug mode = %v", outcome.Debug["mode"])
	}
	if outcome.Debug["blobs"] != "kept" {
		t.Fatal("prior debug entries must survive")
	}
	instr, ok := outcome.Debug["instructions"].([]string)
	if !ok || len(instr) != 2 {
		t.Fatalf("debug instructions = %v", outcome.Debug["instructions"])
	}
}

func TestRunOneImageDispatchesConcurrently(t *testing.T) {
	gen := &fakeGenerator{delay: 50 * time.Millisecond}
	exec, jobs, _ := newTestExecutor(t, gen, 0)
	job := seedJob(t, jobs, &domain.Job{
		FinalMode: domain.ModeOneImage,
		Poses:     []domain.Pose{domain.PoseFace, domain.PoseThreeQuarter, domain.PoseProfile},
	})

	if _, err := exec.Run(context.Background(), job.ID, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gen.maxInfl < 2 {
		t.Fatalf("max in-flight = %d, want concurrent dispatch", gen.maxInfl)
	}
}

func TestRunTwoImageDispatchesSequentiallyThrottled(t *testing.T) {
	gen := &fakeGenerator{}
	exec, jobs, _ := newTestExecutor(t, gen, 30*time.Millisecond)
	job := seedJob(t, jobs, &domain.Job{
		FinalMode:        domain.ModeTwoImage,
		EnvironmentImage: testImage,
		Poses:            []domain.Pose{domain.PoseFace, domain.PoseThreeQuarter, domain.PoseProfile},
	})

	if _, err := exec.Run(context.Background(), job.ID, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gen.maxInfl != 1 {
		t.Fatalf("max in-flight = %d, want strictly sequential", gen.maxInfl)
	}
	if len(gen.calls) != 3 {
		t.Fatalf("calls = %d", len(gen.calls))
	}
	for i := 1; i < len(gen.calls); i++ {
		if gap := gen.calls[i].at.Sub(gen.calls[i-1].at); gap < 20*time.Millisecond {
			t.Fatalf("call %d followed after %v, want throttled spacing", i, gap)
		}
	}
	for _, call := range gen.calls {
		if call.secondary != 1 {
			t.Fatalf("secondary images = %d, want the bound environment", call.secondary)
		}
	}
}

func TestRunPersonaBindsBothReferences(t *testing.T) {
	gen := &fakeGenerator{}
	exec, jobs, _ := newTestExecutor(t, gen, time.Millisecond)
	job := seedJob(t, jobs, &domain.Job{
		FinalMode:        domain.ModeTwoImage,
		EnvironmentImage: testImage,
		PersonImage:      testImage,
	})

	if _, err := exec.Run(context.Background(), job.ID, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("calls = %d", len(gen.calls))
	}
	if gen.calls[0].secondary != 2 {
		t.Fatalf("secondary images = %d, want environment + person", gen.calls[0].secondary)
	}
	if !strings.Contains(gen.calls[0].instruction, "personne de référence") {
		t.Fatal("persona run must use the persona instruction")
	}
}

func TestRunRerunAccumulatesAuditTrail(t *testing.T) {
	gen := &fakeGenerator{}
	exec, jobs, results := newTestExecutor(t, gen, 0)
	job := seedJob(t, jobs, &domain.Job{Poses: []domain.Pose{domain.PoseFace}})

	for i := 0; i < 2; i++ {
		if _, err := exec.Run(context.Background(), job.ID, ""); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	rows, _ := results.ListByJob(context.Background(), job.ID)
	if len(rows) != 2 {
		t.Fatalf("audit rows = %d, want one per run", len(rows))
	}
	stored, _ := jobs.GetByID(context.Background(), job.ID)
	if len(stored.Results.Images) != 1 {
		t.Fatalf("job results must reflect the latest run only, got %d slots", len(stored.Results.Images))
	}
}

func TestRunUnknownJob(t *testing.T) {
	gen := &fakeGenerator{}
	exec, _, _ := newTestExecutor(t, gen, 0)
	if _, err := exec.Run(context.Background(), "missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRunNextClaimsQueuedJob(t *testing.T) {
	gen := &fakeGenerator{}
	exec, jobs, _ := newTestExecutor(t, gen, 0)

	if _, err := exec.RunNext(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("empty queue err = %v, want ErrNotFound", err)
	}

	job := seedJob(t, jobs, &domain.Job{Status: domain.JobStatusQueued})
	outcome, err := exec.RunNext(context.Background())
	if err != nil {
		t.Fatalf("run next: %v", err)
	}
	if outcome.Job.ID != job.ID || outcome.Job.Status != domain.JobStatusDone {
		t.Fatalf("outcome = %+v", outcome.Job)
	}
}

func newTestSubmitter(t *testing.T) (*Submitter, *memory.JobStore, *memory.ReferenceStore) {
	t.Helper()
	jobs := memory.NewJobStore()
	refs := memory.NewReferenceStore()
	res := resolver.New(refs, resolver.Options{})
	return NewSubmitter(jobs, res, nil, testLogger()), jobs, refs
}

func TestSubmitIdempotency(t *testing.T) {
	sub, _, _ := newTestSubmitter(t)
	req := SubmitRequest{MainImage: testImage, IdempotencyKey: "key-1"}

	first, reused, err := sub.Submit(context.Background(), "owner-1", req)
	if err != nil || reused {
		t.Fatalf("first submit: job=%v reused=%v err=%v", first, reused, err)
	}
	second, reused, err := sub.Submit(context.Background(), "owner-1", req)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !reused || second.ID != first.ID {
		t.Fatalf("idempotent retry created a new job: %s vs %s", second.ID, first.ID)
	}

	// A different owner with the same key gets a fresh job.
	other, reused, err := sub.Submit(context.Background(), "owner-2", req)
	if err != nil || reused || other.ID == first.ID {
		t.Fatalf("cross-owner submit: job=%v reused=%v err=%v", other, reused, err)
	}
}

func TestSubmitRequiresMainImage(t *testing.T) {
	sub, _, _ := newTestSubmitter(t)
	if _, _, err := sub.Submit(context.Background(), "o", SubmitRequest{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := sub.Submit(context.Background(), "o", SubmitRequest{MainImage: "garbage"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSubmitModeDecision(t *testing.T) {
	cases := []struct {
		name      string
		requested string
		env       bool
		wantMode  domain.Mode
		wantErr   error
	}{
		{"auto without env", "", false, domain.ModeOneImage, nil},
		{"auto with env", "auto", true, domain.ModeTwoImage, nil},
		{"explicit one ignores env", "one-image", true, domain.ModeOneImage, nil},
		{"explicit two with env", "two-image", true, domain.ModeTwoImage, nil},
		{"explicit two without env", "two-image", false, "", domain.ErrNoEnvironment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub, _, refs := newTestSubmitter(t)
			req := SubmitRequest{MainImage: testImage, RequestedMode: tc.requested, UseEnvReference: true}
			if tc.env {
				refs.Create(context.Background(), &domain.ReferenceImage{
					ID: "ref-1", Owner: "o", Kind: domain.ReferenceEnvironment,
					Image: testImage, IsDefault: true, CreatedAt: time.Now(),
				})
			}
			job, _, err := sub.Submit(context.Background(), "o", req)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if job.FinalMode != tc.wantMode {
				t.Fatalf("finalMode = %s, want %s", job.FinalMode, tc.wantMode)
			}
			if job.Status != domain.JobStatusCreated {
				t.Fatalf("status = %s, want created", job.Status)
			}
		})
	}
}

func TestSubmitRejectsUnknownMode(t *testing.T) {
	sub, _, _ := newTestSubmitter(t)
	_, _, err := sub.Submit(context.Background(), "o", SubmitRequest{MainImage: testImage, RequestedMode: "triple"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSubmitDegradesUnresolvableAuxiliaries(t *testing.T) {
	sub, _, _ := newTestSubmitter(t)
	job, _, err := sub.Submit(context.Background(), "o", SubmitRequest{
		MainImage:        testImage,
		EnvironmentImage: "data:image/png;base64,@@@",
		PersonImage:      "not-an-image",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.FinalMode != domain.ModeOneImage || job.EnvironmentImage != "" || job.PersonImage != "" {
		t.Fatalf("auxiliary failures must degrade to absent: %+v", job)
	}
}

func TestSubmitNormalizesPoses(t *testing.T) {
	sub, _, _ := newTestSubmitter(t)
	job, _, err := sub.Submit(context.Background(), "o", SubmitRequest{
		MainImage: testImage,
		Poses:     []string{"face", "face", "handstand", "profile", "three-quarter", "profile"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := []domain.Pose{domain.PoseFace, domain.PoseProfile, domain.PoseThreeQuarter}
	if fmt.Sprint(job.Poses) != fmt.Sprint(want) {
		t.Fatalf("poses = %v, want %v", job.Poses, want)
	}
}
