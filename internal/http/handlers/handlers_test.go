package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tryon/internal/adapter/repo/memory"
	"tryon/internal/domain"
	"tryon/internal/executor"
	httpapi "tryon/internal/http"
	"tryon/internal/http/handlers"
	"tryon/internal/middleware"
	"tryon/internal/provider"
	"tryon/internal/resolver"
)

const (
	testSecret = "test-secret"
	testImage  = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg=="
)

type stubGenerator struct {
	err   error
	calls int
}

func (s *stubGenerator) Name() string { return "stub" }

func (s *stubGenerator) Generate(_ context.Context, _ provider.Request) (*provider.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Result{Image: "data:image/png;base64,b3V0"}, nil
}

type testEnv struct {
	router  http.Handler
	refs    *memory.ReferenceStore
	jobs    *memory.JobStore
	results *memory.ResultStore
	gen     *stubGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	jobs := memory.NewJobStore()
	results := memory.NewResultStore()
	refs := memory.NewReferenceStore()
	gen := &stubGenerator{}

	reg, err := provider.NewRegistry(gen.Name(), gen)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	logger := zerolog.Nop()
	res := resolver.New(refs, resolver.Options{})

	app := &handlers.App{
		Jobs:         jobs,
		Results:      results,
		Refs:         refs,
		Submitter:    executor.NewSubmitter(jobs, res, nil, logger),
		Executor:     executor.New(jobs, results, reg, logger, time.Millisecond),
		Logger:       logger,
		MaxBodyBytes: 1 << 20,
	}
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		JWTSecret:     testSecret,
		DefaultLocale: "fr",
		Logger:        logger,
	})
	return &testEnv{router: router, refs: refs, jobs: jobs, results: results, gen: gen}
}

func authToken(t *testing.T, owner string) string {
	t.Helper()
	token, err := middleware.SignJWT(testSecret, middleware.TokenClaims{
		Sub: owner,
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+authToken(t, owner))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestJobsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/jobs", "", map[string]any{"mainImage": testImage}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}

func TestCreateJob(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{
		"mainImage":      testImage,
		"poses":          []string{"face", "profile"},
		"idempotencyKey": "client-key-1",
	}

	rec := env.do(t, http.MethodPost, "/jobs", "alice", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	if created["id"] == "" || created["finalMode"] != "one-image" {
		t.Fatalf("body = %v", created)
	}

	// Idempotent replay returns the same job with 200.
	rec = env.do(t, http.MethodPost, "/jobs", "alice", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay code = %d", rec.Code)
	}
	replay := decodeBody(t, rec)
	if replay["id"] != created["id"] {
		t.Fatalf("replay id = %v, want %v", replay["id"], created["id"])
	}
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/jobs", "alice", map[string]any{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing main image: code = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/jobs", "alice", map[string]any{
		"mainImage":     testImage,
		"requestedMode": "two-image",
		"envRef":        true,
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("two-image without environment: code = %d, want 409", rec.Code)
	}
}

func TestGetJobOwnership(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/jobs", "alice", map[string]any{"mainImage": testImage}, nil)
	id := decodeBody(t, rec)["id"].(string)

	rec = env.do(t, http.MethodGet, "/jobs/"+id, "alice", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner read: code = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/jobs/"+id, "mallory", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign read: code = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/jobs/does-not-exist", "alice", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: code = %d, want 404", rec.Code)
	}
}

func TestRunJobInline(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/jobs", "alice", map[string]any{
		"mainImage": testImage,
		"poses":     []string{"face", "three-quarter"},
	}, nil)
	id := decodeBody(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/jobs/"+id+"/run?inline=1", "alice", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	images := body["images"].([]any)
	if len(images) != 2 {
		t.Fatalf("images = %v", images)
	}
	if env.gen.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", env.gen.calls)
	}

	rec = env.do(t, http.MethodGet, "/jobs/"+id, "alice", nil, nil)
	view := decodeBody(t, rec)
	if view["status"] != "done" {
		t.Fatalf("status = %v", view["status"])
	}
	if details := view["resultsDetailed"].([]any); len(details) != 2 {
		t.Fatalf("resultsDetailed = %v", details)
	}
}

func TestRunJobInlineAllFailed(t *testing.T) {
	env := newTestEnv(t)
	env.gen.err = provider.ErrRejected

	rec := env.do(t, http.MethodPost, "/jobs", "alice", map[string]any{"mainImage": testImage}, nil)
	id := decodeBody(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/jobs/"+id+"/run?inline=1", "alice", nil, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d, want 422", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["errorsByIndex"] == nil {
		t.Fatalf("body = %v, want errorsByIndex", body)
	}

	rec = env.do(t, http.MethodGet, "/jobs/"+id, "alice", nil, nil)
	if status := decodeBody(t, rec)["status"]; status != "failed" {
		t.Fatalf("status = %v, want failed", status)
	}
}

func TestRunJobQueued(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/jobs", "alice", map[string]any{"mainImage": testImage}, nil)
	id := decodeBody(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/jobs/"+id+"/run", "alice", nil, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d, want 202", rec.Code)
	}

	job, err := env.jobs.GetByID(context.Background(), id)
	if err != nil || job.Status != domain.JobStatusQueued {
		t.Fatalf("job = %+v err = %v, want queued", job, err)
	}
}

func TestGetJobByClientKey(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/jobs", "alice", map[string]any{
		"mainImage":      testImage,
		"idempotencyKey": "lookup-key",
	}, nil)
	id := decodeBody(t, rec)["id"].(string)

	rec = env.do(t, http.MethodGet, "/jobs/by-client/lookup-key", "alice", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["id"]; got != id {
		t.Fatalf("id = %v, want %v", got, id)
	}

	rec = env.do(t, http.MethodGet, "/jobs/by-client/lookup-key", "bob", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign lookup code = %d, want 404", rec.Code)
	}
}

func TestReferencesLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/references", "alice", map[string]any{
		"kind":  "environment",
		"image": testImage,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create code = %d body = %s", rec.Code, rec.Body.String())
	}
	refID := decodeBody(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/references/"+refID+"/default", "alice", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set default code = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/references?kind=environment", "alice", nil, nil)
	refs := decodeBody(t, rec)["references"].([]any)
	if len(refs) != 1 {
		t.Fatalf("references = %v", refs)
	}
	if isDefault := refs[0].(map[string]any)["isDefault"]; isDefault != true {
		t.Fatal("reference must be default after the flag call")
	}

	// Saved default now feeds auto mode submissions.
	rec = env.do(t, http.MethodPost, "/jobs", "alice", map[string]any{
		"mainImage": testImage,
		"envRef":    true,
	}, nil)
	if got := decodeBody(t, rec)["finalMode"]; got != "two-image" {
		t.Fatalf("finalMode = %v, want two-image", got)
	}

	rec = env.do(t, http.MethodPost, "/references", "alice", map[string]any{"kind": "banana", "image": testImage}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind code = %d", rec.Code)
	}
}

func TestReferenceDefaultOwnership(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/references", "alice", map[string]any{
		"kind":  "person",
		"image": testImage,
	}, nil)
	refID := decodeBody(t, rec)["id"].(string)

	rec = env.do(t, http.MethodPost, "/references/"+refID+"/default", "mallory", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign default code = %d, want 404", rec.Code)
	}
}
