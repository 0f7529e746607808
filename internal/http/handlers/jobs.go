package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tryon/internal/domain"
	"tryon/internal/executor"
	"tryon/internal/middleware"
)

type createJobRequest struct {
	MainImage        string         `json:"mainImage"`
	RequestedMode    string         `json:"requestedMode"`
	EnvironmentImage string         `json:"environmentImage"`
	EnvRef           bool           `json:"envRef"`
	PersonImage      string         `json:"personImage"`
	PersonRef        bool           `json:"personRef"`
	Options          domain.Options `json:"options"`
	Poses            []string       `json:"poses"`
	IdempotencyKey   string         `json:"idempotencyKey"`
}

type jobSummary struct {
	ID            string `json:"id"`
	RequestedMode string `json:"requestedMode"`
	FinalMode     string `json:"finalMode"`
	HasEnv        bool   `json:"hasEnv"`
}

type jobView struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	RequestedMode string            `json:"requestedMode"`
	FinalMode     string            `json:"finalMode"`
	Options       domain.Options    `json:"options"`
	Poses         []domain.Pose     `json:"poses"`
	Provider      string            `json:"provider,omitempty"`
	Results       *domain.Results   `json:"results,omitempty"`
	Debug         map[string]any    `json:"debug,omitempty"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	EndedAt       *time.Time        `json:"endedAt,omitempty"`
	Details       []resultDetailRow `json:"resultsDetailed,omitempty"`
}

type resultDetailRow struct {
	Pose        domain.Pose `json:"pose"`
	Image       string      `json:"image,omitempty"`
	Error       string      `json:"error,omitempty"`
	Instruction string      `json:"instruction,omitempty"`
	LatencyMs   int64       `json:"latencyMs,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func toJobView(job *domain.Job, details []domain.GenerationResult) jobView {
	view := jobView{
		ID:            job.ID,
		Status:        string(job.Status),
		RequestedMode: string(job.RequestedMode),
		FinalMode:     string(job.FinalMode),
		Options:       job.Options,
		Poses:         job.Poses,
		Provider:      job.Provider,
		Results:       job.Results,
		Debug:         job.Debug,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		EndedAt:       job.EndedAt,
	}
	for _, row := range details {
		view.Details = append(view.Details, resultDetailRow{
			Pose:        row.Pose,
			Image:       row.Image,
			Error:       row.Error,
			Instruction: row.Instruction,
			LatencyMs:   row.LatencyMs,
			CreatedAt:   row.CreatedAt,
		})
	}
	return view
}

// CreateJob handles POST /jobs. An idempotent replay returns the existing
// job with 200 instead of 201.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserIDFromContext(r.Context())
	if owner == "" {
		a.error(w, domain.ErrUnauthorized)
		return
	}

	var req createJobRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, err)
		return
	}

	job, reused, err := a.Submitter.Submit(r.Context(), owner, executor.SubmitRequest{
		MainImage:          req.MainImage,
		RequestedMode:      req.RequestedMode,
		EnvironmentImage:   req.EnvironmentImage,
		UseEnvReference:    req.EnvRef,
		PersonImage:        req.PersonImage,
		UsePersonReference: req.PersonRef,
		Options:            req.Options,
		Poses:              req.Poses,
		IdempotencyKey:     req.IdempotencyKey,
	})
	if err != nil {
		a.error(w, err)
		return
	}

	summary := jobSummary{
		ID:            job.ID,
		RequestedMode: string(job.RequestedMode),
		FinalMode:     string(job.FinalMode),
		HasEnv:        job.EnvironmentImage != "",
	}
	if reused {
		a.json(w, http.StatusOK, summary)
		return
	}
	a.json(w, http.StatusCreated, summary)
}

// GetJob handles GET /jobs/{id}, including the per-pose audit trail.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.loadOwnedJob(r)
	if err != nil {
		a.error(w, err)
		return
	}
	details, err := a.Results.ListByJob(r.Context(), job.ID)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobView(job, details))
}

// GetJobByClientKey handles GET /jobs/by-client/{key}: the idempotency-key
// lookup clients use to recover a job id after a lost response.
func (a *App) GetJobByClientKey(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserIDFromContext(r.Context())
	if owner == "" {
		a.error(w, domain.ErrUnauthorized)
		return
	}
	key := chi.URLParam(r, "key")
	job, err := a.Jobs.GetByIdempotencyKey(r.Context(), owner, key)
	if err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobView(job, nil))
}

// RunJob handles POST /jobs/{id}/run. With ?inline=1 the run executes
// synchronously and returns the results; otherwise the job is queued for the
// worker and 202 is returned.
func (a *App) RunJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.loadOwnedJob(r)
	if err != nil {
		a.error(w, err)
		return
	}

	if r.URL.Query().Get("inline") != "1" {
		if err := a.Jobs.MarkQueued(r.Context(), job.ID); err != nil {
			a.error(w, err)
			return
		}
		a.json(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": string(domain.JobStatusQueued)})
		return
	}

	override := r.Header.Get("X-Image-Provider")
	outcome, err := a.Executor.Run(r.Context(), job.ID, override)
	if err != nil && outcome == nil {
		a.error(w, err)
		return
	}

	body := map[string]any{
		"images":       outcome.Results.Images,
		"poses":        outcome.Results.Poses,
		"instructions": outcome.Instructions,
		"debug":        outcome.Debug,
	}
	if len(outcome.Results.ErrorsByIndex) > 0 {
		body["errorsByIndex"] = outcome.Results.ErrorsByIndex
	}
	if err != nil {
		// All poses failed; the persisted job is already failed.
		body["error"] = err.Error()
		a.json(w, http.StatusUnprocessableEntity, body)
		return
	}
	a.json(w, http.StatusOK, body)
}

func (a *App) loadOwnedJob(r *http.Request) (*domain.Job, error) {
	owner := middleware.UserIDFromContext(r.Context())
	if owner == "" {
		return nil, domain.ErrUnauthorized
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		return nil, domain.ErrInvalidInput
	}
	job, err := a.Jobs.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		return nil, domain.ErrForbidden
	}
	return job, nil
}
