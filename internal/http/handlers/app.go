// Package handlers implements the HTTP API surface.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"tryon/internal/domain"
	"tryon/internal/executor"
	"tryon/internal/infra"
)

// App bundles the dependencies the handlers need.
type App struct {
	Jobs      domain.JobStore
	Results   domain.ResultStore
	Refs      domain.ReferenceStore
	Submitter *executor.Submitter
	Executor  *executor.Executor
	Logger    infra.Logger

	// MaxBodyBytes bounds request bodies; image payloads arrive inline.
	MaxBodyBytes int64
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error maps domain failures onto the HTTP taxonomy.
func (a *App) error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrImageTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNoEnvironment):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAllPosesFailed):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		a.Logger.Error().Err(err).Msg("request failed")
		a.json(w, status, map[string]string{"error": "internal error"})
		return
	}
	a.json(w, status, map[string]string{"error": err.Error()})
}

// decode reads a JSON body with the configured size cap.
func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) error {
	if a.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxBodyBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.ErrImageTooLarge
		}
		return domain.ErrInvalidInput
	}
	return nil
}
