package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tryon/internal/domain"
	"tryon/internal/middleware"
)

type createReferenceRequest struct {
	Kind      string `json:"kind"`
	Gender    string `json:"gender"`
	Image     string `json:"image"`
	IsDefault bool   `json:"isDefault"`
}

type referenceView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Gender    string    `json:"gender,omitempty"`
	Image     string    `json:"image"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
}

func toReferenceView(ref domain.ReferenceImage) referenceView {
	return referenceView{
		ID:        ref.ID,
		Kind:      string(ref.Kind),
		Gender:    ref.Gender,
		Image:     ref.Image,
		IsDefault: ref.IsDefault,
		CreatedAt: ref.CreatedAt,
	}
}

func parseReferenceKind(raw string) (domain.ReferenceKind, error) {
	switch raw {
	case string(domain.ReferenceEnvironment):
		return domain.ReferenceEnvironment, nil
	case string(domain.ReferencePerson):
		return domain.ReferencePerson, nil
	default:
		return "", fmt.Errorf("%w: unknown reference kind %q", domain.ErrInvalidInput, raw)
	}
}

// ListReferences handles GET /references, optionally filtered by ?kind=.
func (a *App) ListReferences(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserIDFromContext(r.Context())
	if owner == "" {
		a.error(w, domain.ErrUnauthorized)
		return
	}
	var kind domain.ReferenceKind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		parsed, err := parseReferenceKind(raw)
		if err != nil {
			a.error(w, err)
			return
		}
		kind = parsed
	}
	refs, err := a.Refs.List(r.Context(), owner, kind)
	if err != nil {
		a.error(w, err)
		return
	}
	views := make([]referenceView, 0, len(refs))
	for _, ref := range refs {
		views = append(views, toReferenceView(ref))
	}
	a.json(w, http.StatusOK, map[string]any{"references": views})
}

// CreateReference handles POST /references.
func (a *App) CreateReference(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserIDFromContext(r.Context())
	if owner == "" {
		a.error(w, domain.ErrUnauthorized)
		return
	}
	var req createReferenceRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, err)
		return
	}
	kind, err := parseReferenceKind(req.Kind)
	if err != nil {
		a.error(w, err)
		return
	}
	if req.Image == "" {
		a.error(w, fmt.Errorf("%w: image is required", domain.ErrInvalidInput))
		return
	}

	ref := &domain.ReferenceImage{
		ID:        uuid.NewString(),
		Owner:     owner,
		Kind:      kind,
		Gender:    req.Gender,
		Image:     req.Image,
		IsDefault: req.IsDefault,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.Refs.Create(r.Context(), ref); err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusCreated, toReferenceView(*ref))
}

// SetDefaultReference handles POST /references/{id}/default.
func (a *App) SetDefaultReference(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserIDFromContext(r.Context())
	if owner == "" {
		a.error(w, domain.ErrUnauthorized)
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.Refs.SetDefault(r.Context(), owner, id); err != nil {
		a.error(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": id, "status": "default"})
}
