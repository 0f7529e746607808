// Package httpapi assembles the chi router for the API server.
package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tryon/internal/http/handlers"
	"tryon/internal/infra"
	"tryon/internal/middleware"
)

// RouterOptions carries the cross-cutting configuration for the router.
type RouterOptions struct {
	JWTSecret      string
	AllowedOrigins []string
	DefaultLocale  string
	CountryLookup  middleware.CountryLookup
	RateLimit      int
	Logger         infra.Logger
}

// NewRouter wires the middleware chain and routes.
func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(middleware.I18N(opts.DefaultLocale, opts.CountryLookup))
	r.Use(middleware.Logger(opts.Logger))
	if opts.RateLimit > 0 {
		r.Use(middleware.RateLimit(opts.RateLimit, time.Minute))
	}

	r.Get("/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", app.CreateJob)
			r.Get("/by-client/{key}", app.GetJobByClientKey)
			r.Get("/{id}", app.GetJob)
			r.Post("/{id}/run", app.RunJob)
		})

		r.Route("/references", func(r chi.Router) {
			r.Get("/", app.ListReferences)
			r.Post("/", app.CreateReference)
			r.Post("/{id}/default", app.SetDefaultReference)
		})
	})

	return r
}
