package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genbot/internal/http/handlers"
	"genbot/internal/infra"
	"genbot/internal/middleware"
)

// Options tunes the router's middleware.
type Options struct {
	Logger          *infra.Logger
	AdminToken      string
	AllowedOrigins  []string
	RateLimitPerMin int
	RateLimitBurst  int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
		middleware.Identity(opts.AdminToken),
		middleware.I18N,
	)
	if opts.Logger != nil {
		r.Use(middleware.Logger(opts.Logger))
	}

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/models", app.ListModels)

	// Provider callbacks only trigger a status re-check, so they need no
	// caller identity.
	r.Post("/v1/callbacks/provider", app.ProviderCallback)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)

		r.Route("/v1/generations", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.RateLimitPerMin, opts.RateLimitBurst)).Post("/", app.CreateGeneration)
			r.Get("/{job_id}", app.GetGeneration)
			r.Post("/{job_id}/cancel", app.CancelGeneration)
		})

		r.Route("/v1/users/{user_id}", func(r chi.Router) {
			r.Get("/active", app.ListActive)
			r.Get("/history", app.ListHistory)
			r.Get("/balance", app.GetBalance)
			r.With(middleware.RequireAdmin).Post("/balance", app.TopUp)
		})
	})

	return r
}
