package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"canvasapi/internal/http/handlers"
	"canvasapi/internal/infra"
	"canvasapi/internal/middleware"
)

// Options configures the cross-cutting middleware.
type Options struct {
	Logger             *infra.Logger
	CORSAllowedOrigins []string
	RateLimitPerMinute int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*logger),
		middleware.CORS(opts.CORSAllowedOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/healthz/upstream", app.UpstreamHealth)

	// Docs
	r.Get(handlers.OpenAPIPath, app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/canvases/{canvasID}/analyses", func(r chi.Router) {
		r.With(middleware.RateLimit(opts.RateLimitPerMinute, time.Minute)).Post("/", app.CreateAnalysis)
		r.Get("/", app.ListAnalyses)
	})
	r.Get("/v1/analyses/{id}", app.GetAnalysis)

	return r
}
