package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"promptcraft/internal/http/handlers"
	"promptcraft/internal/infra"
	"promptcraft/internal/middleware"
)

// Options configures the router's middleware.
type Options struct {
	CORSOrigins     []string
	RateLimitPerMin int
	CountryLookup   middleware.CountryLookup
	ImagesDir       string
	Logger          *infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(*infra.LoggerOrDiscard(opts.Logger)),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
		middleware.Country(opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	limited := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	r.Route("/v1", func(r chi.Router) {
		r.With(limited).Post("/tokens", app.CountTokens)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", app.ListSessions)
			r.With(limited).Post("/", app.CreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.GetSession)
				r.Delete("/", app.DeleteSession)
				r.Get("/events", app.Events)
				r.Get("/export.zip", app.Export)
				r.Put("/prompt", app.EditPrompt)
				r.Put("/selection", app.Select)

				r.Group(func(r chi.Router) {
					r.Use(limited)
					r.Post("/prompt", app.GetPrompt)
					r.Post("/shrink", app.Shrink)
					r.Post("/clip", app.AdaptCLIP)
					r.Post("/improve", app.Improve)
					r.Post("/images", app.Generate)
					r.Post("/critique", app.Critique)
					r.Post("/check-text", app.CheckText)
					r.Post("/refine", app.Refine)
					r.Post("/upscale", app.Upscale)
					r.Post("/sdxl", app.RenderSDXL)
				})
			})
		})
	})

	if opts.ImagesDir != "" {
		r.Handle("/images/*", http.StripPrefix("/images/", noListing(http.FileServer(http.Dir(opts.ImagesDir)))))
	}

	return r
}

// noListing hides directory indexes of the image store.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
