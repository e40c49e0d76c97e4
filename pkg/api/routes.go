package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/runs", func(r chi.Router) {
			// Read endpoints: open when anonymous read is allowed.
			r.Group(func(r chi.Router) {
				if !s.cfg.Auth.AnonymousRead {
					r.Use(s.requireAuth)
				}

				if s.cfg.Server.RateLimit.Enabled {
					r.Use(s.rateLimitMiddleware(
						s.cfg.Server.RateLimit.Public,
					))
				}

				r.Get("/", s.handleListRuns)
				r.Get("/{id}", s.handleGetRun)
				r.Get("/{id}/progress", s.handleRunProgress)
				r.Get("/{id}/results", s.handleRunResults)
				r.Get(
					"/{id}/cases/{caseID}/outputs/{outputID}/diff",
					s.handleOutputDiff,
				)
			})

			// Write endpoints: always authenticated when auth is on.
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)

				if s.cfg.Server.RateLimit.Enabled {
					r.Use(s.rateLimitMiddleware(
						s.cfg.Server.RateLimit.Authenticated,
					))
				}

				r.Post("/", s.handleCreateRun)
				r.Delete("/{id}", s.handleDeleteRun)
				r.Post("/{id}/events", s.handleAppendEvent)
				r.Post("/{id}/cases/{caseID}/results", s.handleCreateCaseResult)
				r.Post(
					"/{id}/cases/{caseID}/comparisons",
					s.handleCreateComparison,
				)
			})
		})
	})

	return r
}

// corsMiddleware builds the CORS handler from configured origins.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
