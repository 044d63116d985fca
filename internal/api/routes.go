package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-engine/internal/tracking"
)

// RouteOptions carries the optional pieces of the router.
type RouteOptions struct {
	Health      *HealthChecker
	Unsubscribe *tracking.Handler
	CORSOrigins []string
}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", actorHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if opts.Health != nil {
		r.Get("/health", opts.Health.HandleHealth)
		r.Get("/health/ready", opts.Health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy"}`))
		})
	}

	if opts.Unsubscribe != nil {
		opts.Unsubscribe.Mount(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.HandleListCampaigns)
			r.Post("/", h.HandleCreateCampaign)
			r.Post("/dispatch", h.HandleDispatch)
			r.Get("/{id}", h.HandleGetCampaign)
			r.Put("/{id}", h.HandleUpdateCampaign)
			r.Post("/{id}/resume", h.HandleResume)
			r.Get("/{id}/events", h.HandleCampaignEvents)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/campaigns", h.HandleCampaignMetrics)
			r.Get("/contact-growth", h.HandleContactGrowth)
			r.Get("/engagement", h.HandleEngagement)
			r.Get("/tags", h.HandleTagAnalytics)
			r.Get("/top-campaigns", h.HandleTopCampaigns)
			r.Get("/bounces", h.HandleBounceAnalysis)
			r.Post("/compare", h.HandleCompareCampaigns)
		})
	})

	return r
}
