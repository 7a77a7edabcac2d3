package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bedive-215/tech-store-sub000/pkg/health"
	"github.com/bedive-215/tech-store-sub000/pkg/middleware"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/service"
)

// RouterConfig holds the router options that come from configuration.
type RouterConfig struct {
	Environment       string
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all warranty service routes registered.
func NewRouter(
	cfg RouterConfig,
	claimService *service.ClaimService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Environment)))
	r.Use(middleware.Observability("warranty", logger)...)

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	claimHandler := NewClaimHandler(claimService, logger)

	r.Route("/api/v1/warranties", func(r chi.Router) {
		r.Use(chimw.Timeout(15 * time.Second))
		r.Use(middleware.RequireUser)

		r.Post("/", claimHandler.SubmitClaim)
		r.Get("/", claimHandler.ListClaims)
		r.Get("/{id}", claimHandler.GetClaim)

		r.With(middleware.RequireRole(roleAdmin)).Patch("/{id}/status", claimHandler.UpdateClaimStatus)
	})

	return r
}
