package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bedive-215/tech-store-sub000/pkg/health"
	"github.com/bedive-215/tech-store-sub000/pkg/middleware"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/service"
)

// RouterConfig holds the router options that come from configuration.
type RouterConfig struct {
	Environment       string
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all catalog service routes registered.
func NewRouter(
	cfg RouterConfig,
	productService *service.ProductService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Environment)))
	r.Use(middleware.Observability("catalog", logger)...)

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	productHandler := NewProductHandler(productService, logger)

	r.Route("/api/v1/products", func(r chi.Router) {
		r.With(middleware.CacheControl(30 * time.Second)).Get("/", productHandler.ListProducts)
		r.With(middleware.CacheControl(30 * time.Second)).Get("/{id}", productHandler.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole("admin"))

			r.Post("/", productHandler.CreateProduct)
			r.Put("/{id}/price", productHandler.UpdatePrice)
			r.Put("/{id}/name", productHandler.RenameProduct)
			r.Post("/{id}/stock", productHandler.AdjustStock)
			r.Delete("/{id}", productHandler.DeleteProduct)
		})
	})

	return r
}
