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
	"github.com/bedive-215/tech-store-sub000/services/order/internal/service"
)

// RouterConfig holds the router options that come from configuration.
type RouterConfig struct {
	Environment       string
	PprofAllowedCIDRs []string
	// CreateRateLimit caps order creation per customer.
	CreateRateLimit middleware.RateLimitConfig
}

// Services groups the application services exposed over HTTP.
type Services struct {
	Orders  *service.OrderService
	Saga    *service.OrderSaga
	Quotes  *service.QuoteService
	Coupons *service.CouponLedger
}

// NewRouter creates a chi router with all order service routes registered.
func NewRouter(
	cfg RouterConfig,
	svc Services,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Environment)))
	r.Use(middleware.Observability("order", logger)...)
	r.Use(chimw.Compress(5))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	orderHandler := NewOrderHandler(svc.Orders, svc.Saga, svc.Quotes, logger)
	couponHandler := NewCouponHandler(svc.Coupons, logger)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		// Remote calls are bounded by the RPC timeout; this caps the whole request.
		r.Use(chimw.Timeout(30 * time.Second))

		r.Post("/quote", orderHandler.QuoteOrder)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)

			r.With(middleware.RateLimit(cfg.CreateRateLimit, logger)).Post("/", orderHandler.CreateOrder)
			r.Get("/", orderHandler.ListOrders)
			r.Get("/{id}", orderHandler.GetOrder)
			r.Post("/{id}/cancel", orderHandler.CancelOrder)
		})

		r.With(middleware.RequireRole(roleAdmin)).Patch("/{id}/status", orderHandler.UpdateOrderStatus)
	})

	r.Route("/api/v1/coupons", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/validate", couponHandler.ValidateCoupon)
		r.With(middleware.RequireRole(roleAdmin)).Post("/", couponHandler.CreateCoupon)
	})

	return r
}
