package middleware

import (
	"log/slog"
	"net/http"
)

// Observability returns the middleware every service mounts first. The
// correlation id is assigned before anything logs.
func Observability(service string, l *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		Correlation,
		Recovery(l),
		Tracing(service),
		Identity,
		AccessLog(l),
		PrometheusMetrics(service),
	}
}
