package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig configures cross-origin access to the public API.
type CORSConfig struct {
	// AllowedOrigins lists exact origins. "*" admits any origin but is only
	// honoured in development.
	AllowedOrigins   []string
	AllowCredentials bool
	MaxAge           time.Duration
	Environment      string
}

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
	}, ", ")
	corsHeaders = strings.Join([]string{
		"Accept", "Content-Type", HeaderCorrelationID, HeaderUserID, HeaderUserRole,
	}, ", ")
)

// DefaultCORSConfig admits every origin in development and none elsewhere.
func DefaultCORSConfig(environment string) CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		MaxAge:         time.Hour,
		Environment:    environment,
	}
}

// CORS answers preflight requests and decorates responses for allowed
// origins. Requests from other origins pass through without CORS headers,
// which makes browsers refuse the response.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	dev := cfg.Environment == "development"
	anyOrigin := false
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			anyOrigin = dev
			continue
		}
		allowed[o] = true
	}
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin == "" || !(anyOrigin || allowed[origin]) {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Expose-Headers", HeaderCorrelationID)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
