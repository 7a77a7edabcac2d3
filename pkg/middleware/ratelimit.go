package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/httputil"
)

// RateLimitConfig is a token bucket per caller. A non-positive RPS disables
// the limit.
type RateLimitConfig struct {
	RPS   float64
	Burst int
	// TTL evicts callers idle for longer than this. Defaults to 3 minutes.
	TTL time.Duration
}

type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// callerStore keeps one limiter per caller key. Idle callers are swept on
// access once per TTL, so no background goroutine outlives the handler.
type callerStore struct {
	mu        sync.Mutex
	callers   map[string]*caller
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	nowFunc   func() time.Time
}

func newCallerStore(cfg RateLimitConfig) *callerStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &callerStore{
		callers: make(map[string]*caller),
		limit:   rate.Limit(cfg.RPS),
		burst:   burst,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// allow spends one token from key's bucket.
func (s *callerStore) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if now.Sub(s.lastSweep) > s.ttl {
		for k, c := range s.callers {
			if now.Sub(c.lastSeen) > s.ttl {
				delete(s.callers, k)
			}
		}
		s.lastSweep = now
	}

	c, ok := s.callers[key]
	if !ok {
		c = &caller{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.callers[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (s *callerStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.callers)
}

// RateLimit rejects callers that exceed cfg with 429 Too Many Requests.
// Callers are keyed by the identity Identity put in the context, falling
// back to the remote IP for anonymous requests.
func RateLimit(cfg RateLimitConfig, l *slog.Logger) func(http.Handler) http.Handler {
	if cfg.RPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	store := newCallerStore(cfg)
	return rateLimit(store, l)
}

func rateLimit(store *callerStore, l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r)
			if !store.allow(key) {
				l.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("caller", key),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				httputil.WriteError(w, r, apperrors.RateLimited("too many requests"), l)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
