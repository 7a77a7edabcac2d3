package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryPolicy bounds how long a service waits for its stores at startup.
type retryPolicy struct {
	attempts int
	base     time.Duration
	jitter   float64
}

// startupRetry waits roughly 1s, 2s and 4s between attempts.
var startupRetry = retryPolicy{attempts: 3, base: time.Second, jitter: 0.25}

// backoff returns the wait after the given failed attempt (0-indexed).
func (p retryPolicy) backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.base << attempt
	spread := float64(base) * p.jitter * (2*rand.Float64() - 1) // #nosec G404 -- jitter only
	return base + time.Duration(spread)
}

// do runs fn until it succeeds, fails with an error retryable rejects, or the
// attempts run out.
func (p retryPolicy) do(ctx context.Context, logger *slog.Logger, what string, retryable func(error) bool, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == p.attempts-1 {
			break
		}

		wait := p.backoff(attempt)
		if logger != nil {
			logger.WarnContext(ctx, what+" unavailable, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", p.attempts),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: gave up waiting: %w", what, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

// isConnectionError reports whether err is a transport failure worth
// retrying, as opposed to a rejected statement or bad credentials.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection_exception; 57P03 is cannot_connect_now.
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P03"
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return pgconn.SafeToRetry(err)
}
