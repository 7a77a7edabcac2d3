package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
)

// BreakerConfig holds configuration for a BreakerCaller.
type BreakerConfig struct {
	// Name identifies the breaker in metrics and logs.
	Name string

	// MaxRequests is the number of calls let through while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio trips the breaker once reached.
	FailureRatio float64

	// MinRequests is the number of calls needed before FailureRatio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns the defaults used for inter-service calls.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerCaller wraps a Caller with a circuit breaker. Only unavailability
// and timeouts count as failures; business replies and bad input do not.
type BreakerCaller struct {
	next    Caller
	breaker *gobreaker.CircuitBreaker[json.RawMessage]
	logger  *slog.Logger
	name    string
}

// NewBreakerCaller wraps next with a circuit breaker.
func NewBreakerCaller(next Caller, cfg BreakerConfig, logger *slog.Logger) *BreakerCaller {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, apperrors.ErrServiceUnavail)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}

	BreakerState.WithLabelValues(cfg.Name).Set(0)

	return &BreakerCaller{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[json.RawMessage](settings),
		logger:  logger,
		name:    cfg.Name,
	}
}

// Call forwards to the wrapped Caller unless the breaker is open.
func (b *BreakerCaller) Call(ctx context.Context, topic, action string, payload any, timeout time.Duration) (json.RawMessage, error) {
	reply, err := b.breaker.Execute(func() (json.RawMessage, error) {
		return b.next.Call(ctx, topic, action, payload, timeout)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.WarnContext(ctx, "circuit breaker rejected rpc call",
			slog.String("breaker", b.name),
			slog.String("action", action),
		)
		return nil, apperrors.ServiceUnavailable(fmt.Sprintf("%s is unavailable", serviceName(topic)))
	}
	return reply, err
}

// State returns the current breaker state.
func (b *BreakerCaller) State() gobreaker.State {
	return b.breaker.State()
}
