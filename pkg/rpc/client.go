package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bedive-215/tech-store-sub000/pkg/bus"
	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
)

const tracerName = "github.com/bedive-215/tech-store-sub000/pkg/rpc"

// DefaultTimeout bounds every call that does not pass its own timeout.
const DefaultTimeout = 5000 * time.Millisecond

// Caller issues a request and waits for its reply. A zero timeout selects the
// caller's default.
type Caller interface {
	Call(ctx context.Context, topic, action string, payload any, timeout time.Duration) (json.RawMessage, error)
}

// Client implements Caller over a bus. It listens on the reply topic of every
// request topic it has called and resolves replies through its Registry.
type Client struct {
	bus      bus.Bus
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration

	mu        sync.Mutex
	listening map[string]bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRegistry makes the client resolve calls through r.
func WithRegistry(r *Registry) ClientOption {
	return func(c *Client) {
		c.registry = r
	}
}

// NewClient creates a client publishing requests on b.
func NewClient(b bus.Bus, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		bus:       b,
		registry:  NewRegistry(),
		logger:    logger,
		timeout:   DefaultTimeout,
		listening: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	return c.registry.Len()
}

// Listen subscribes to the reply topics of the given request topics. Calling
// it at startup avoids paying the subscription on the first call.
func (c *Client) Listen(ctx context.Context, topics ...string) error {
	for _, topic := range topics {
		if err := c.listen(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) listen(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listening[topic] {
		return nil
	}

	replyTopic := ReplyTopic(topic)
	if err := c.bus.Subscribe(ctx, replyTopic, bus.AutoAck, c.handleReply); err != nil {
		return fmt.Errorf("subscribe %s: %w", replyTopic, err)
	}
	c.listening[topic] = true
	return nil
}

// Call publishes payload merged with the action and a fresh correlation id on
// topic and waits for the matching reply. The reply body is returned as
// received. A missing reply fails with a SERVICE_TIMEOUT AppError.
func (c *Client) Call(ctx context.Context, topic, action string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if err := c.listen(context.WithoutCancel(ctx), topic); err != nil {
		return nil, apperrors.ServiceUnavailable(err.Error())
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rpc.call "+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("messaging.destination", topic),
			attribute.String("rpc.method", action),
		),
	)
	defer span.End()

	correlationID := uuid.NewString()
	span.SetAttributes(attribute.String("messaging.correlation_id", correlationID))

	call, err := c.registry.Register(correlationID, timeout)
	if err != nil {
		return nil, err
	}

	body, err := mergeFields(payload, map[string]string{
		FieldAction:        action,
		FieldCorrelationID: correlationID,
	})
	if err != nil {
		c.registry.Remove(correlationID)
		return nil, fmt.Errorf("encode %s request: %w", action, err)
	}

	start := time.Now()
	publishCtx, cancel := context.WithDeadline(ctx, call.Deadline)
	err = c.bus.Publish(publishCtx, topic, body)
	cancel()
	if err != nil {
		c.registry.Remove(correlationID)
		c.observe(topic, action, "publish_error", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		c.logger.WarnContext(ctx, "rpc request could not be published",
			slog.String("topic", topic),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.ServiceUnavailable(fmt.Sprintf("%s is unavailable", serviceName(topic)))
	}

	reply, err := c.registry.Await(ctx, call)
	switch {
	case errors.Is(err, ErrDeadlineExceeded):
		c.observe(topic, action, "timeout", start)
		span.SetStatus(codes.Error, "timeout")
		c.logger.WarnContext(ctx, "rpc call timed out",
			slog.String("topic", topic),
			slog.String("action", action),
			slog.String("rpc_correlation_id", correlationID),
			slog.Duration("timeout", timeout),
		)
		return nil, apperrors.Timeout(serviceName(topic))
	case err != nil:
		c.observe(topic, action, "cancelled", start)
		span.RecordError(err)
		return nil, fmt.Errorf("await %s reply: %w", action, err)
	}

	c.observe(topic, action, "ok", start)
	return reply, nil
}

// CallInto is Call followed by decoding the reply into out.
func (c *Client) CallInto(ctx context.Context, topic, action string, payload, out any, timeout time.Duration) error {
	return Invoke(ctx, c, topic, action, payload, out, timeout)
}

// Invoke calls through any Caller and decodes the reply into out.
func Invoke(ctx context.Context, caller Caller, topic, action string, payload, out any, timeout time.Duration) error {
	reply, err := caller.Call(ctx, topic, action, payload, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", action, err)
	}
	return nil
}

func (c *Client) handleReply(ctx context.Context, msg bus.Message) error {
	var env envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil || env.CorrelationID == "" {
		c.logger.WarnContext(ctx, "dropping reply without correlation id",
			slog.String("topic", msg.Topic),
		)
		return nil
	}

	if !c.registry.Resolve(env.CorrelationID, msg.Body) {
		DiscardedReplies.WithLabelValues(msg.Topic).Inc()
		c.logger.DebugContext(ctx, "dropping reply for unknown correlation id",
			slog.String("topic", msg.Topic),
			slog.String("rpc_correlation_id", env.CorrelationID),
		)
	}
	return nil
}

func (c *Client) observe(topic, action, outcome string, start time.Time) {
	CallsTotal.WithLabelValues(topic, action, outcome).Inc()
	CallDuration.WithLabelValues(topic, action).Observe(time.Since(start).Seconds())
}
