package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bedive-215/tech-store-sub000/pkg/bus"
	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	pkglogger "github.com/bedive-215/tech-store-sub000/pkg/logger"
)

// Request is one decoded request delivered to a HandlerFunc.
type Request struct {
	Topic         string
	Action        string
	CorrelationID string
	Body          json.RawMessage
}

// Decode unmarshals the request body into v.
func (r Request) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("malformed %s request: %v", r.Action, err))
	}
	return nil
}

// HandlerFunc computes the reply body for a request. Business failures should
// be encoded in the returned body; a returned error is turned into a failure
// reply by the route's FailureFunc.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// FailureFunc builds the reply sent when a HandlerFunc errors or panics.
type FailureFunc func(req Request, err error) any

type route struct {
	handle HandlerFunc
	fail   FailureFunc
}

// Responder answers requests on one or more topics. Every request that carries
// a correlation id gets exactly one reply on the reply topic, whatever the
// handler does; requests without one are logged and dropped.
type Responder struct {
	bus    bus.Bus
	logger *slog.Logger
	cache  ReplyCache

	mu     sync.RWMutex
	routes map[string]map[string]route
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithReplyCache stores every reply so that a redelivered request is answered
// with the original reply instead of running the handler again.
func WithReplyCache(cache ReplyCache) ResponderOption {
	return func(r *Responder) {
		r.cache = cache
	}
}

// NewResponder creates a responder publishing replies on b.
func NewResponder(b bus.Bus, logger *slog.Logger, opts ...ResponderOption) *Responder {
	r := &Responder{
		bus:    b,
		logger: logger,
		routes: make(map[string]map[string]route),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle routes requests with the given action on topic to fn. A nil fail
// produces {"success": false, "reason": ...}.
func (r *Responder) Handle(topic, action string, fn HandlerFunc, fail FailureFunc) {
	if fail == nil {
		fail = defaultFailure
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.routes[topic] == nil {
		r.routes[topic] = make(map[string]route)
	}
	r.routes[topic][action] = route{handle: fn, fail: fail}
}

// Topics returns the request topics with at least one route.
func (r *Responder) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.routes))
	for t := range r.routes {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Listen subscribes to every routed topic with explicit acknowledgement, so a
// request whose reply could not be published is redelivered. Each topic gets
// an exclusive queue, so every listening replica executes every request: run
// one responder process per capability.
func (r *Responder) Listen(ctx context.Context) error {
	for _, topic := range r.Topics() {
		topic := topic
		err := r.bus.Subscribe(ctx, topic, bus.ManualAck, func(ctx context.Context, msg bus.Message) error {
			return r.Serve(ctx, topic, msg)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		r.logger.Info("rpc responder listening", slog.String("topic", topic))
	}
	return nil
}

// Serve answers one delivered request. It returns an error only when the
// reply could not be published.
func (r *Responder) Serve(ctx context.Context, topic string, msg bus.Message) error {
	var env envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil || env.CorrelationID == "" {
		RequestsDropped.WithLabelValues(topic).Inc()
		attrs := []any{slog.String("topic", topic)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		r.logger.WarnContext(ctx, "dropping rpc request without correlation id", attrs...)
		return nil
	}

	req := Request{
		Topic:         topic,
		Action:        env.Action,
		CorrelationID: env.CorrelationID,
		Body:          msg.Body,
	}
	ctx = pkglogger.WithCorrelationID(ctx, req.CorrelationID)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rpc.serve "+req.Action,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("messaging.destination", topic),
			attribute.String("rpc.method", req.Action),
			attribute.String("messaging.correlation_id", req.CorrelationID),
		),
	)
	defer span.End()

	reply := r.reply(ctx, req)
	if err := r.bus.Publish(ctx, ReplyTopic(topic), reply); err != nil {
		return fmt.Errorf("publish %s reply: %w", req.Action, err)
	}
	return nil
}

func (r *Responder) reply(ctx context.Context, req Request) []byte {
	key := req.Action + ":" + req.CorrelationID
	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.WarnContext(ctx, "reply cache lookup failed",
				slog.String("action", req.Action),
				slog.String("error", err.Error()),
			)
		} else if ok {
			CachedReplies.WithLabelValues(req.Action).Inc()
			return cached
		}
	}

	body := r.invoke(ctx, req)
	encoded, err := mergeFields(body, map[string]string{FieldCorrelationID: req.CorrelationID})
	if err != nil {
		r.logger.ErrorContext(ctx, "rpc reply could not be encoded",
			slog.String("action", req.Action),
			slog.String("error", err.Error()),
		)
		// A plain map always encodes.
		encoded, _ = mergeFields(defaultFailure(req, err), map[string]string{FieldCorrelationID: req.CorrelationID})
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, key, encoded); err != nil {
			r.logger.WarnContext(ctx, "reply cache store failed",
				slog.String("action", req.Action),
				slog.String("error", err.Error()),
			)
		}
	}
	return encoded
}

// invoke runs the routed handler and converts errors and panics into the
// route's failure reply.
func (r *Responder) invoke(ctx context.Context, req Request) (reply any) {
	r.mu.RLock()
	rt, ok := r.routes[req.Topic][req.Action]
	r.mu.RUnlock()
	if !ok {
		RequestsHandled.WithLabelValues(req.Topic, req.Action, "unsupported").Inc()
		r.logger.WarnContext(ctx, "no rpc handler for action",
			slog.String("topic", req.Topic),
			slog.String("action", req.Action),
		)
		return map[string]any{"success": false, "reason": ReasonUnsupportedAction}
	}

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("rpc handler panic: %v", p)
			RequestsHandled.WithLabelValues(req.Topic, req.Action, "failed").Inc()
			r.logger.ErrorContext(ctx, "rpc handler panicked",
				slog.String("action", req.Action),
				slog.String("rpc_correlation_id", req.CorrelationID),
				slog.Any("panic", p),
			)
			reply = rt.fail(req, err)
		}
	}()

	out, err := rt.handle(ctx, req)
	if err != nil {
		RequestsHandled.WithLabelValues(req.Topic, req.Action, "failed").Inc()
		r.logger.WarnContext(ctx, "rpc handler failed",
			slog.String("action", req.Action),
			slog.String("rpc_correlation_id", req.CorrelationID),
			slog.String("error", err.Error()),
		)
		return rt.fail(req, err)
	}

	RequestsHandled.WithLabelValues(req.Topic, req.Action, "ok").Inc()
	return out
}

func defaultFailure(_ Request, err error) any {
	return map[string]any{"success": false, "reason": apperrors.ReasonOf(err)}
}
