package bus

import (
	"context"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"

	"github.com/bedive-215/tech-store-sub000/pkg/logger"
)

const correlationHeader = "correlation_id"

// headerCarrier adapts AMQP headers to the OpenTelemetry TextMapCarrier.
type headerCarrier amqp.Table

func (h headerCarrier) Get(key string) string {
	if v, ok := h[key].(string); ok {
		return v
	}
	return ""
}

func (h headerCarrier) Set(key, value string) {
	h[key] = value
}

func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// injectHeaders writes the trace context and request correlation id of ctx
// into a fresh header table.
func injectHeaders(ctx context.Context) amqp.Table {
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		headers[correlationHeader] = id
	}
	return headers
}

// extractHeaders restores the trace context and correlation id onto ctx.
func extractHeaders(ctx context.Context, headers amqp.Table) context.Context {
	if headers == nil {
		return ctx
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(headers))
	if id := headerCarrier(headers).Get(correlationHeader); id != "" {
		ctx = logger.WithCorrelationID(ctx, id)
	}
	return ctx
}
