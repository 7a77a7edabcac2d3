package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestProducer(w *fakeWriter) *Producer {
	return &Producer{
		writer: w,
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestNewEvent(t *testing.T) {
	event, err := NewEvent("order.created", "ord-1", "order", "order-service", map[string]int64{"total": 4999})
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.OccurredAt, 2*time.Second)

	var data map[string]int64
	require.NoError(t, event.UnmarshalData(&data))
	assert.Equal(t, int64(4999), data["total"])
}

func TestNewEvent_UnencodableData(t *testing.T) {
	_, err := NewEvent("order.created", "ord-1", "order", "order-service", make(chan int))
	assert.Error(t, err)
}

func TestEvent_RoundTrip(t *testing.T) {
	event, err := NewEvent("order.cancelled", "ord-2", "order", "order-service", map[string]string{"reason": "x"})
	require.NoError(t, err)
	event.WithCorrelationID("corr-9")

	raw, err := event.Marshal()
	require.NoError(t, err)
	restored, err := UnmarshalEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, event.EventID, restored.EventID)
	assert.Equal(t, "corr-9", restored.CorrelationID)
	assert.True(t, event.OccurredAt.Equal(restored.OccurredAt))
	assert.JSONEq(t, string(event.Data), string(restored.Data))
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)
	event, err := NewEvent("order.confirmed", "ord-3", "order", "order-service", struct{}{})
	require.NoError(t, err)
	event.WithCorrelationID("corr-1")
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("orders", "ok"))

	require.NoError(t, p.Publish(context.Background(), "orders", event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "orders", msg.Topic)
	assert.Equal(t, "ord-3", string(msg.Key))
	assert.Equal(t, "order.confirmed", header(msg, "event_type"))
	assert.Equal(t, "order-service", header(msg, "source"))
	assert.Equal(t, "corr-1", header(msg, "correlation_id"))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)
	assert.Equal(t, before+1, testutil.ToFloat64(EventsPublished.WithLabelValues("orders", "ok")))
}

func TestProducer_Publish_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newTestProducer(w)
	event, err := NewEvent("order.created", "ord-4", "order", "order-service", struct{}{})
	require.NoError(t, err)
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("orders-err", "error"))

	err = p.Publish(context.Background(), "orders-err", event)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to orders-err")
	assert.Equal(t, before+1, testutil.ToFloat64(EventsPublished.WithLabelValues("orders-err", "error")))
}

func TestProducer_Publish_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	w := &fakeWriter{}
	event, err := NewEvent("order.created", "ord-5", "order", "order-service", struct{}{})
	require.NoError(t, err)
	require.NoError(t, newTestProducer(w).Publish(ctx, "orders", event))

	traceparent := header(w.msgs[0], "traceparent")
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())
}

func TestHeaderCarrier(t *testing.T) {
	headers := []kafka.Header{{Key: "a", Value: []byte("1")}}
	c := headerCarrier{headers: &headers}

	assert.Equal(t, "1", c.Get("a"))
	assert.Empty(t, c.Get("missing"))

	c.Set("a", "2")
	c.Set("b", "3")
	assert.Equal(t, "2", c.Get("a"))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
	assert.Len(t, headers, 2)
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, newTestProducer(w).Close())
	assert.True(t, w.closed)
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"k1:9092"})

	assert.Equal(t, []string{"k1:9092"}, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
}
