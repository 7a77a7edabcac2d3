package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/bedive-215/tech-store-sub000/pkg/kafka"
	"github.com/bedive-215/tech-store-sub000/pkg/logger"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
)

// Kafka topic constants for order audit events.
const (
	TopicOrderCreated   = "ecommerce.order.created"
	TopicOrderConfirmed = "ecommerce.order.confirmed"
	TopicOrderCancelled = "ecommerce.order.cancelled"
)

// Aggregate type constant.
const AggregateTypeOrder = "order"

// Source identifier for events originating from the order service.
const SourceOrderService = "order-service"

// OrderSnapshotData is the payload of order.created and order.confirmed.
type OrderSnapshotData struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Status         string          `json:"status"`
	Items          []OrderItemData `json:"items"`
	TotalPrice     int64           `json:"total_price"`
	DiscountAmount int64           `json:"discount_amount"`
	FinalPrice     int64           `json:"final_price"`
	CouponCode     string          `json:"coupon_code,omitempty"`
}

// OrderItemData is the event payload for an order item.
type OrderItemData struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

// OrderCancelledData is the payload for an order.cancelled event.
type OrderCancelledData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// Publisher is the subset of the Kafka producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes order audit events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the order service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishOrderCreated publishes an order.created event with the order as
// persisted in pending status.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	return p.publish(ctx, TopicOrderCreated, order.ID, snapshot(order))
}

// PublishOrderConfirmed publishes an order.confirmed event.
func (p *Producer) PublishOrderConfirmed(ctx context.Context, order *domain.Order) error {
	return p.publish(ctx, TopicOrderConfirmed, order.ID, snapshot(order))
}

// PublishOrderCancelled publishes an order.cancelled event.
func (p *Producer) PublishOrderCancelled(ctx context.Context, orderID, reason string) error {
	return p.publish(ctx, TopicOrderCancelled, orderID, OrderCancelledData{
		OrderID: orderID,
		Reason:  reason,
	})
}

func (p *Producer) publish(ctx context.Context, topic, orderID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, orderID, AggregateTypeOrder, SourceOrderService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event = event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published order event",
		slog.String("topic", topic),
		slog.String("order_id", orderID),
	)
	return nil
}

func snapshot(order *domain.Order) OrderSnapshotData {
	items := make([]OrderItemData, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemData{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		}
	}

	return OrderSnapshotData{
		ID:             order.ID,
		UserID:         order.UserID,
		Status:         order.Status,
		Items:          items,
		TotalPrice:     order.TotalPrice,
		DiscountAmount: order.DiscountAmount,
		FinalPrice:     order.FinalPrice,
		CouponCode:     order.CouponCode,
	}
}
