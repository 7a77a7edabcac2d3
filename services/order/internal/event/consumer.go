package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bedive-215/tech-store-sub000/pkg/bus"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
)

// CatalogTopics are the catalog broadcasts the order service listens to.
var CatalogTopics = []string{
	messages.TopicChangeStock,
	messages.TopicChangePrice,
	messages.TopicChangeName,
	messages.TopicDeleteProduct,
}

// QuoteInvalidator drops cached catalog data for a product.
type QuoteInvalidator interface {
	Invalidate(ctx context.Context, productID string) error
}

// Consumer processes catalog broadcasts for the order service.
type Consumer struct {
	quotes QuoteInvalidator
	logger *slog.Logger
}

// NewConsumer creates a new catalog broadcast consumer.
func NewConsumer(quotes QuoteInvalidator, logger *slog.Logger) *Consumer {
	return &Consumer{
		quotes: quotes,
		logger: logger,
	}
}

// Subscribe registers the consumer on every catalog broadcast topic until
// ctx is done. Broadcasts are acknowledged on delivery; a missed one only
// leaves a quote cached until its TTL runs out.
func (c *Consumer) Subscribe(ctx context.Context, b bus.Subscriber) error {
	for _, topic := range CatalogTopics {
		if err := b.Subscribe(ctx, topic, bus.AutoAck, c.HandleProductChanged); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// HandleProductChanged invalidates the cached quote of the changed product.
// Malformed broadcasts are logged and dropped.
func (c *Consumer) HandleProductChanged(ctx context.Context, msg bus.Message) error {
	var data messages.ProductChanged
	if err := msg.Decode(&data); err != nil || data.ProductID == "" {
		c.logger.WarnContext(ctx, "dropping malformed catalog broadcast",
			slog.String("topic", msg.Topic),
		)
		return nil
	}

	if err := c.quotes.Invalidate(ctx, data.ProductID); err != nil {
		c.logger.ErrorContext(ctx, "failed to invalidate quote",
			slog.String("topic", msg.Topic),
			slog.String("product_id", data.ProductID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	c.logger.DebugContext(ctx, "quote invalidated",
		slog.String("event", data.Event),
		slog.String("product_id", data.ProductID),
	)
	return nil
}
