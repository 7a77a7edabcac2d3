package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/bedive-215/tech-store-sub000/pkg/bus"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
)

// Broadcaster publishes product change notifications for other services'
// caches. Notifications are fire-and-forget: failures are logged and never
// fail the operation that caused them.
type Broadcaster struct {
	publisher bus.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewBroadcaster creates a broadcaster publishing on p.
func NewBroadcaster(p bus.Publisher, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		publisher: p,
		logger:    logger,
		now:       time.Now,
	}
}

// StockChanged announces the new stock of a product.
func (b *Broadcaster) StockChanged(ctx context.Context, productID string, stock int) {
	b.publish(ctx, messages.TopicChangeStock, messages.ProductChanged{
		Event:     messages.EventChangeStock,
		ProductID: productID,
		Stock:     &stock,
	})
}

// PriceChanged announces the new base price of a product.
func (b *Broadcaster) PriceChanged(ctx context.Context, productID string, price int64) {
	b.publish(ctx, messages.TopicChangePrice, messages.ProductChanged{
		Event:     messages.EventChangePrice,
		ProductID: productID,
		Price:     &price,
	})
}

// NameChanged announces the new name of a product.
func (b *Broadcaster) NameChanged(ctx context.Context, productID, name string) {
	b.publish(ctx, messages.TopicChangeName, messages.ProductChanged{
		Event:     messages.EventChangeName,
		ProductID: productID,
		Name:      &name,
	})
}

// ProductDeleted announces that a product no longer exists.
func (b *Broadcaster) ProductDeleted(ctx context.Context, productID string) {
	b.publish(ctx, messages.TopicDeleteProduct, messages.ProductChanged{
		Event:     messages.EventDeleteProduct,
		ProductID: productID,
	})
}

func (b *Broadcaster) publish(ctx context.Context, topic string, msg messages.ProductChanged) {
	msg.OccurredAt = b.now().UTC()
	if err := b.publisher.Publish(ctx, topic, msg); err != nil {
		b.logger.WarnContext(ctx, "failed to broadcast product change",
			slog.String("topic", topic),
			slog.String("product_id", msg.ProductID),
			slog.String("error", err.Error()),
		)
		return
	}
	b.logger.DebugContext(ctx, "broadcast product change",
		slog.String("topic", topic),
		slog.String("product_id", msg.ProductID),
	)
}
