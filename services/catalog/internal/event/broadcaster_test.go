package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bedive-215/tech-store-sub000/pkg/bus/bustest"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBroadcaster(b *bustest.Bus) *Broadcaster {
	bc := NewBroadcaster(b, newTestLogger())
	bc.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return bc
}

func decodeOnly(t *testing.T, b *bustest.Bus, topic string) messages.ProductChanged {
	t.Helper()
	sent := b.Published(topic)
	require.Len(t, sent, 1)
	var msg messages.ProductChanged
	require.NoError(t, json.Unmarshal(sent[0], &msg))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(sent[0], &raw))
	assert.NotContains(t, raw, "correlationId")
	return msg
}

func TestBroadcaster_Topics(t *testing.T) {
	b := bustest.New()
	bc := newTestBroadcaster(b)
	ctx := context.Background()

	bc.StockChanged(ctx, "p-1", 7)
	bc.PriceChanged(ctx, "p-1", 1999)
	bc.NameChanged(ctx, "p-1", "Mouse")
	bc.ProductDeleted(ctx, "p-1")

	stock := decodeOnly(t, b, messages.TopicChangeStock)
	assert.Equal(t, messages.EventChangeStock, stock.Event)
	require.NotNil(t, stock.Stock)
	assert.Equal(t, 7, *stock.Stock)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), stock.OccurredAt)

	price := decodeOnly(t, b, messages.TopicChangePrice)
	require.NotNil(t, price.Price)
	assert.Equal(t, int64(1999), *price.Price)
	assert.Nil(t, price.Stock)

	name := decodeOnly(t, b, messages.TopicChangeName)
	require.NotNil(t, name.Name)
	assert.Equal(t, "Mouse", *name.Name)

	deleted := decodeOnly(t, b, messages.TopicDeleteProduct)
	assert.Equal(t, messages.EventDeleteProduct, deleted.Event)
	assert.Equal(t, "p-1", deleted.ProductID)
}

func TestBroadcaster_PublishFailureIsSwallowed(t *testing.T) {
	b := bustest.New()
	b.FailPublishes(errors.New("broker down"))
	bc := newTestBroadcaster(b)

	assert.NotPanics(t, func() {
		bc.StockChanged(context.Background(), "p-1", 1)
	})
	assert.Empty(t, b.Published(messages.TopicChangeStock))
}
