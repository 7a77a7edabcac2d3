package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/bedive-215/tech-store-sub000/pkg/kafka"
	"github.com/bedive-215/tech-store-sub000/pkg/logger"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

func sampleOrder() *domain.Order {
	return &domain.Order{
		ID:             "order-1",
		UserID:         "user-1",
		Status:         domain.OrderStatusConfirmed,
		TotalPrice:     3000,
		DiscountAmount: 300,
		FinalPrice:     2700,
		CouponCode:     "SAVE10",
		Items: []domain.OrderItem{
			{ProductID: "p-1", ProductName: "Keyboard", UnitPrice: 1500, Quantity: 2},
		},
	}
}

func TestProducer_PublishOrderConfirmed(t *testing.T) {
	pub := new(mockPublisher)
	p := NewProducer(pub, newTestLogger())
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")

	var got *pkgkafka.Event
	pub.On("Publish", mock.Anything, TopicOrderConfirmed, mock.AnythingOfType("*kafka.Event")).
		Run(func(args mock.Arguments) { got = args.Get(2).(*pkgkafka.Event) }).
		Return(nil)

	require.NoError(t, p.PublishOrderConfirmed(ctx, sampleOrder()))
	pub.AssertExpectations(t)

	require.NotNil(t, got)
	assert.Equal(t, TopicOrderConfirmed, got.EventType)
	assert.Equal(t, "order-1", got.AggregateID)
	assert.Equal(t, AggregateTypeOrder, got.AggregateType)
	assert.Equal(t, "corr-1", got.CorrelationID)

	var data OrderSnapshotData
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "confirmed", data.Status)
	assert.Equal(t, int64(2700), data.FinalPrice)
	assert.Equal(t, "SAVE10", data.CouponCode)
	require.Len(t, data.Items, 1)
	assert.Equal(t, 2, data.Items[0].Quantity)
}

func TestProducer_PublishOrderCancelled(t *testing.T) {
	pub := new(mockPublisher)
	p := NewProducer(pub, newTestLogger())

	var got *pkgkafka.Event
	pub.On("Publish", mock.Anything, TopicOrderCancelled, mock.AnythingOfType("*kafka.Event")).
		Run(func(args mock.Arguments) { got = args.Get(2).(*pkgkafka.Event) }).
		Return(nil)

	require.NoError(t, p.PublishOrderCancelled(context.Background(), "order-2", "Product p-1 insufficient stock"))

	var data OrderCancelledData
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "order-2", data.OrderID)
	assert.Equal(t, "Product p-1 insufficient stock", data.Reason)
	assert.Empty(t, got.CorrelationID)
}

func TestProducer_PublishError(t *testing.T) {
	pub := new(mockPublisher)
	p := NewProducer(pub, newTestLogger())

	pub.On("Publish", mock.Anything, TopicOrderCreated, mock.Anything).Return(errors.New("broker down"))

	err := p.PublishOrderCreated(context.Background(), sampleOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish ecommerce.order.created event")
}
