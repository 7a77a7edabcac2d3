package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
)

// ============================================================================
// OrderItem.LineTotal Tests
// ============================================================================

func TestLineTotal(t *testing.T) {
	tests := []struct {
		name string
		item OrderItem
		want int64
	}{
		{"basic", OrderItem{UnitPrice: 1999, Quantity: 3}, 5997},
		{"single", OrderItem{UnitPrice: 500, Quantity: 1}, 500},
		{"zero quantity", OrderItem{UnitPrice: 1999, Quantity: 0}, 0},
		{"large values", OrderItem{UnitPrice: 99999999, Quantity: 1000}, 99999999000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.LineTotal())
		})
	}
}

// ============================================================================
// Order Status Tests
// ============================================================================

func TestValidStatuses_ContainsAllStatuses(t *testing.T) {
	expected := []string{
		OrderStatusPending, OrderStatusConfirmed, OrderStatusCancelled,
		OrderStatusPaid, OrderStatusShipping, OrderStatusCompleted,
	}
	assert.ElementsMatch(t, expected, ValidStatuses())
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range ValidStatuses() {
		assert.True(t, IsValidStatus(s), "expected %q to be valid", s)
	}
	assert.False(t, IsValidStatus("unknown"))
	assert.False(t, IsValidStatus(""))
	assert.False(t, IsValidStatus("PENDING")) // case-sensitive
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusPaid, false},
		{OrderStatusConfirmed, OrderStatusPaid, true},
		{OrderStatusConfirmed, OrderStatusCancelled, true},
		{OrderStatusConfirmed, OrderStatusShipping, false},
		{OrderStatusPaid, OrderStatusShipping, true},
		{OrderStatusPaid, OrderStatusCancelled, false},
		{OrderStatusShipping, OrderStatusCompleted, true},
		{OrderStatusCompleted, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusConfirmed, false},
		{OrderStatusPending, OrderStatusPending, false},
		{"nonexistent", OrderStatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			order := &Order{Status: tt.from}
			assert.Equal(t, tt.want, order.CanTransitionTo(tt.to))
		})
	}
}

func TestTransitionTo(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	order := &Order{Status: OrderStatusPaid}

	require.NoError(t, order.TransitionTo(OrderStatusShipping, now))
	assert.Equal(t, OrderStatusShipping, order.Status)
	assert.Equal(t, now, order.UpdatedAt)

	err := order.TransitionTo(OrderStatusPending, now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Equal(t, OrderStatusShipping, order.Status)
}

func TestHasProduct(t *testing.T) {
	order := &Order{Items: []OrderItem{{ProductID: "p-1"}, {ProductID: "p-2"}}}
	assert.True(t, order.HasProduct("p-2"))
	assert.False(t, order.HasProduct("p-3"))
}

func TestCancelledError(t *testing.T) {
	order := &Order{ID: "o-1", CancelReason: "Product p-1 insufficient stock"}
	err := error(&CancelledError{
		Order: order,
		Err:   apperrors.Conflict("insufficient_stock", order.CancelReason),
	})

	assert.Equal(t, "order o-1 cancelled: Product p-1 insufficient stock", err.Error())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, "insufficient_stock", apperrors.ReasonOf(err))

	var cancelled *CancelledError
	require.True(t, errors.As(err, &cancelled))
	assert.Same(t, order, cancelled.Order)
}

func TestStockCancelReason(t *testing.T) {
	assert.Equal(t, "Product p-1 insufficient stock", StockCancelReason("p-1", "insufficient_stock"))
	assert.Equal(t, "Product p-1 not found", StockCancelReason("p-1", "not_found"))
	assert.Equal(t, "Product p-1 could not be reserved", StockCancelReason("p-1", "internal_error"))
	assert.Equal(t, "Stock could not be reserved", StockCancelReason("", "internal_error"))
	assert.Equal(t, "Coupon SAVE10 no longer available", CouponCancelReason("SAVE10"))
}
