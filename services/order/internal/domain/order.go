package domain

import (
	"fmt"
	"slices"
	"time"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
)

// Order status constants.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCancelled = "cancelled"
	OrderStatusPaid      = "paid"
	OrderStatusShipping  = "shipping"
	OrderStatusCompleted = "completed"
)

// Order represents a customer order. Amounts are in the smallest currency
// unit; FinalPrice is TotalPrice minus DiscountAmount.
type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Status          string      `json:"status"`
	Items           []OrderItem `json:"items"`
	TotalPrice      int64       `json:"total_price"`
	DiscountAmount  int64       `json:"discount_amount"`
	FinalPrice      int64       `json:"final_price"`
	ShippingAddress *Address    `json:"shipping_address,omitempty"`
	CouponID        *string     `json:"coupon_id,omitempty"`
	CouponCode      string      `json:"coupon_code,omitempty"`
	CouponRedeemed  bool        `json:"coupon_redeemed"`
	CancelReason    string      `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Address represents a shipping address.
type Address struct {
	FullName    string `json:"full_name" validate:"required,max=255"`
	AddressLine string `json:"address_line" validate:"required,max=500"`
	City        string `json:"city" validate:"required,max=100"`
	PostalCode  string `json:"postal_code" validate:"omitempty,max=20"`
	Country     string `json:"country" validate:"required,len=2"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,max=30"`
}

// ValidStatuses returns all valid order statuses.
func ValidStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusCancelled,
		OrderStatusPaid,
		OrderStatusShipping,
		OrderStatusCompleted,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	return slices.Contains(ValidStatuses(), status)
}

// AllowedTransitions defines which status transitions are valid.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
		OrderStatusConfirmed: {OrderStatusPaid, OrderStatusCancelled},
		OrderStatusPaid:      {OrderStatusShipping},
		OrderStatusShipping:  {OrderStatusCompleted},
		OrderStatusCompleted: {},
		OrderStatusCancelled: {},
	}
}

// CanTransitionTo checks if the order can transition to the target status.
func (o *Order) CanTransitionTo(target string) bool {
	return slices.Contains(AllowedTransitions()[o.Status], target)
}

// TransitionTo validates and applies a status change.
func (o *Order) TransitionTo(target string, now time.Time) error {
	if !o.CanTransitionTo(target) {
		return apperrors.InvalidTransition("order", o.Status, target)
	}
	o.Status = target
	o.UpdatedAt = now
	return nil
}

// HasProduct reports whether any line of the order is for productID.
func (o *Order) HasProduct(productID string) bool {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// CancelledError reports that an order was persisted and then cancelled
// before it could be confirmed. Err carries the business cause.
type CancelledError struct {
	Order *Order
	Err   *apperrors.AppError
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("order %s cancelled: %s", e.Order.ID, e.Order.CancelReason)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}
