package domain

import (
	"fmt"
	"time"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
)

// DiscountType selects how a coupon's DiscountValue is applied.
type DiscountType string

// Discount types.
const (
	DiscountPercent DiscountType = "PERCENT"
	DiscountFixed   DiscountType = "FIXED"
)

// Coupon rejection reasons.
const (
	ReasonCouponNotFound   = "coupon_not_found"
	ReasonCouponNotStarted = "coupon_not_started"
	ReasonCouponExpired    = "coupon_expired"
	ReasonCouponNoQuantity = "coupon_no_quantity"
	ReasonCouponMinNotMet  = "coupon_min_order_value"
)

// Coupon is a redeemable discount. Quantity is the number of redemptions
// left and only changes under a row lock.
type Coupon struct {
	ID            string       `json:"id"`
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discount_type"`
	DiscountValue int64        `json:"discount_value"`
	MaxDiscount   *int64       `json:"max_discount,omitempty"`
	MinOrderValue int64        `json:"min_order_value"`
	Quantity      int          `json:"quantity"`
	StartAt       time.Time    `json:"start_at"`
	EndAt         time.Time    `json:"end_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Check reports why the coupon cannot be applied to an order of total at
// now, or nil if it can.
func (c *Coupon) Check(now time.Time, total int64) error {
	switch {
	case now.Before(c.StartAt):
		return apperrors.InvalidInput(fmt.Sprintf("coupon %s is not active yet", c.Code)).
			WithReason(ReasonCouponNotStarted)
	case now.After(c.EndAt):
		return apperrors.InvalidInput(fmt.Sprintf("coupon %s has expired", c.Code)).
			WithReason(ReasonCouponExpired)
	case c.Quantity <= 0:
		return apperrors.Conflict(ReasonCouponNoQuantity, fmt.Sprintf("coupon %s has no redemptions left", c.Code))
	case total < c.MinOrderValue:
		return apperrors.InvalidInput(fmt.Sprintf("coupon %s requires an order of at least %d", c.Code, c.MinOrderValue)).
			WithReason(ReasonCouponMinNotMet)
	}
	return nil
}

// Discount returns the amount taken off an order of total. The result never
// exceeds total.
func (c *Coupon) Discount(total int64) int64 {
	if total <= 0 {
		return 0
	}

	var discount int64
	switch c.DiscountType {
	case DiscountPercent:
		discount = total * c.DiscountValue / 100
		if c.MaxDiscount != nil && *c.MaxDiscount > 0 && discount > *c.MaxDiscount {
			discount = *c.MaxDiscount
		}
	case DiscountFixed:
		discount = c.DiscountValue
	}

	if discount < 0 {
		return 0
	}
	return min(discount, total)
}
