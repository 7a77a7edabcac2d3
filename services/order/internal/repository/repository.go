package repository

import (
	"context"

	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
)

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	UserID  *string
	Status  *string
	Page    int
	PerPage int
}

// OrderRepository defines the interface for order persistence operations.
// Methods called with a context derived from database.Transactor.WithinTx
// run inside that transaction.
type OrderRepository interface {
	// Create inserts a new order and its items.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its unique identifier, including items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// List returns orders matching the given filter along with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// UpdateStatus moves an order from status from to status to. It fails
	// with an InvalidTransition error when the stored status is no longer
	// from, so concurrent writers cannot both win.
	UpdateStatus(ctx context.Context, id, from, to, reason string) error

	// SetCouponRedeemed records whether the order's coupon is currently
	// redeemed.
	SetCouponRedeemed(ctx context.Context, id string, redeemed bool) error
}

// CouponRepository defines the persistence operations for coupons.
type CouponRepository interface {
	// Create inserts a new coupon.
	Create(ctx context.Context, coupon *domain.Coupon) error

	// GetByCode retrieves a coupon by its code without locking it.
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// LockByID locks a coupon row for the rest of the transaction and
	// returns it. Must run inside a transaction.
	LockByID(ctx context.Context, id string) (*domain.Coupon, error)

	// SetQuantity overwrites the remaining redemptions of a locked coupon.
	SetQuantity(ctx context.Context, id string, quantity int) error
}
