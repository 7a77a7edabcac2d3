package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/repository"
)

// Transactor runs fn inside one database transaction. Nested calls join the
// outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CouponLedger validates coupons and keeps their redemption counters. Counter
// changes happen only while the coupon row is locked.
type CouponLedger struct {
	repo   repository.CouponRepository
	tx     Transactor
	logger *slog.Logger
	now    func() time.Time
}

// NewCouponLedger creates a new coupon ledger.
func NewCouponLedger(repo repository.CouponRepository, tx Transactor, logger *slog.Logger) *CouponLedger {
	return &CouponLedger{
		repo:   repo,
		tx:     tx,
		logger: logger,
		now:    time.Now,
	}
}

// CreateCouponInput holds the parameters for creating a coupon.
type CreateCouponInput struct {
	Code          string
	DiscountType  domain.DiscountType
	DiscountValue int64
	MaxDiscount   *int64
	MinOrderValue int64
	Quantity      int
	StartAt       time.Time
	EndAt         time.Time
}

// Create adds a new coupon.
func (l *CouponLedger) Create(ctx context.Context, input CreateCouponInput) (*domain.Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	switch {
	case code == "":
		return nil, apperrors.InvalidInput("code is required")
	case input.DiscountType != domain.DiscountPercent && input.DiscountType != domain.DiscountFixed:
		return nil, apperrors.InvalidInput("discount_type must be PERCENT or FIXED")
	case input.DiscountValue <= 0:
		return nil, apperrors.InvalidInput("discount_value must be positive")
	case input.DiscountType == domain.DiscountPercent && input.DiscountValue > 100:
		return nil, apperrors.InvalidInput("a percent discount cannot exceed 100")
	case input.Quantity < 0:
		return nil, apperrors.InvalidInput("quantity cannot be negative")
	case !input.EndAt.After(input.StartAt):
		return nil, apperrors.InvalidInput("end_at must be after start_at")
	}

	now := l.now().UTC()
	coupon := &domain.Coupon{
		ID:            uuid.New().String(),
		Code:          code,
		DiscountType:  input.DiscountType,
		DiscountValue: input.DiscountValue,
		MaxDiscount:   input.MaxDiscount,
		MinOrderValue: input.MinOrderValue,
		Quantity:      input.Quantity,
		StartAt:       input.StartAt.UTC(),
		EndAt:         input.EndAt.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.repo.Create(ctx, coupon); err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	l.logger.InfoContext(ctx, "coupon created",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
		slog.Int("quantity", coupon.Quantity),
	)
	return coupon, nil
}

// Validate looks up code and computes its discount on an order of total. It
// fails closed: a missing, inactive or exhausted coupon is an error. Nothing
// is redeemed.
func (l *CouponLedger) Validate(ctx context.Context, code string, total int64) (*domain.Coupon, int64, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, 0, apperrors.InvalidInput("coupon code is required")
	}

	coupon, err := l.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, 0, fmt.Errorf("validate coupon: %w", err)
	}
	if err := coupon.Check(l.now(), total); err != nil {
		return nil, 0, err
	}
	return coupon, coupon.Discount(total), nil
}

// Redeem takes one redemption from a coupon. It fails with a
// coupon_no_quantity conflict when none are left. Called inside a
// transaction, the decrement commits or rolls back with it.
func (l *CouponLedger) Redeem(ctx context.Context, couponID string) error {
	return l.adjust(ctx, "redeem", couponID, -1)
}

// Restore gives back one redemption, compensating an earlier Redeem.
func (l *CouponLedger) Restore(ctx context.Context, couponID string) error {
	return l.adjust(ctx, "restore", couponID, 1)
}

func (l *CouponLedger) adjust(ctx context.Context, op, couponID string, delta int) error {
	var remaining int
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		coupon, err := l.repo.LockByID(ctx, couponID)
		if err != nil {
			return err
		}
		remaining = coupon.Quantity + delta
		if remaining < 0 {
			return apperrors.Conflict(domain.ReasonCouponNoQuantity,
				fmt.Sprintf("coupon %s has no redemptions left", coupon.Code))
		}
		return l.repo.SetQuantity(ctx, couponID, remaining)
	})
	if err != nil {
		return fmt.Errorf("%s coupon: %w", op, err)
	}

	l.logger.DebugContext(ctx, "coupon "+op,
		slog.String("coupon_id", couponID),
		slog.Int("remaining", remaining),
	)
	return nil
}
