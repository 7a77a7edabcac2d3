package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bedive-215/tech-store-sub000/pkg/database"
	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
)

const couponColumns = `id, code, discount_type, discount_value, max_discount, min_order_value, quantity,
	start_at, end_at, created_at, updated_at`

// CouponRepository implements repository.CouponRepository using PostgreSQL.
type CouponRepository struct {
	db database.DBTX
}

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(db database.DBTX) *CouponRepository {
	return &CouponRepository{db: db}
}

func scanCoupon(row pgx.Row) (*domain.Coupon, error) {
	var c domain.Coupon
	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.DiscountType,
		&c.DiscountValue,
		&c.MaxDiscount,
		&c.MinOrderValue,
		&c.Quantity,
		&c.StartAt,
		&c.EndAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new coupon. Codes are unique regardless of case.
func (r *CouponRepository) Create(ctx context.Context, c *domain.Coupon) error {
	query := `
		INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := database.Conn(ctx, r.db).Exec(ctx, query,
		c.ID,
		strings.ToUpper(c.Code),
		c.DiscountType,
		c.DiscountValue,
		c.MaxDiscount,
		c.MinOrderValue,
		c.Quantity,
		c.StartAt,
		c.EndAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict("coupon_code_taken", fmt.Sprintf("coupon %s already exists", c.Code))
		}
		if database.IsCheckViolation(err) {
			return apperrors.InvalidInput("coupon violates discount constraints")
		}
		return fmt.Errorf("create coupon: %w", err)
	}
	return nil
}

// GetByCode retrieves a coupon by its code.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	c, err := scanCoupon(database.Conn(ctx, r.db).QueryRow(ctx, query, strings.ToUpper(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", code)
		}
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}
	return c, nil
}

// LockByID locks a coupon row and returns it.
func (r *CouponRepository) LockByID(ctx context.Context, id string) (coupon *domain.Coupon, err error) {
	if _, ok := database.TxFromContext(ctx); !ok {
		return nil, errors.New("lock coupon: no transaction in context")
	}

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1 FOR UPDATE`

	ctx, end := database.TraceQuery(ctx, "LockCoupon", query)
	defer func() { end(err) }()

	coupon, err = scanCoupon(database.Conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", id)
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}
	return coupon, nil
}

// SetQuantity overwrites the remaining redemptions of a locked coupon.
func (r *CouponRepository) SetQuantity(ctx context.Context, id string, quantity int) error {
	query := `UPDATE coupons SET quantity = $1, updated_at = NOW() WHERE id = $2`

	ct, err := database.Conn(ctx, r.db).Exec(ctx, query, quantity, id)
	if err != nil {
		if database.IsCheckViolation(err) {
			return apperrors.Conflict(domain.ReasonCouponNoQuantity, "coupon quantity cannot go below zero")
		}
		return fmt.Errorf("set coupon quantity: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("coupon", id)
	}
	return nil
}
