package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bedive-215/tech-store-sub000/pkg/database"
	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/repository"
)

const orderColumns = `id, user_id, status, total_price, discount_amount, final_price, shipping_address,
	coupon_id, coupon_code, coupon_redeemed, cancel_reason, created_at, updated_at`

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	db database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(db database.DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order and its items. Callers that need both inserts
// to be atomic run it inside database.Transactor.WithinTx.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) (err error) {
	orderQuery := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	ctx, end := database.TraceQuery(ctx, "CreateOrder", orderQuery)
	defer func() { end(err) }()

	var shippingJSON []byte
	if o.ShippingAddress != nil {
		shippingJSON, err = json.Marshal(o.ShippingAddress)
		if err != nil {
			return fmt.Errorf("marshal shipping address: %w", err)
		}
	}

	conn := database.Conn(ctx, r.db)
	_, err = conn.Exec(ctx, orderQuery,
		o.ID,
		o.UserID,
		o.Status,
		o.TotalPrice,
		o.DiscountAmount,
		o.FinalPrice,
		shippingJSON,
		o.CouponID,
		o.CouponCode,
		o.CouponRedeemed,
		o.CancelReason,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, product_name, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, item := range o.Items {
		_, err = conn.Exec(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.UnitPrice,
			item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

// GetByID retrieves an order by its ID, eagerly loading its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (order *domain.Order, err error) {
	// Order and items in one round trip via LEFT JOIN + JSONB_AGG.
	query := `
		SELECT
			o.id, o.user_id, o.status, o.total_price, o.discount_amount, o.final_price,
			o.shipping_address, o.coupon_id, o.coupon_code, o.coupon_redeemed, o.cancel_reason,
			o.created_at, o.updated_at,
			COALESCE(
				JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', oi.id,
						'order_id', oi.order_id,
						'product_id', oi.product_id,
						'product_name', oi.product_name,
						'unit_price', oi.unit_price,
						'quantity', oi.quantity
					) ORDER BY oi.product_id
				) FILTER (WHERE oi.id IS NOT NULL),
				'[]'::jsonb
			) AS items
		FROM orders o
		LEFT JOIN order_items oi ON o.id = oi.order_id
		WHERE o.id = $1
		GROUP BY o.id`

	ctx, end := database.TraceQuery(ctx, "GetOrderByID", query)
	defer func() { end(err) }()

	var (
		o            domain.Order
		shippingJSON []byte
		itemsJSON    []byte
	)

	err = database.Conn(ctx, r.db).QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.TotalPrice,
		&o.DiscountAmount,
		&o.FinalPrice,
		&shippingJSON,
		&o.CouponID,
		&o.CouponCode,
		&o.CouponRedeemed,
		&o.CancelReason,
		&o.CreatedAt,
		&o.UpdatedAt,
		&itemsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if o.ShippingAddress, err = decodeAddress(shippingJSON); err != nil {
		return nil, err
	}

	o.Items = []domain.OrderItem{}
	if len(itemsJSON) > 0 && string(itemsJSON) != "null" {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
	}

	return &o, nil
}

// List returns orders matching the given filter with the total count.
func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, *filter.UserID)
		argIndex++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// count(*) OVER() returns the total alongside the page.
	query := fmt.Sprintf(`
		SELECT %s,
			   count(*) OVER() AS total_count
		FROM orders
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		orderColumns, whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	conn := database.Conn(ctx, r.db)
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var totalCount int
	orders := make([]domain.Order, 0)

	for rows.Next() {
		var (
			o            domain.Order
			shippingJSON []byte
		)

		if err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.Status,
			&o.TotalPrice,
			&o.DiscountAmount,
			&o.FinalPrice,
			&shippingJSON,
			&o.CouponID,
			&o.CouponCode,
			&o.CouponRedeemed,
			&o.CancelReason,
			&o.CreatedAt,
			&o.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}

		if o.ShippingAddress, err = decodeAddress(shippingJSON); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	if len(orders) == 0 {
		return orders, totalCount, nil
	}

	// Batch-load items for the whole page.
	orderIDs := make([]string, len(orders))
	for i := range orders {
		orderIDs[i] = orders[i].ID
	}

	itemsQuery := `
		SELECT id, order_id, product_id, product_name, unit_price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY product_id`

	itemRows, err := conn.Query(ctx, itemsQuery, orderIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("batch load order items: %w", err)
	}
	defer itemRows.Close()

	itemsByOrderID := make(map[string][]domain.OrderItem, len(orders))
	for itemRows.Next() {
		var item domain.OrderItem
		if err := itemRows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.UnitPrice,
			&item.Quantity,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order item: %w", err)
		}
		itemsByOrderID[item.OrderID] = append(itemsByOrderID[item.OrderID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate batch order item rows: %w", err)
	}

	for i := range orders {
		if items, ok := itemsByOrderID[orders[i].ID]; ok {
			orders[i].Items = items
		} else {
			orders[i].Items = []domain.OrderItem{}
		}
	}

	return orders, totalCount, nil
}

// UpdateStatus moves an order from status from to status to and sets its
// cancel reason. The write only applies while the row still holds from; an
// order that moved on in the meantime yields an InvalidTransition error.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, from, to, reason string) (err error) {
	query := `
		UPDATE orders
		SET status = $1, cancel_reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5`

	ctx, end := database.TraceQuery(ctx, "UpdateOrderStatus", query)
	defer func() { end(err) }()

	conn := database.Conn(ctx, r.db)
	ct, err := conn.Exec(ctx, query, to, reason, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = conn.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("order", id)
		}
		return fmt.Errorf("read order status: %w", err)
	}
	return apperrors.InvalidTransition("order", current, to)
}

// SetCouponRedeemed records whether the order's coupon is redeemed.
func (r *OrderRepository) SetCouponRedeemed(ctx context.Context, id string, redeemed bool) error {
	query := `UPDATE orders SET coupon_redeemed = $1, updated_at = $2 WHERE id = $3`

	ct, err := database.Conn(ctx, r.db).Exec(ctx, query, redeemed, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set order coupon redeemed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

func decodeAddress(raw []byte) (*domain.Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var addr domain.Address
	if err := json.Unmarshal(raw, &addr); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	return &addr, nil
}
