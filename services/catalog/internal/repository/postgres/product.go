package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bedive-215/tech-store-sub000/pkg/database"
	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/domain"
)

const productColumns = `id, name, price, flash_sale_price, flash_sale_start, flash_sale_end, stock, created_at, updated_at`

// ProductRepository implements repository.ProductRepository using PostgreSQL.
type ProductRepository struct {
	db database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(db database.DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&p.FlashSalePrice,
		&p.FlashSaleStart,
		&p.FlashSaleEnd,
		&p.Stock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new product.
func (r *ProductRepository) Create(ctx context.Context, product *domain.Product) (err error) {
	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ctx, end := database.TraceQuery(ctx, "CreateProduct", query)
	defer func() { end(err) }()

	_, err = database.Conn(ctx, r.db).Exec(ctx, query,
		product.ID,
		product.Name,
		product.Price,
		product.FlashSalePrice,
		product.FlashSaleStart,
		product.FlashSaleEnd,
		product.Stock,
		product.CreatedAt,
		product.UpdatedAt,
	)
	if err != nil {
		if database.IsCheckViolation(err) {
			return apperrors.InvalidInput("product violates catalog constraints")
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// GetByID retrieves a product by its unique identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(database.Conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product by id: %w", err)
	}
	return p, nil
}

// GetByIDs retrieves every existing product among ids.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) (products []domain.Product, err error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	ctx, end := database.TraceQuery(ctx, "GetProductsByIDs", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get products by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	if products == nil {
		products = []domain.Product{}
	}
	return products, nil
}

// List returns a page of products, newest first, with the total count.
func (r *ProductRepository) List(ctx context.Context, page, perPage int) ([]domain.Product, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}

	query := `
		SELECT ` + productColumns + `, count(*) OVER() AS total_count
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var (
		products []domain.Product
		total    int
	)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Price,
			&p.FlashSalePrice,
			&p.FlashSaleStart,
			&p.FlashSaleEnd,
			&p.Stock,
			&p.CreatedAt,
			&p.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate product rows: %w", err)
	}

	if products == nil {
		products = []domain.Product{}
	}
	return products, total, nil
}

// Update persists name, price and flash sale fields.
func (r *ProductRepository) Update(ctx context.Context, product *domain.Product) error {
	query := `
		UPDATE products
		SET name = $1, price = $2, flash_sale_price = $3, flash_sale_start = $4, flash_sale_end = $5, updated_at = $6
		WHERE id = $7`

	ct, err := database.Conn(ctx, r.db).Exec(ctx, query,
		product.Name,
		product.Price,
		product.FlashSalePrice,
		product.FlashSaleStart,
		product.FlashSaleEnd,
		product.UpdatedAt,
		product.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("product", product.ID)
	}
	return nil
}

// AdjustStock adds delta to the stock of a product and returns the new stock.
func (r *ProductRepository) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	query := `
		UPDATE products
		SET stock = stock + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING stock`

	var stock int
	err := database.Conn(ctx, r.db).QueryRow(ctx, query, delta, id).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NotFound("product", id)
		}
		if database.IsCheckViolation(err) {
			return 0, apperrors.Conflict(messages.ReasonInsufficientStock,
				fmt.Sprintf("stock of product %s cannot go below zero", id))
		}
		return 0, fmt.Errorf("adjust product stock: %w", err)
	}
	return stock, nil
}

// Delete removes a product.
func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	ct, err := database.Conn(ctx, r.db).Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("product", id)
	}
	return nil
}

// LockStock locks the product rows in id order and returns their stock.
func (r *ProductRepository) LockStock(ctx context.Context, ids []string) (stock map[string]int, err error) {
	if _, ok := database.TxFromContext(ctx); !ok {
		return nil, errors.New("lock stock: no transaction in context")
	}

	query := `
		SELECT id, stock
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`

	ctx, end := database.TraceQuery(ctx, "LockStock", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	defer rows.Close()

	stock = make(map[string]int, len(ids))
	for rows.Next() {
		var (
			id  string
			qty int
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("scan stock row: %w", err)
		}
		stock[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock rows: %w", err)
	}
	return stock, nil
}

// SetStock overwrites the stock of a locked product.
func (r *ProductRepository) SetStock(ctx context.Context, id string, stock int) error {
	query := `UPDATE products SET stock = $1, updated_at = NOW() WHERE id = $2`

	ct, err := database.Conn(ctx, r.db).Exec(ctx, query, stock, id)
	if err != nil {
		return fmt.Errorf("set product stock: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("product", id)
	}
	return nil
}
