package repository

import (
	"context"

	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/domain"
)

// ProductRepository defines the persistence operations for products. Methods
// called with a context derived from database.Transactor.WithinTx run inside
// that transaction.
type ProductRepository interface {
	// Create inserts a new product.
	Create(ctx context.Context, product *domain.Product) error

	// GetByID retrieves a product by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Product, error)

	// GetByIDs retrieves every existing product among ids. Missing ids are
	// simply absent from the result.
	GetByIDs(ctx context.Context, ids []string) ([]domain.Product, error)

	// List returns a page of products ordered by creation time, newest first,
	// along with the total count.
	List(ctx context.Context, page, perPage int) ([]domain.Product, int, error)

	// Update persists name, price and flash sale fields.
	Update(ctx context.Context, product *domain.Product) error

	// AdjustStock adds delta to the stock of a product and returns the new
	// stock. A result below zero is rejected.
	AdjustStock(ctx context.Context, id string, delta int) (int, error)

	// Delete removes a product.
	Delete(ctx context.Context, id string) error

	// LockStock locks the rows of ids in ascending id order and returns their
	// current stock. Must run inside a transaction.
	LockStock(ctx context.Context, ids []string) (map[string]int, error)

	// SetStock overwrites the stock of a locked product.
	SetStock(ctx context.Context, id string, stock int) error
}
