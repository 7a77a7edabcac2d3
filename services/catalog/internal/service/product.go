package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/repository"
)

// ProductService implements catalog administration and price lookups.
type ProductService struct {
	repo     repository.ProductRepository
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewProductService creates a new product service.
func NewProductService(repo repository.ProductRepository, notifier Notifier, logger *slog.Logger) *ProductService {
	return &ProductService{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// FlashSaleInput describes a discounted price window. All fields are set
// together or not at all.
type FlashSaleInput struct {
	Price int64
	Start time.Time
	End   time.Time
}

// CreateProductInput holds the parameters for creating a product.
type CreateProductInput struct {
	Name      string
	Price     int64
	Stock     int
	FlashSale *FlashSaleInput
}

// UpdatePriceInput replaces the base price and the flash sale of a product.
// A nil FlashSale clears any existing one.
type UpdatePriceInput struct {
	Price     int64
	FlashSale *FlashSaleInput
}

func validateFlashSale(price int64, fs *FlashSaleInput) error {
	if fs == nil {
		return nil
	}
	if fs.Price <= 0 || fs.Price >= price {
		return apperrors.InvalidInput("flash sale price must be positive and below the base price")
	}
	if !fs.Start.Before(fs.End) {
		return apperrors.InvalidInput("flash sale must start before it ends")
	}
	return nil
}

func applyFlashSale(p *domain.Product, fs *FlashSaleInput) {
	if fs == nil {
		p.FlashSalePrice, p.FlashSaleStart, p.FlashSaleEnd = nil, nil, nil
		return
	}
	price, start, end := fs.Price, fs.Start.UTC(), fs.End.UTC()
	p.FlashSalePrice, p.FlashSaleStart, p.FlashSaleEnd = &price, &start, &end
}

// CreateProduct validates and stores a new product.
func (s *ProductService) CreateProduct(ctx context.Context, input CreateProductInput) (*domain.Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	if input.Price <= 0 {
		return nil, apperrors.InvalidInput("price must be positive")
	}
	if input.Stock < 0 {
		return nil, apperrors.InvalidInput("stock must be non-negative")
	}
	if err := validateFlashSale(input.Price, input.FlashSale); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	product := &domain.Product{
		ID:        uuid.New().String(),
		Name:      name,
		Price:     input.Price,
		Stock:     input.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyFlashSale(product, input.FlashSale)

	if err := s.repo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logger.InfoContext(ctx, "product created",
		slog.String("product_id", product.ID),
		slog.Int64("price", product.Price),
		slog.Int("stock", product.Stock),
	)
	return product, nil
}

// GetProduct retrieves a product by its ID.
func (s *ProductService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

// ListProducts returns a page of products.
func (s *ProductService) ListProducts(ctx context.Context, page, perPage int) ([]domain.Product, int, error) {
	products, total, err := s.repo.List(ctx, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return products, total, nil
}

// UpdatePrice changes the price of a product and announces it.
func (s *ProductService) UpdatePrice(ctx context.Context, id string, input UpdatePriceInput) (*domain.Product, error) {
	if input.Price <= 0 {
		return nil, apperrors.InvalidInput("price must be positive")
	}
	if err := validateFlashSale(input.Price, input.FlashSale); err != nil {
		return nil, err
	}

	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product for price update: %w", err)
	}

	product.Price = input.Price
	applyFlashSale(product, input.FlashSale)
	product.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, product); err != nil {
		return nil, fmt.Errorf("update product price: %w", err)
	}

	s.notifier.PriceChanged(ctx, product.ID, product.Price)
	return product, nil
}

// RenameProduct changes the name of a product and announces it.
func (s *ProductService) RenameProduct(ctx context.Context, id, name string) (*domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}

	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product for rename: %w", err)
	}

	product.Name = name
	product.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, product); err != nil {
		return nil, fmt.Errorf("rename product: %w", err)
	}

	s.notifier.NameChanged(ctx, product.ID, product.Name)
	return product, nil
}

// AdjustStock adds delta to the stock of a product and announces the new
// level. Stock never drops below zero.
func (s *ProductService) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	if delta == 0 {
		return 0, apperrors.InvalidInput("delta must not be zero")
	}

	stock, err := s.repo.AdjustStock(ctx, id, delta)
	if err != nil {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}

	s.notifier.StockChanged(ctx, id, stock)
	s.logger.InfoContext(ctx, "stock adjusted",
		slog.String("product_id", id),
		slog.Int("delta", delta),
		slog.Int("stock", stock),
	)
	return stock, nil
}

// DeleteProduct removes a product and announces it.
func (s *ProductService) DeleteProduct(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	s.notifier.ProductDeleted(ctx, id)
	s.logger.InfoContext(ctx, "product deleted", slog.String("product_id", id))
	return nil
}

// CheckPrice quotes every requested product in request order. Unknown ids
// are reported with Exists=false; repeated ids are quoted once.
func (s *ProductService) CheckPrice(ctx context.Context, ids []string) ([]messages.ProductQuote, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	products, err := s.repo.GetByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("check price: %w", err)
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	now := s.now()
	quotes := make([]messages.ProductQuote, 0, len(unique))
	for _, id := range unique {
		p, ok := byID[id]
		if !ok {
			quotes = append(quotes, messages.ProductQuote{ID: id})
			continue
		}
		price, flash := p.EffectivePrice(now)
		quotes = append(quotes, messages.ProductQuote{
			ID:          p.ID,
			Exists:      true,
			Name:        p.Name,
			Price:       price,
			Stock:       p.Stock,
			IsFlashSale: flash,
		})
	}
	return quotes, nil
}
