package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/repository"
)

// Transactor runs fn inside one database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier announces product changes to other services.
type Notifier interface {
	StockChanged(ctx context.Context, productID string, stock int)
	PriceChanged(ctx context.Context, productID string, price int64)
	NameChanged(ctx context.Context, productID, name string)
	ProductDeleted(ctx context.Context, productID string)
}

// InventoryService reserves and restores product stock for orders. Every
// call is all-or-nothing: a single unsatisfiable line rolls back the whole
// change.
type InventoryService struct {
	repo     repository.ProductRepository
	tx       Transactor
	notifier Notifier
	logger   *slog.Logger
}

// NewInventoryService creates a new inventory service.
func NewInventoryService(repo repository.ProductRepository, tx Transactor, notifier Notifier, logger *slog.Logger) *InventoryService {
	return &InventoryService{
		repo:     repo,
		tx:       tx,
		notifier: notifier,
		logger:   logger,
	}
}

// Reserve decrements stock for every line of an order. A product that does
// not exist or lacks stock fails the call with a *domain.StockError.
func (s *InventoryService) Reserve(ctx context.Context, orderID string, lines []domain.StockLine) ([]domain.StockLevel, error) {
	return s.apply(ctx, "reserve", orderID, lines, func(current, qty int) (int, string) {
		if current < qty {
			return 0, messages.ReasonInsufficientStock
		}
		return current - qty, ""
	})
}

// Restore increments stock for every line of a cancelled order.
func (s *InventoryService) Restore(ctx context.Context, orderID string, lines []domain.StockLine) ([]domain.StockLevel, error) {
	return s.apply(ctx, "restore", orderID, lines, func(current, qty int) (int, string) {
		return current + qty, ""
	})
}

type stockChange func(current, qty int) (next int, reason string)

func (s *InventoryService) apply(ctx context.Context, op, orderID string, lines []domain.StockLine, change stockChange) ([]domain.StockLevel, error) {
	if len(lines) == 0 {
		return nil, apperrors.InvalidInput("at least one item is required")
	}
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, apperrors.InvalidInput("product_id is required")
		}
		if l.Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("quantity of product %s must be positive", l.ProductID))
		}
	}

	merged := domain.MergeLines(lines)
	ids := make([]string, len(merged))
	for i, l := range merged {
		ids[i] = l.ProductID
	}

	var levels []domain.StockLevel
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.LockStock(ctx, ids)
		if err != nil {
			return err
		}

		levels = make([]domain.StockLevel, 0, len(merged))
		for _, l := range merged {
			stock, ok := current[l.ProductID]
			if !ok {
				return &domain.StockError{ProductID: l.ProductID, Reason: messages.ReasonNotFound}
			}
			next, reason := change(stock, l.Quantity)
			if reason != "" {
				return &domain.StockError{ProductID: l.ProductID, Reason: reason}
			}
			levels = append(levels, domain.StockLevel{ProductID: l.ProductID, Stock: next})
		}

		for _, lvl := range levels {
			if err := s.repo.SetStock(ctx, lvl.ProductID, lvl.Stock); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var stockErr *domain.StockError
		if errors.As(err, &stockErr) {
			s.logger.InfoContext(ctx, "stock "+op+" rejected",
				slog.String("order_id", orderID),
				slog.String("product_id", stockErr.ProductID),
				slog.String("reason", stockErr.Reason),
			)
			return nil, stockErr
		}
		return nil, fmt.Errorf("%s stock: %w", op, err)
	}

	for _, lvl := range levels {
		s.notifier.StockChanged(ctx, lvl.ProductID, lvl.Stock)
	}

	s.logger.InfoContext(ctx, "stock "+op+" committed",
		slog.String("order_id", orderID),
		slog.Int("products", len(levels)),
	)
	return levels, nil
}
