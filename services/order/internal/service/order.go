package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/repository"
)

// OrderService reads orders and drives their lifecycle after the saga has
// confirmed them.
type OrderService struct {
	repo   repository.OrderRepository
	saga   *OrderSaga
	logger *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(repo repository.OrderRepository, saga *OrderSaga, logger *slog.Logger) *OrderService {
	return &OrderService{
		repo:   repo,
		saga:   saga,
		logger: logger,
	}
}

// GetOrder retrieves an order by its ID. A non-empty userID restricts the
// lookup to that user's orders.
func (s *OrderService) GetOrder(ctx context.Context, userID, id string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	if userID != "" && order.UserID != userID {
		return nil, apperrors.NotFound("order", id)
	}
	return order, nil
}

// ListOrders returns a filtered, paginated list of orders.
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}
	if filter.Status != nil && !domain.IsValidStatus(*filter.Status) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid status %q, must be one of: %s",
			*filter.Status, strings.Join(domain.ValidStatuses(), ", ")))
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	return orders, total, nil
}

// UpdateOrderStatus moves a confirmed order along its fulfilment lifecycle.
// Pending and confirmed are reached only through the saga. Cancelling goes
// through the saga's compensation so that stock and coupon are returned.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id, newStatus string) (*domain.Order, error) {
	switch newStatus {
	case domain.OrderStatusPaid, domain.OrderStatusShipping, domain.OrderStatusCompleted, domain.OrderStatusCancelled:
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid status %q, must be one of: paid, shipping, completed, cancelled", newStatus))
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order for status update: %w", err)
	}

	if newStatus == domain.OrderStatusCancelled {
		if err := s.saga.cancel(ctx, order, domain.CancelReasonOperator); err != nil {
			return nil, err
		}
		return order, nil
	}

	oldStatus := order.Status
	if err := order.TransitionTo(newStatus, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, id, oldStatus, newStatus, ""); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	s.logger.InfoContext(ctx, "order status updated",
		slog.String("order_id", id),
		slog.String("old_status", oldStatus),
		slog.String("new_status", newStatus),
	)
	return order, nil
}

// ValidateWarranty reports whether a warranty claim for productID may be
// filed against an order. Unknown orders and orders of another user are
// both reported as order_not_found.
func (s *OrderService) ValidateWarranty(ctx context.Context, req messages.ValidateWarrantyRequest) (messages.ValidateWarrantyReply, error) {
	if req.OrderID == "" || req.ProductID == "" {
		return messages.ValidateWarrantyReply{}, apperrors.InvalidInput("order_id and product_id are required").
			WithReason(messages.ReasonInvalidRequest)
	}

	order, err := s.repo.GetByID(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return messages.ValidateWarrantyReply{Reason: messages.ReasonOrderNotFound}, nil
		}
		return messages.ValidateWarrantyReply{}, fmt.Errorf("get order for warranty: %w", err)
	}

	switch {
	case req.UserID != "" && order.UserID != req.UserID:
		return messages.ValidateWarrantyReply{Reason: messages.ReasonOrderNotFound}, nil
	case order.Status != domain.OrderStatusCompleted:
		return messages.ValidateWarrantyReply{Reason: messages.ReasonOrderNotCompleted}, nil
	case !order.HasProduct(req.ProductID):
		return messages.ValidateWarrantyReply{Reason: messages.ReasonProductNotInOrder}, nil
	}
	return messages.ValidateWarrantyReply{Valid: true}, nil
}
