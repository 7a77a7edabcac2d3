// Package rpc exposes the catalog and inventory capabilities on the bus.
package rpc

import (
	"context"
	"errors"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	pkgrpc "github.com/bedive-215/tech-store-sub000/pkg/rpc"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/domain"
)

// PriceChecker quotes products.
type PriceChecker interface {
	CheckPrice(ctx context.Context, ids []string) ([]messages.ProductQuote, error)
}

// StockKeeper reserves and restores stock.
type StockKeeper interface {
	Reserve(ctx context.Context, orderID string, lines []domain.StockLine) ([]domain.StockLevel, error)
	Restore(ctx context.Context, orderID string, lines []domain.StockLine) ([]domain.StockLevel, error)
}

// Handler answers check_price, reserve_stock and restore_stock requests.
type Handler struct {
	prices PriceChecker
	stock  StockKeeper
}

// NewHandler creates a new RPC handler.
func NewHandler(prices PriceChecker, stock StockKeeper) *Handler {
	return &Handler{prices: prices, stock: stock}
}

// Register routes the catalog and inventory actions on r.
func (h *Handler) Register(r *pkgrpc.Responder) {
	r.Handle(messages.TopicCatalog, messages.ActionCheckPrice, h.checkPrice, checkPriceFailure)
	r.Handle(messages.TopicInventory, messages.ActionReserveStock, h.reserveStock, stockFailure)
	r.Handle(messages.TopicInventory, messages.ActionRestoreStock, h.restoreStock, stockFailure)
}

func (h *Handler) checkPrice(ctx context.Context, req pkgrpc.Request) (any, error) {
	var in messages.CheckPriceRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	if len(in.ProductIDs) == 0 {
		return nil, apperrors.InvalidInput("product_id must list at least one product").WithReason(messages.ReasonInvalidRequest)
	}

	quotes, err := h.prices.CheckPrice(ctx, in.ProductIDs)
	if err != nil {
		return nil, err
	}
	return messages.CheckPriceReply{Products: quotes}, nil
}

func (h *Handler) reserveStock(ctx context.Context, req pkgrpc.Request) (any, error) {
	return h.changeStock(ctx, req, h.stock.Reserve)
}

func (h *Handler) restoreStock(ctx context.Context, req pkgrpc.Request) (any, error) {
	return h.changeStock(ctx, req, h.stock.Restore)
}

type stockFunc func(ctx context.Context, orderID string, lines []domain.StockLine) ([]domain.StockLevel, error)

func (h *Handler) changeStock(ctx context.Context, req pkgrpc.Request, apply stockFunc) (any, error) {
	var in messages.StockRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}

	lines := make([]domain.StockLine, len(in.Items))
	for i, item := range in.Items {
		lines[i] = domain.StockLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	if _, err := apply(ctx, in.OrderID, lines); err != nil {
		var stockErr *domain.StockError
		if errors.As(err, &stockErr) {
			return messages.StockReply{
				Success:   false,
				OrderID:   in.OrderID,
				Reason:    stockErr.Reason,
				ProductID: stockErr.ProductID,
			}, nil
		}
		return nil, err
	}
	return messages.StockReply{Success: true, OrderID: in.OrderID}, nil
}

func checkPriceFailure(_ pkgrpc.Request, err error) any {
	return messages.CheckPriceReply{Products: []messages.ProductQuote{}, Reason: failureReason(err)}
}

func stockFailure(req pkgrpc.Request, err error) any {
	var in messages.StockRequest
	_ = req.Decode(&in)
	return messages.StockReply{Success: false, OrderID: in.OrderID, Reason: failureReason(err)}
}

// failureReason maps validation failures to invalid_request and everything
// else to internal_error.
func failureReason(err error) string {
	if errors.Is(err, apperrors.ErrInvalidInput) {
		return messages.ReasonInvalidRequest
	}
	return messages.ReasonInternal
}
