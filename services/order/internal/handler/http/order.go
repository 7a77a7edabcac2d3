package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/httputil"
	"github.com/bedive-215/tech-store-sub000/pkg/logger"
	"github.com/bedive-215/tech-store-sub000/pkg/middleware"
	"github.com/bedive-215/tech-store-sub000/pkg/validator"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/repository"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/service"
)

const roleAdmin = "admin"

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orders *service.OrderService
	saga   *service.OrderSaga
	quotes *service.QuoteService
	logger *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(orders *service.OrderService, saga *service.OrderSaga, quotes *service.QuoteService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		saga:   saga,
		quotes: quotes,
		logger: logger,
	}
}

// --- Request DTOs ---

// OrderItemRequest is one requested product.
type OrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=1000"`
}

// CreateOrderRequest is the JSON request body for creating an order.
// Prices come from the catalog, never from the client.
type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	CouponCode      string             `json:"coupon_code" validate:"omitempty,max=64"`
	ShippingAddress *domain.Address    `json:"shipping_address" validate:"omitempty"`
}

// QuoteRequest is the JSON request body for a price preview.
type QuoteRequest struct {
	Items      []OrderItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	CouponCode string             `json:"coupon_code" validate:"omitempty,max=64"`
}

// UpdateStatusRequest is the JSON request body for updating order status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=paid shipping completed cancelled"`
}

func toLines(items []OrderItemRequest) []service.OrderLineInput {
	lines := make([]service.OrderLineInput, len(items))
	for i, item := range items {
		lines[i] = service.OrderLineInput{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return lines
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return false
	}

	if err := validator.Validate(dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}

// ownerScope returns the user an order lookup is restricted to. Admins see
// every order.
func ownerScope(r *http.Request) string {
	if middleware.RoleFromContext(r.Context()) == roleAdmin {
		return ""
	}
	return middleware.UserIDFromContext(r.Context())
}

// --- Handlers ---

// CreateOrder handles POST /api/v1/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}

	order, err := h.saga.CreateOrder(r.Context(), service.CreateOrderInput{
		UserID:          middleware.UserIDFromContext(r.Context()),
		Items:           toLines(req.Items),
		CouponCode:      req.CouponCode,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		var cancelled *domain.CancelledError
		if errors.As(err, &cancelled) {
			h.writeCancelled(w, r, cancelled)
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// writeCancelled answers with the cancelled order alongside the cause, so the
// client learns the id of the order it can no longer complete.
func (h *OrderHandler) writeCancelled(w http.ResponseWriter, r *http.Request, cancelled *domain.CancelledError) {
	cause := cancelled.Err
	if cause == nil {
		cause = apperrors.Conflict("order_cancelled", cancelled.Error())
	}
	httputil.WriteJSON(w, http.StatusConflict, httputil.Response{
		Data: cancelled.Order,
		Error: &httputil.ErrorResponse{
			Code:      "ORDER_CANCELLED",
			Message:   cancelled.Order.CancelReason,
			Reason:    cause.Reason,
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}

// QuoteOrder handles POST /api/v1/orders/quote
func (h *OrderHandler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decode(w, r, &req) {
		return
	}

	quote, err := h.quotes.Quote(r.Context(), toLines(req.Items), req.CouponCode)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: quote})
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := repository.OrderFilter{
		Page:    1,
		PerPage: 20,
	}

	if v := r.URL.Query().Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "page must be a valid positive integer"},
			})
			return
		}
		filter.Page = page
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage < 1 || perPage > 100 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "per_page must be a valid integer between 1 and 100"},
			})
			return
		}
		filter.PerPage = perPage
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}

	if scope := ownerScope(r); scope != "" {
		filter.UserID = &scope
	} else if v := r.URL.Query().Get("user_id"); v != "" {
		filter.UserID = &v
	}

	orders, total, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(orders, total, filter.Page, filter.PerPage))
}

// GetOrder handles GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), ownerScope(r), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// CancelOrder handles POST /api/v1/orders/{id}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.saga.CancelOrder(r.Context(), ownerScope(r), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// UpdateOrderStatus handles PATCH /api/v1/orders/{id}/status
func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decode(w, r, &req) {
		return
	}

	order, err := h.orders.UpdateOrderStatus(r.Context(), id.String(), req.Status)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}
