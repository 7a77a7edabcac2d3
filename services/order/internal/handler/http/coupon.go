package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bedive-215/tech-store-sub000/pkg/httputil"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/service"
)

// CouponHandler handles HTTP requests for coupon endpoints.
type CouponHandler struct {
	ledger *service.CouponLedger
	logger *slog.Logger
}

// NewCouponHandler creates a new coupon HTTP handler.
func NewCouponHandler(ledger *service.CouponLedger, logger *slog.Logger) *CouponHandler {
	return &CouponHandler{
		ledger: ledger,
		logger: logger,
	}
}

// CreateCouponRequest is the JSON request body for creating a coupon.
type CreateCouponRequest struct {
	Code          string    `json:"code" validate:"required,min=3,max=64,alphanum"`
	DiscountType  string    `json:"discount_type" validate:"required,oneof=PERCENT FIXED"`
	DiscountValue int64     `json:"discount_value" validate:"required,gt=0"`
	MaxDiscount   *int64    `json:"max_discount" validate:"omitempty,gt=0"`
	MinOrderValue int64     `json:"min_order_value" validate:"gte=0"`
	Quantity      int       `json:"quantity" validate:"gte=0"`
	StartAt       time.Time `json:"start_at" validate:"required"`
	EndAt         time.Time `json:"end_at" validate:"required,gtfield=StartAt"`
}

// ValidateCouponRequest is the JSON request body for checking a coupon.
type ValidateCouponRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	TotalAmount int64  `json:"total_amount" validate:"gte=0"`
}

// CouponValidation is the result of a coupon check.
type CouponValidation struct {
	Coupon         *domain.Coupon `json:"coupon"`
	DiscountAmount int64          `json:"discount_amount"`
	FinalAmount    int64          `json:"final_amount"`
}

// CreateCoupon handles POST /api/v1/coupons
func (h *CouponHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req CreateCouponRequest
	if !decode(w, r, &req) {
		return
	}

	coupon, err := h.ledger.Create(r.Context(), service.CreateCouponInput{
		Code:          req.Code,
		DiscountType:  domain.DiscountType(req.DiscountType),
		DiscountValue: req.DiscountValue,
		MaxDiscount:   req.MaxDiscount,
		MinOrderValue: req.MinOrderValue,
		Quantity:      req.Quantity,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: coupon})
}

// ValidateCoupon handles POST /api/v1/coupons/validate
func (h *CouponHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req ValidateCouponRequest
	if !decode(w, r, &req) {
		return
	}

	coupon, discount, err := h.ledger.Validate(r.Context(), req.Code, req.TotalAmount)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: CouponValidation{
		Coupon:         coupon,
		DiscountAmount: discount,
		FinalAmount:    req.TotalAmount - discount,
	}})
}
