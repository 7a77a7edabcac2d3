package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bedive-215/tech-store-sub000/pkg/httputil"
	"github.com/bedive-215/tech-store-sub000/pkg/validator"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/service"
)

// ProductHandler handles HTTP requests for product endpoints.
type ProductHandler struct {
	service *service.ProductService
	logger  *slog.Logger
}

// NewProductHandler creates a new product HTTP handler.
func NewProductHandler(svc *service.ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// FlashSaleRequest is the optional flash sale window of a product.
type FlashSaleRequest struct {
	Price int64     `json:"price" validate:"required,gt=0"`
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required"`
}

func (f *FlashSaleRequest) toInput() *service.FlashSaleInput {
	if f == nil {
		return nil
	}
	return &service.FlashSaleInput{Price: f.Price, Start: f.Start, End: f.End}
}

// CreateProductRequest is the JSON request body for creating a product.
type CreateProductRequest struct {
	Name      string            `json:"name" validate:"required,min=1,max=255"`
	Price     int64             `json:"price" validate:"required,gt=0"`
	Stock     int               `json:"stock" validate:"gte=0"`
	FlashSale *FlashSaleRequest `json:"flash_sale" validate:"omitempty"`
}

// UpdatePriceRequest is the JSON request body for changing a price.
type UpdatePriceRequest struct {
	Price     int64             `json:"price" validate:"required,gt=0"`
	FlashSale *FlashSaleRequest `json:"flash_sale" validate:"omitempty"`
}

// RenameProductRequest is the JSON request body for renaming a product.
type RenameProductRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

// AdjustStockRequest is the JSON request body for adjusting stock.
type AdjustStockRequest struct {
	Delta int `json:"delta" validate:"required"`
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

// --- Handlers ---

// CreateProduct handles POST /api/v1/products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !decode(w, r, &req) {
		return
	}

	product, err := h.service.CreateProduct(r.Context(), service.CreateProductInput{
		Name:      req.Name,
		Price:     req.Price,
		Stock:     req.Stock,
		FlashSale: req.FlashSale.toInput(),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: product})
}

// GetProduct handles GET /api/v1/products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	product, err := h.service.GetProduct(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// ListProducts handles GET /api/v1/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page := 1
	perPage := 20

	if v := r.URL.Query().Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "page must be a valid positive integer"},
			})
			return
		}
		page = p
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		pp, err := strconv.Atoi(v)
		if err != nil || pp < 1 || pp > 100 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "per_page must be a valid integer between 1 and 100"},
			})
			return
		}
		perPage = pp
	}

	products, total, err := h.service.ListProducts(r.Context(), page, perPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse[domain.Product](products, total, page, perPage))
}

// UpdatePrice handles PUT /api/v1/products/{id}/price
func (h *ProductHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdatePriceRequest
	if !decode(w, r, &req) {
		return
	}

	product, err := h.service.UpdatePrice(r.Context(), id.String(), service.UpdatePriceInput{
		Price:     req.Price,
		FlashSale: req.FlashSale.toInput(),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// RenameProduct handles PUT /api/v1/products/{id}/name
func (h *ProductHandler) RenameProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req RenameProductRequest
	if !decode(w, r, &req) {
		return
	}

	product, err := h.service.RenameProduct(r.Context(), id.String(), req.Name)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// AdjustStock handles POST /api/v1/products/{id}/stock
func (h *ProductHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req AdjustStockRequest
	if !decode(w, r, &req) {
		return
	}

	stock, err := h.service.AdjustStock(r.Context(), id.String(), req.Delta)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: domain.StockLevel{ProductID: id.String(), Stock: stock}})
}

// DeleteProduct handles DELETE /api/v1/products/{id}
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
