package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bedive-215/tech-store-sub000/pkg/httputil"
	"github.com/bedive-215/tech-store-sub000/pkg/middleware"
	"github.com/bedive-215/tech-store-sub000/pkg/validator"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/repository"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/service"
)

const roleAdmin = "admin"

// ClaimHandler handles HTTP requests for warranty claim endpoints.
type ClaimHandler struct {
	claims *service.ClaimService
	logger *slog.Logger
}

// NewClaimHandler creates a new claim HTTP handler.
func NewClaimHandler(claims *service.ClaimService, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{
		claims: claims,
		logger: logger,
	}
}

// SubmitClaimRequest is the JSON request body for submitting a claim.
type SubmitClaimRequest struct {
	OrderID     string `json:"order_id" validate:"required,uuid"`
	ProductID   string `json:"product_id" validate:"required,uuid"`
	Description string `json:"description" validate:"required,min=10,max=2000"`
}

// UpdateClaimStatusRequest is the JSON request body for reviewing a claim.
type UpdateClaimStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected resolved"`
	Reason string `json:"reason" validate:"omitempty,max=1000"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
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

// ownerScope returns the user a claim lookup is restricted to. Admins see
// every claim.
func ownerScope(r *http.Request) string {
	if middleware.RoleFromContext(r.Context()) == roleAdmin {
		return ""
	}
	return middleware.UserIDFromContext(r.Context())
}

// SubmitClaim handles POST /api/v1/warranties
func (h *ClaimHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	var req SubmitClaimRequest
	if !decode(w, r, &req) {
		return
	}

	claim, err := h.claims.SubmitClaim(r.Context(), service.SubmitClaimInput{
		UserID:      middleware.UserIDFromContext(r.Context()),
		OrderID:     req.OrderID,
		ProductID:   req.ProductID,
		Description: req.Description,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: claim})
}

// ListClaims handles GET /api/v1/warranties
func (h *ClaimHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	filter := repository.ClaimFilter{Page: 1, PerPage: 20}
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "page must be a valid positive integer"},
			})
			return
		}
		filter.Page = page
	}
	if v := q.Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage < 1 || perPage > 100 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "per_page must be a valid integer between 1 and 100"},
			})
			return
		}
		filter.PerPage = perPage
	}
	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}
	if v := q.Get("order_id"); v != "" {
		filter.OrderID = &v
	}
	if scope := ownerScope(r); scope != "" {
		filter.UserID = &scope
	} else if v := q.Get("user_id"); v != "" {
		filter.UserID = &v
	}

	claims, total, err := h.claims.ListClaims(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(claims, total, filter.Page, filter.PerPage))
}

// GetClaim handles GET /api/v1/warranties/{id}
func (h *ClaimHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	claim, err := h.claims.GetClaim(r.Context(), ownerScope(r), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: claim})
}

// UpdateClaimStatus handles PATCH /api/v1/warranties/{id}/status
func (h *ClaimHandler) UpdateClaimStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateClaimStatusRequest
	if !decode(w, r, &req) {
		return
	}

	claim, err := h.claims.UpdateClaimStatus(r.Context(), id.String(), req.Status, req.Reason)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: claim})
}
