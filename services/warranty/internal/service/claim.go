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
	"github.com/bedive-215/tech-store-sub000/pkg/rpc"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/repository"
)

// outcome labels besides the order service's rejection reasons.
const (
	outcomeAccepted = "accepted"
	outcomeError    = "error"
)

var rejectionMessages = map[string]string{
	messages.ReasonOrderNotFound:     "order not found",
	messages.ReasonOrderNotCompleted: "order is not completed",
	messages.ReasonProductNotInOrder: "product is not part of the order",
}

// ClaimService manages warranty claims. Every new claim is checked against
// the order it refers to through the order service.
type ClaimService struct {
	repo    repository.ClaimRepository
	orders  rpc.Caller
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewClaimService creates a new claim service. timeout bounds each
// validate_warranty call; zero selects the caller's default.
func NewClaimService(repo repository.ClaimRepository, orders rpc.Caller, timeout time.Duration, logger *slog.Logger) *ClaimService {
	return &ClaimService{
		repo:    repo,
		orders:  orders,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// SubmitClaimInput holds the parameters for submitting a claim.
type SubmitClaimInput struct {
	UserID      string
	OrderID     string
	ProductID   string
	Description string
}

// SubmitClaim validates the claim with the order service and records it as
// submitted. A refusal is an invalid input error carrying the order
// service's reason.
func (s *ClaimService) SubmitClaim(ctx context.Context, input SubmitClaimInput) (*domain.Claim, error) {
	input.Description = strings.TrimSpace(input.Description)
	switch {
	case input.UserID == "":
		return nil, apperrors.InvalidInput("user_id is required")
	case input.OrderID == "" || input.ProductID == "":
		return nil, apperrors.InvalidInput("order_id and product_id are required")
	case input.Description == "":
		return nil, apperrors.InvalidInput("description is required")
	}

	var reply messages.ValidateWarrantyReply
	err := rpc.Invoke(ctx, s.orders, messages.TopicOrder, messages.ActionValidateWarranty,
		messages.ValidateWarrantyRequest{
			OrderID:   input.OrderID,
			ProductID: input.ProductID,
			UserID:    input.UserID,
		}, &reply, s.timeout)
	if err != nil {
		ClaimSubmissions.WithLabelValues(outcomeError).Inc()
		s.logger.WarnContext(ctx, "warranty validation failed",
			slog.String("order_id", input.OrderID),
			slog.String("product_id", input.ProductID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("validate warranty: %w", err)
	}
	if !reply.Valid {
		reason := reply.Reason
		if reason == "" {
			reason = messages.ReasonInternal
		}
		ClaimSubmissions.WithLabelValues(reason).Inc()
		msg, ok := rejectionMessages[reason]
		if !ok {
			msg = "warranty claim rejected: " + reason
		}
		return nil, apperrors.InvalidInput(msg).WithReason(reason)
	}

	now := s.now().UTC()
	claim := &domain.Claim{
		ID:          uuid.New().String(),
		OrderID:     input.OrderID,
		ProductID:   input.ProductID,
		UserID:      input.UserID,
		Description: input.Description,
		Status:      domain.ClaimStatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, claim); err != nil {
		ClaimSubmissions.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("create warranty claim: %w", err)
	}
	ClaimSubmissions.WithLabelValues(outcomeAccepted).Inc()

	s.logger.InfoContext(ctx, "warranty claim submitted",
		slog.String("claim_id", claim.ID),
		slog.String("order_id", claim.OrderID),
		slog.String("product_id", claim.ProductID),
	)
	return claim, nil
}

// GetClaim retrieves a claim by its ID. A non-empty userID restricts the
// lookup to that user's claims.
func (s *ClaimService) GetClaim(ctx context.Context, userID, id string) (*domain.Claim, error) {
	claim, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get warranty claim: %w", err)
	}
	if userID != "" && claim.UserID != userID {
		return nil, apperrors.NotFound("warranty_claim", id)
	}
	return claim, nil
}

// ListClaims returns a filtered, paginated list of claims.
func (s *ClaimService) ListClaims(ctx context.Context, filter repository.ClaimFilter) ([]domain.Claim, int, error) {
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

	claims, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list warranty claims: %w", err)
	}
	return claims, total, nil
}

// UpdateClaimStatus moves a claim through its review: submitted to approved
// or rejected, approved to resolved.
func (s *ClaimService) UpdateClaimStatus(ctx context.Context, id, status, reason string) (*domain.Claim, error) {
	if !domain.IsValidStatus(status) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid status %q, must be one of: %s",
			status, strings.Join(domain.ValidStatuses(), ", ")))
	}

	claim, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get warranty claim for update: %w", err)
	}

	from := claim.Status
	if err := claim.TransitionTo(status, strings.TrimSpace(reason), s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, claim, from); err != nil {
		return nil, fmt.Errorf("update warranty claim status: %w", err)
	}

	s.logger.InfoContext(ctx, "warranty claim status updated",
		slog.String("claim_id", claim.ID),
		slog.String("from", from),
		slog.String("to", claim.Status),
	)
	return claim, nil
}
