package repository

import (
	"context"

	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/domain"
)

// ClaimFilter defines filter criteria for listing claims.
type ClaimFilter struct {
	UserID  *string
	OrderID *string
	Status  *string
	Page    int
	PerPage int
}

// ClaimRepository defines the persistence operations for warranty claims.
type ClaimRepository interface {
	// Create inserts a new claim. It fails with a conflict when an open claim
	// already covers the same order and product.
	Create(ctx context.Context, claim *domain.Claim) error

	// GetByID retrieves a claim by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Claim, error)

	// List returns claims matching the filter along with the total count.
	List(ctx context.Context, filter ClaimFilter) ([]domain.Claim, int, error)

	// UpdateStatus moves a claim from one status to another. It fails with an
	// invalid transition error when the stored status is no longer from.
	UpdateStatus(ctx context.Context, claim *domain.Claim, from string) error
}
