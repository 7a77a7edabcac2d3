package domain

import (
	"slices"
	"time"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
)

// Claim status constants.
const (
	ClaimStatusSubmitted = "submitted"
	ClaimStatusApproved  = "approved"
	ClaimStatusRejected  = "rejected"
	ClaimStatusResolved  = "resolved"
)

// ReasonClaimExists is reported when an open claim already covers the same
// product of the same order.
const ReasonClaimExists = "claim_already_open"

// Claim is a warranty claim for one product of a completed order.
type Claim struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id"`
	UserID      string    `json:"user_id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidStatuses returns all valid claim statuses.
func ValidStatuses() []string {
	return []string{
		ClaimStatusSubmitted,
		ClaimStatusApproved,
		ClaimStatusRejected,
		ClaimStatusResolved,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	return slices.Contains(ValidStatuses(), status)
}

// AllowedTransitions defines which status transitions are valid.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		ClaimStatusSubmitted: {ClaimStatusApproved, ClaimStatusRejected},
		ClaimStatusApproved:  {ClaimStatusResolved},
		ClaimStatusRejected:  {},
		ClaimStatusResolved:  {},
	}
}

// CanTransitionTo checks if the claim can move to the target status.
func (c *Claim) CanTransitionTo(target string) bool {
	return slices.Contains(AllowedTransitions()[c.Status], target)
}

// TransitionTo validates and applies a status change. reason replaces the
// recorded reason when non-empty.
func (c *Claim) TransitionTo(target, reason string, now time.Time) error {
	if !c.CanTransitionTo(target) {
		return apperrors.InvalidTransition("warranty claim", c.Status, target)
	}
	c.Status = target
	if reason != "" {
		c.Reason = reason
	}
	c.UpdatedAt = now
	return nil
}
