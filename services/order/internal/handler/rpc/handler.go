// Package rpc exposes order lookups on the bus.
package rpc

import (
	"context"
	"errors"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	pkgrpc "github.com/bedive-215/tech-store-sub000/pkg/rpc"
)

// WarrantyValidator decides whether a product of an order may be claimed.
type WarrantyValidator interface {
	ValidateWarranty(ctx context.Context, req messages.ValidateWarrantyRequest) (messages.ValidateWarrantyReply, error)
}

// Handler answers validate_warranty requests.
type Handler struct {
	warranties WarrantyValidator
}

// NewHandler creates a new RPC handler.
func NewHandler(warranties WarrantyValidator) *Handler {
	return &Handler{warranties: warranties}
}

// Register routes the order actions on r.
func (h *Handler) Register(r *pkgrpc.Responder) {
	r.Handle(messages.TopicOrder, messages.ActionValidateWarranty, h.validateWarranty, validateWarrantyFailure)
}

func (h *Handler) validateWarranty(ctx context.Context, req pkgrpc.Request) (any, error) {
	var in messages.ValidateWarrantyRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	return h.warranties.ValidateWarranty(ctx, in)
}

func validateWarrantyFailure(_ pkgrpc.Request, err error) any {
	reason := messages.ReasonInternal
	if errors.Is(err, apperrors.ErrInvalidInput) {
		reason = messages.ReasonInvalidRequest
	}
	return messages.ValidateWarrantyReply{Valid: false, Reason: reason}
}
