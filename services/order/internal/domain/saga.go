package domain

import "github.com/bedive-215/tech-store-sub000/pkg/messages"

// SagaState names a step reached by one order-creation attempt. Terminal
// states are counted; they are never persisted.
type SagaState string

// Saga states, in the order a successful attempt passes through them.
const (
	SagaStarted   SagaState = "STARTED"
	SagaPriced    SagaState = "PRICED"
	SagaPersisted SagaState = "PERSISTED"
	SagaReserved  SagaState = "RESERVED"
	SagaConfirmed SagaState = "CONFIRMED"

	SagaPriceFailed   SagaState = "PRICE_FAILED"
	SagaPersistFailed SagaState = "PERSIST_FAILED"
	SagaReserveFailed SagaState = "RESERVE_FAILED"
	SagaCancelled     SagaState = "CANCELLED"
	SagaConfirmFailed SagaState = "CONFIRM_FAILED"
)

// Cancel reasons recorded on orders.
const (
	CancelReasonCustomer = "Cancelled by customer"
	CancelReasonOperator = "Cancelled by operator"
)

// ReasonOrderCancelled is the error reason of a saga whose order was
// cancelled by someone else before it could be confirmed.
const ReasonOrderCancelled = "order_cancelled"

// StockCancelReason builds the cancel reason for a failed reservation.
func StockCancelReason(productID, reason string) string {
	switch {
	case productID == "":
		return "Stock could not be reserved"
	case reason == messages.ReasonNotFound:
		return "Product " + productID + " not found"
	case reason == messages.ReasonInsufficientStock:
		return "Product " + productID + " insufficient stock"
	}
	return "Product " + productID + " could not be reserved"
}

// CouponCancelReason builds the cancel reason for a coupon exhausted between
// validation and redemption.
func CouponCancelReason(code string) string {
	return "Coupon " + code + " no longer available"
}
