// Package messages defines the topics and payloads exchanged between services
// over the bus. Field names are part of the wire contract.
package messages

import "time"

// Request topics. Replies are published on rpc.ReplyTopic(topic).
const (
	TopicCatalog   = "catalog.rpc"
	TopicInventory = "inventory.rpc"
	TopicOrder     = "order.rpc"
)

// Request discriminators carried in the "action" field.
const (
	ActionCheckPrice       = "check_price"
	ActionReserveStock     = "reserve_stock"
	ActionRestoreStock     = "restore_stock"
	ActionValidateWarranty = "validate_warranty"
)

// Broadcast topics. Broadcasts carry no correlation id and expect no reply.
const (
	TopicChangeStock   = "catalog.change_stock"
	TopicChangePrice   = "catalog.change_price"
	TopicChangeName    = "catalog.change_name"
	TopicDeleteProduct = "catalog.delete_product"
)

// Broadcast event kinds.
const (
	EventChangeStock   = "change_stock"
	EventChangePrice   = "change_price"
	EventChangeName    = "change_name"
	EventDeleteProduct = "delete_product"
)

// Failure reasons carried in reply bodies.
const (
	ReasonNotFound          = "not_found"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonInvalidRequest    = "invalid_request"
	ReasonInternal          = "internal_error"

	ReasonOrderNotFound     = "order_not_found"
	ReasonOrderNotCompleted = "order_not_completed"
	ReasonProductNotInOrder = "product_not_in_order"
)

// CheckPriceRequest asks for the authoritative price and stock of products.
type CheckPriceRequest struct {
	ProductIDs []string `json:"product_id"`
}

// ProductQuote is the catalog's view of one product at reply time. Price is
// the flash-sale price while a flash sale is active.
type ProductQuote struct {
	ID          string `json:"id"`
	Exists      bool   `json:"exists"`
	Name        string `json:"name,omitempty"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	IsFlashSale bool   `json:"is_flash_sale"`
}

// CheckPriceReply answers a CheckPriceRequest. Reason is set only when the
// responder failed to evaluate the request.
type CheckPriceReply struct {
	Products []ProductQuote `json:"products"`
	Reason   string         `json:"reason,omitempty"`
}

// StockItem is one line of a reservation or restoration.
type StockItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// StockRequest reserves or restores stock for an order.
type StockRequest struct {
	OrderID string      `json:"order_id"`
	Items   []StockItem `json:"items"`
}

// StockReply answers a StockRequest. ProductID names the item that caused a
// failure.
type StockReply struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

// ValidateWarrantyRequest asks whether a product of an order is eligible for
// a warranty claim.
type ValidateWarrantyRequest struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id,omitempty"`
}

// ValidateWarrantyReply answers a ValidateWarrantyRequest.
type ValidateWarrantyReply struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ProductChanged is the body of every catalog broadcast. Only the field that
// matches Event is set.
type ProductChanged struct {
	Event      string    `json:"event"`
	ProductID  string    `json:"product_id"`
	Stock      *int      `json:"stock,omitempty"`
	Price      *int64    `json:"price,omitempty"`
	Name       *string   `json:"name,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
