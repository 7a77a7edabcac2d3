package domain

import (
	"fmt"
	"sort"
	"time"
)

// Product is a catalog entry. Prices are in the smallest currency unit.
type Product struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Price          int64      `json:"price"`
	FlashSalePrice *int64     `json:"flash_sale_price,omitempty"`
	FlashSaleStart *time.Time `json:"flash_sale_start,omitempty"`
	FlashSaleEnd   *time.Time `json:"flash_sale_end,omitempty"`
	Stock          int        `json:"stock"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FlashSaleActive reports whether a flash sale price applies at now. The
// window is inclusive of its start and exclusive of its end.
func (p *Product) FlashSaleActive(now time.Time) bool {
	if p.FlashSalePrice == nil || p.FlashSaleStart == nil || p.FlashSaleEnd == nil {
		return false
	}
	return !now.Before(*p.FlashSaleStart) && now.Before(*p.FlashSaleEnd)
}

// EffectivePrice returns the price charged at now and whether it is a flash
// sale price.
func (p *Product) EffectivePrice(now time.Time) (int64, bool) {
	if p.FlashSaleActive(now) {
		return *p.FlashSalePrice, true
	}
	return p.Price, false
}

// StockLine is a requested stock change for one product.
type StockLine struct {
	ProductID string
	Quantity  int
}

// MergeLines sums quantities of repeated products and sorts the result by
// product id so that concurrent transactions lock rows in the same order.
func MergeLines(lines []StockLine) []StockLine {
	totals := make(map[string]int, len(lines))
	for _, l := range lines {
		totals[l.ProductID] += l.Quantity
	}
	merged := make([]StockLine, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ProductID < merged[j].ProductID
	})
	return merged
}

// StockLevel is the stock of a product after a change.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

// StockError reports why a reservation could not be applied.
type StockError struct {
	ProductID string
	Reason    string
}

func (e *StockError) Error() string {
	return fmt.Sprintf("product %s: %s", e.ProductID, e.Reason)
}
