package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/pkg/rpc"
)

// QuoteCache stores catalog quotes between requests. It is advisory: every
// failure falls back to asking the catalog.
type QuoteCache interface {
	GetQuotes(ctx context.Context, productIDs []string) (map[string]messages.ProductQuote, error)
	PutQuotes(ctx context.Context, quotes []messages.ProductQuote) error
	Invalidate(ctx context.Context, productID string) error
}

// QuoteLine is one priced line of a quote.
type QuoteLine struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	LineTotal   int64  `json:"line_total"`
	InStock     bool   `json:"in_stock"`
	IsFlashSale bool   `json:"is_flash_sale"`
}

// Quote is a price preview of an order. It reserves nothing.
type Quote struct {
	Lines          []QuoteLine `json:"lines"`
	TotalPrice     int64       `json:"total_price"`
	DiscountAmount int64       `json:"discount_amount"`
	FinalPrice     int64       `json:"final_price"`
	CouponCode     string      `json:"coupon_code,omitempty"`
}

// QuoteService previews order prices.
type QuoteService struct {
	catalog rpc.Caller
	cache   QuoteCache
	coupons *CouponLedger
	timeout time.Duration
	logger  *slog.Logger
}

// NewQuoteService creates a new quote service. cache may be nil.
func NewQuoteService(catalog rpc.Caller, cache QuoteCache, coupons *CouponLedger, timeout time.Duration, logger *slog.Logger) *QuoteService {
	return &QuoteService{
		catalog: catalog,
		cache:   cache,
		coupons: coupons,
		timeout: timeout,
		logger:  logger,
	}
}

// Quote prices items at current catalog prices and applies couponCode when
// given.
func (s *QuoteService) Quote(ctx context.Context, items []OrderLineInput, couponCode string) (*Quote, error) {
	lines, err := mergeOrderLines(items)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	quotes, err := s.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	quote := &Quote{Lines: make([]QuoteLine, len(lines))}
	for i, l := range lines {
		q, ok := quotes[l.ProductID]
		if !ok || !q.Exists {
			return nil, apperrors.NotFound("product", l.ProductID)
		}
		quote.Lines[i] = QuoteLine{
			ProductID:   l.ProductID,
			ProductName: q.Name,
			UnitPrice:   q.Price,
			Quantity:    l.Quantity,
			LineTotal:   q.Price * int64(l.Quantity),
			InStock:     q.Stock >= l.Quantity,
			IsFlashSale: q.IsFlashSale,
		}
		quote.TotalPrice += quote.Lines[i].LineTotal
	}

	if couponCode != "" {
		coupon, discount, err := s.coupons.Validate(ctx, couponCode, quote.TotalPrice)
		if err != nil {
			return nil, err
		}
		quote.CouponCode = coupon.Code
		quote.DiscountAmount = discount
	}
	quote.FinalPrice = quote.TotalPrice - quote.DiscountAmount

	return quote, nil
}

// Invalidate drops the cached quote of a product.
func (s *QuoteService) Invalidate(ctx context.Context, productID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, productID)
}

// lookup serves quotes from the cache and asks the catalog for the rest.
func (s *QuoteService) lookup(ctx context.Context, ids []string) (map[string]messages.ProductQuote, error) {
	quotes := make(map[string]messages.ProductQuote, len(ids))
	missing := ids

	if s.cache != nil {
		cached, err := s.cache.GetQuotes(ctx, ids)
		if err != nil {
			s.logger.WarnContext(ctx, "quote cache lookup failed",
				slog.String("error", err.Error()),
			)
		} else {
			missing = nil
			for _, id := range ids {
				if q, ok := cached[id]; ok {
					quotes[id] = q
				} else {
					missing = append(missing, id)
				}
			}
		}
	}

	if len(missing) == 0 {
		return quotes, nil
	}

	var reply messages.CheckPriceReply
	err := rpc.Invoke(ctx, s.catalog, messages.TopicCatalog, messages.ActionCheckPrice,
		messages.CheckPriceRequest{ProductIDs: missing}, &reply, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("check price: %w", err)
	}
	if reply.Reason != "" {
		return nil, apperrors.ServiceUnavailable("catalog could not price the order: " + reply.Reason)
	}

	for _, q := range reply.Products {
		quotes[q.ID] = q
	}

	if s.cache != nil {
		if err := s.cache.PutQuotes(ctx, reply.Products); err != nil {
			s.logger.WarnContext(ctx, "quote cache store failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return quotes, nil
}
