package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/pkg/rpc"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/repository"
)

const tracerName = "github.com/bedive-215/tech-store-sub000/services/order/internal/service"

// EventPublisher records order lifecycle events. Failures are logged by the
// caller and never undo the change they describe.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *domain.Order) error
	PublishOrderConfirmed(ctx context.Context, order *domain.Order) error
	PublishOrderCancelled(ctx context.Context, orderID, reason string) error
}

// SagaDeps groups the collaborators of an OrderSaga.
type SagaDeps struct {
	Orders    repository.OrderRepository
	Coupons   *CouponLedger
	Tx        Transactor
	Catalog   rpc.Caller
	Inventory rpc.Caller
	Events    EventPublisher

	// CallTimeout bounds each remote call. Zero selects the caller's default.
	CallTimeout time.Duration
}

// OrderSaga creates orders by pricing them with the catalog, persisting them,
// reserving stock and finally confirming them with any coupon redeemed. Each
// step starts only after the previous one committed. Once the order row
// exists, a failure leaves it cancelled with a reason instead of removing it.
type OrderSaga struct {
	orders    repository.OrderRepository
	coupons   *CouponLedger
	tx        Transactor
	catalog   rpc.Caller
	inventory rpc.Caller
	events    EventPublisher
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrderSaga creates a new order saga.
func NewOrderSaga(deps SagaDeps, logger *slog.Logger) *OrderSaga {
	return &OrderSaga{
		orders:    deps.Orders,
		coupons:   deps.Coupons,
		tx:        deps.Tx,
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		events:    deps.Events,
		timeout:   deps.CallTimeout,
		logger:    logger,
		now:       time.Now,
	}
}

// OrderLineInput is one requested product.
type OrderLineInput struct {
	ProductID string
	Quantity  int
}

// CreateOrderInput holds the parameters for creating an order.
type CreateOrderInput struct {
	UserID          string
	Items           []OrderLineInput
	CouponCode      string
	ShippingAddress *domain.Address
}

// CreateOrder runs the order-creation saga and returns the confirmed order.
//
// Failures before the order is persisted leave nothing behind. When stock
// cannot be reserved, or the coupon ran out before it could be redeemed, the
// persisted order is cancelled and a *domain.CancelledError carrying it is
// returned.
func (s *OrderSaga) CreateOrder(ctx context.Context, input CreateOrderInput) (order *domain.Order, err error) {
	if input.UserID == "" {
		return nil, apperrors.InvalidInput("user_id is required")
	}
	lines, err := mergeOrderLines(input.Items)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "saga.create_order",
		trace.WithAttributes(attribute.String("user_id", input.UserID)),
	)
	defer span.End()

	start := time.Now()
	state := domain.SagaStarted
	advance := func(next domain.SagaState) {
		state = next
		span.AddEvent(string(next))
	}
	defer func() { s.finish(ctx, span, state, start, err) }()

	// STARTED -> PRICED
	quotes, err := s.price(ctx, lines)
	if err != nil {
		advance(domain.SagaPriceFailed)
		return nil, err
	}
	advance(domain.SagaPriced)

	// PRICED -> PERSISTED
	order, err = s.buildOrder(ctx, input, lines, quotes)
	if err != nil {
		advance(domain.SagaPersistFailed)
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.orders.Create(ctx, order)
	})
	if err != nil {
		advance(domain.SagaPersistFailed)
		return nil, fmt.Errorf("persist order: %w", err)
	}
	advance(domain.SagaPersisted)
	span.SetAttributes(attribute.String("order_id", order.ID))

	if err := s.events.PublishOrderCreated(ctx, order); err != nil {
		s.logEventFailure(ctx, order.ID, "order.created", err)
	}

	// PERSISTED -> RESERVED
	if err := s.reserve(ctx, order); err != nil {
		var cancelled *domain.CancelledError
		if errors.As(err, &cancelled) {
			advance(domain.SagaCancelled)
		} else {
			advance(domain.SagaReserveFailed)
		}
		return nil, err
	}
	advance(domain.SagaReserved)

	// RESERVED -> CONFIRMED
	if err := s.confirm(ctx, order); err != nil {
		var cancelled *domain.CancelledError
		if errors.As(err, &cancelled) {
			advance(domain.SagaCancelled)
		} else {
			advance(domain.SagaConfirmFailed)
		}
		return nil, err
	}
	advance(domain.SagaConfirmed)

	if err := s.events.PublishOrderConfirmed(ctx, order); err != nil {
		s.logEventFailure(ctx, order.ID, "order.confirmed", err)
	}

	return order, nil
}

// CancelOrder cancels a pending order on behalf of its owner. An empty
// userID skips the ownership check.
func (s *OrderSaga) CancelOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order for cancel: %w", err)
	}
	if userID != "" && order.UserID != userID {
		return nil, apperrors.NotFound("order", orderID)
	}
	if order.Status != domain.OrderStatusPending {
		return nil, apperrors.InvalidTransition("order", order.Status, domain.OrderStatusCancelled)
	}

	if err := s.cancel(ctx, order, domain.CancelReasonCustomer); err != nil {
		return nil, err
	}
	return order, nil
}

// cancel reverses a saga: it marks the order cancelled, gives back a redeemed
// coupon and returns its stock to the inventory. The status write only wins
// while the order still holds the status it was read with, so each order is
// compensated at most once.
func (s *OrderSaga) cancel(ctx context.Context, order *domain.Order, reason string) error {
	if !order.CanTransitionTo(domain.OrderStatusCancelled) {
		return apperrors.InvalidTransition("order", order.Status, domain.OrderStatusCancelled)
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateStatus(ctx, order.ID, order.Status, domain.OrderStatusCancelled, reason); err != nil {
			return err
		}
		if !order.CouponRedeemed || order.CouponID == nil {
			return nil
		}
		if err := s.coupons.Restore(ctx, *order.CouponID); err != nil {
			return err
		}
		return s.orders.SetCouponRedeemed(ctx, order.ID, false)
	})
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	order.Status = domain.OrderStatusCancelled
	order.CancelReason = reason
	order.CouponRedeemed = false
	order.UpdatedAt = s.now().UTC()

	s.restoreStock(ctx, order)

	if err := s.events.PublishOrderCancelled(ctx, order.ID, reason); err != nil {
		s.logEventFailure(ctx, order.ID, "order.cancelled", err)
	}

	s.logger.InfoContext(ctx, "order cancelled",
		slog.String("order_id", order.ID),
		slog.String("reason", reason),
	)
	return nil
}

func (s *OrderSaga) price(ctx context.Context, lines []OrderLineInput) (map[string]messages.ProductQuote, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	var reply messages.CheckPriceReply
	err := rpc.Invoke(ctx, s.catalog, messages.TopicCatalog, messages.ActionCheckPrice,
		messages.CheckPriceRequest{ProductIDs: ids}, &reply, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("check price: %w", err)
	}
	if reply.Reason != "" {
		return nil, apperrors.ServiceUnavailable("catalog could not price the order: " + reply.Reason)
	}

	quotes := make(map[string]messages.ProductQuote, len(reply.Products))
	for _, q := range reply.Products {
		quotes[q.ID] = q
	}

	for _, l := range lines {
		q, ok := quotes[l.ProductID]
		if !ok || !q.Exists {
			return nil, apperrors.NotFound("product", l.ProductID)
		}
		if q.Stock < l.Quantity {
			return nil, apperrors.Conflict(messages.ReasonInsufficientStock,
				domain.StockCancelReason(l.ProductID, messages.ReasonInsufficientStock))
		}
	}
	return quotes, nil
}

func (s *OrderSaga) buildOrder(ctx context.Context, input CreateOrderInput, lines []OrderLineInput, quotes map[string]messages.ProductQuote) (*domain.Order, error) {
	now := s.now().UTC()
	order := &domain.Order{
		ID:              uuid.New().String(),
		UserID:          input.UserID,
		Status:          domain.OrderStatusPending,
		Items:           make([]domain.OrderItem, len(lines)),
		ShippingAddress: input.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for i, l := range lines {
		q := quotes[l.ProductID]
		order.Items[i] = domain.OrderItem{
			ID:          uuid.New().String(),
			OrderID:     order.ID,
			ProductID:   l.ProductID,
			ProductName: q.Name,
			UnitPrice:   q.Price,
			Quantity:    l.Quantity,
		}
		order.TotalPrice += order.Items[i].LineTotal()
	}

	if input.CouponCode != "" {
		coupon, discount, err := s.coupons.Validate(ctx, input.CouponCode, order.TotalPrice)
		if err != nil {
			return nil, err
		}
		order.CouponID = &coupon.ID
		order.CouponCode = coupon.Code
		order.DiscountAmount = discount
	}
	order.FinalPrice = order.TotalPrice - order.DiscountAmount

	return order, nil
}

// reserve asks the inventory service to reserve the order's stock. A refused
// reservation cancels the order; nothing needs compensating because nothing
// after persistence has happened yet.
func (s *OrderSaga) reserve(ctx context.Context, order *domain.Order) error {
	var reply messages.StockReply
	err := rpc.Invoke(ctx, s.inventory, messages.TopicInventory, messages.ActionReserveStock,
		stockRequest(order), &reply, s.timeout)
	if err != nil {
		// The inventory service may still complete the reservation after we
		// stop waiting, so the stock it holds for this order is unknown.
		s.logger.ErrorContext(ctx, "stock reservation did not complete, order needs reconciliation",
			slog.String("order_id", order.ID),
			slog.Any("items", stockRequest(order).Items),
			slog.String("error", err.Error()),
		)
		return s.abort(ctx, order, "Stock reservation did not complete", asAppError(err))
	}

	if !reply.Success {
		reason := domain.StockCancelReason(reply.ProductID, reply.Reason)
		var cause *apperrors.AppError
		switch reply.Reason {
		case messages.ReasonInsufficientStock:
			cause = apperrors.Conflict(messages.ReasonInsufficientStock, reason)
		case messages.ReasonNotFound:
			cause = apperrors.NotFound("product", reply.ProductID)
		default:
			cause = apperrors.ServiceUnavailable("inventory could not reserve stock: " + reply.Reason)
		}
		return s.abort(ctx, order, reason, cause)
	}
	return nil
}

// abort cancels an order whose stock was never reserved.
func (s *OrderSaga) abort(ctx context.Context, order *domain.Order, reason string, cause *apperrors.AppError) error {
	err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled, reason)
	if errors.Is(err, apperrors.ErrInvalidState) {
		// The cancel that got there first already sent a stock restore for
		// a reservation that did not happen.
		s.logger.ErrorContext(ctx, "order cancelled during a failed reservation, stock needs reconciliation",
			slog.String("order_id", order.ID),
			slog.Any("items", stockRequest(order).Items),
			slog.String("reservation_error", cause.Error()),
		)
		return s.cancelledElsewhere(ctx, order, cause, err)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to cancel order after reservation failure",
			slog.String("order_id", order.ID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("cancel order %s: %w", order.ID, err)
	}

	order.Status = domain.OrderStatusCancelled
	order.CancelReason = reason
	order.UpdatedAt = s.now().UTC()

	if err := s.events.PublishOrderCancelled(ctx, order.ID, reason); err != nil {
		s.logEventFailure(ctx, order.ID, "order.cancelled", err)
	}
	return &domain.CancelledError{Order: order, Err: cause}
}

// cancelledElsewhere reloads an order whose status write lost to a
// concurrent cancel. The winner owns the compensation, so nothing is
// undone here. transitionErr is returned when the order was not cancelled
// after all.
func (s *OrderSaga) cancelledElsewhere(ctx context.Context, order *domain.Order, cause *apperrors.AppError, transitionErr error) error {
	stored, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("reload order %s: %w", order.ID, err)
	}
	if stored.Status != domain.OrderStatusCancelled {
		return transitionErr
	}
	*order = *stored

	s.logger.InfoContext(ctx, "order was cancelled while its saga was running",
		slog.String("order_id", order.ID),
		slog.String("reason", order.CancelReason),
	)
	return &domain.CancelledError{Order: order, Err: cause}
}

// confirm marks the order confirmed and redeems its coupon in one local
// transaction.
func (s *OrderSaga) confirm(ctx context.Context, order *domain.Order) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusConfirmed, ""); err != nil {
			return err
		}
		if order.CouponID == nil {
			return nil
		}
		if err := s.coupons.Redeem(ctx, *order.CouponID); err != nil {
			return err
		}
		return s.orders.SetCouponRedeemed(ctx, order.ID, true)
	})

	if err == nil {
		order.Status = domain.OrderStatusConfirmed
		order.CouponRedeemed = order.CouponID != nil
		order.UpdatedAt = s.now().UTC()
		s.logger.InfoContext(ctx, "order confirmed",
			slog.String("order_id", order.ID),
			slog.Int64("final_price", order.FinalPrice),
		)
		return nil
	}

	if errors.Is(err, apperrors.ErrInvalidState) {
		return s.cancelledElsewhere(ctx, order,
			apperrors.Conflict(domain.ReasonOrderCancelled, "order was cancelled before it could be confirmed"), err)
	}

	if apperrors.ReasonOf(err) == domain.ReasonCouponNoQuantity {
		reason := domain.CouponCancelReason(order.CouponCode)
		if cancelErr := s.cancel(ctx, order, reason); cancelErr != nil {
			return cancelErr
		}
		return &domain.CancelledError{
			Order: order,
			Err:   apperrors.Conflict(domain.ReasonCouponNoQuantity, reason),
		}
	}

	// TODO(reconciliation): stock is reserved but the order is still pending.
	// A sweeper should find pending orders older than the saga budget and
	// either confirm them or cancel them with a stock restore.
	s.logger.ErrorContext(ctx, "order confirmation failed after stock was reserved",
		slog.String("order_id", order.ID),
		slog.Any("items", stockRequest(order).Items),
		slog.String("error", err.Error()),
	)
	return apperrors.ServiceUnavailable("order could not be confirmed").WithReason("order_confirm_failed")
}

// restoreStock returns an order's stock. A failure cannot be undone here and
// is logged for reconciliation.
func (s *OrderSaga) restoreStock(ctx context.Context, order *domain.Order) {
	var reply messages.StockReply
	err := rpc.Invoke(ctx, s.inventory, messages.TopicInventory, messages.ActionRestoreStock,
		stockRequest(order), &reply, s.timeout)
	switch {
	case err != nil:
		s.logger.ErrorContext(ctx, "stock restore failed, order needs reconciliation",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	case !reply.Success:
		s.logger.ErrorContext(ctx, "stock restore refused, order needs reconciliation",
			slog.String("order_id", order.ID),
			slog.String("product_id", reply.ProductID),
			slog.String("reason", reply.Reason),
		)
	}
}

func (s *OrderSaga) finish(ctx context.Context, span trace.Span, state domain.SagaState, start time.Time, err error) {
	SagaOutcomes.WithLabelValues(string(state)).Inc()
	SagaDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())

	span.SetAttributes(attribute.String("saga.state", string(state)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(state))
	}

	attrs := []any{
		slog.String("state", string(state)),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("reason", apperrors.ReasonOf(err)))
	}
	s.logger.InfoContext(ctx, "order saga finished", attrs...)
}

func (s *OrderSaga) logEventFailure(ctx context.Context, orderID, event string, err error) {
	s.logger.ErrorContext(ctx, "failed to publish "+event+" event",
		slog.String("order_id", orderID),
		slog.String("error", err.Error()),
	)
}

func stockRequest(order *domain.Order) messages.StockRequest {
	items := make([]messages.StockItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = messages.StockItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return messages.StockRequest{OrderID: order.ID, Items: items}
}

// mergeOrderLines validates items and sums repeated products. Lines are
// sorted by product id.
func mergeOrderLines(items []OrderLineInput) ([]OrderLineInput, error) {
	if len(items) == 0 {
		return nil, apperrors.InvalidInput("order must contain at least one item")
	}

	totals := make(map[string]int, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return nil, apperrors.InvalidInput("product_id is required")
		}
		if item.Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("quantity of product %s must be positive", item.ProductID))
		}
		totals[item.ProductID] += item.Quantity
	}

	lines := make([]OrderLineInput, 0, len(totals))
	for id, qty := range totals {
		lines = append(lines, OrderLineInput{ProductID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].ProductID < lines[j].ProductID
	})
	return lines, nil
}

func asAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.ServiceUnavailable(err.Error())
}
