package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bedive-215/tech-store-sub000/pkg/bus/bustest"
	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/pkg/rpc"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/repository"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- In-memory store with transactions ---

type txKey struct{}

// memStore holds orders and coupons. Transactions are serialized, which
// stands in for the row locks of the postgres implementation, and roll back
// by restoring a snapshot.
type memStore struct {
	txMu sync.Mutex

	mu      sync.Mutex
	orders  map[string]domain.Order
	coupons map[string]domain.Coupon

	// failStatus makes UpdateStatus fail for the given target status.
	failStatus map[string]error
	createErr  error
}

func newMemStore() *memStore {
	return &memStore{
		orders:     make(map[string]domain.Order),
		coupons:    make(map[string]domain.Coupon),
		failStatus: make(map[string]error),
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	orders := make(map[string]domain.Order, len(s.orders))
	for k, v := range s.orders {
		orders[k] = v
	}
	coupons := make(map[string]domain.Coupon, len(s.coupons))
	for k, v := range s.coupons {
		coupons[k] = v
	}
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.orders = orders
		s.coupons = coupons
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) order(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) coupon(id string) domain.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons[id]
}

func (s *memStore) putCoupon(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.ID] = c
}

func (s *memStore) putOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

type memOrderRepo struct{ s *memStore }

func (r memOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createErr != nil {
		return r.s.createErr
	}
	stored := *o
	stored.Items = append([]domain.OrderItem(nil), o.Items...)
	r.s.orders[o.ID] = stored
	return nil
}

func (r memOrderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return &o, nil
}

func (r memOrderRepo) List(_ context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, o := range r.s.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r memOrderRepo) UpdateStatus(_ context.Context, id, from, to, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failStatus[to]; err != nil {
		return err
	}
	o, ok := r.s.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	if o.Status != from {
		return apperrors.InvalidTransition("order", o.Status, to)
	}
	o.Status = to
	o.CancelReason = reason
	r.s.orders[id] = o
	return nil
}

func (r memOrderRepo) SetCouponRedeemed(_ context.Context, id string, redeemed bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	o.CouponRedeemed = redeemed
	r.s.orders[id] = o
	return nil
}

type memCouponRepo struct{ s *memStore }

func (r memCouponRepo) Create(_ context.Context, c *domain.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.coupons {
		if existing.Code == c.Code {
			return apperrors.Conflict("coupon_code_taken", "coupon already exists")
		}
	}
	r.s.coupons[c.ID] = *c
	return nil
}

func (r memCouponRepo) GetByCode(_ context.Context, code string) (*domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, apperrors.NotFound("coupon", code)
}

func (r memCouponRepo) LockByID(ctx context.Context, id string) (*domain.Coupon, error) {
	if ctx.Value(txKey{}) == nil {
		return nil, errors.New("lock coupon: no transaction in context")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.coupons[id]
	if !ok {
		return nil, apperrors.NotFound("coupon", id)
	}
	return &c, nil
}

func (r memCouponRepo) SetQuantity(_ context.Context, id string, quantity int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.coupons[id]
	if !ok {
		return apperrors.NotFound("coupon", id)
	}
	c.Quantity = quantity
	r.s.coupons[id] = c
	return nil
}

// --- Catalog responder over the in-memory bus ---

type fakeProduct struct {
	name  string
	price int64
	stock int
}

// fakeCatalog answers check_price, reserve_stock and restore_stock the way
// the catalog service does.
type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]*fakeProduct
	restored int

	// onReserve runs before a reservation is evaluated.
	onReserve func()
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: make(map[string]*fakeProduct)}
}

func (c *fakeCatalog) add(id, name string, price int64, stock int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[id] = &fakeProduct{name: name, price: price, stock: stock}
}

func (c *fakeCatalog) setStock(id string, stock int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[id].stock = stock
}

func (c *fakeCatalog) stock(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.products[id].stock
}

func (c *fakeCatalog) restores() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restored
}

func (c *fakeCatalog) checkPrice(_ context.Context, req rpc.Request) (any, error) {
	var in messages.CheckPriceRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	reply := messages.CheckPriceReply{Products: make([]messages.ProductQuote, 0, len(in.ProductIDs))}
	for _, id := range in.ProductIDs {
		p, ok := c.products[id]
		if !ok {
			reply.Products = append(reply.Products, messages.ProductQuote{ID: id})
			continue
		}
		reply.Products = append(reply.Products, messages.ProductQuote{
			ID: id, Exists: true, Name: p.name, Price: p.price, Stock: p.stock,
		})
	}
	return reply, nil
}

func (c *fakeCatalog) reserve(_ context.Context, req rpc.Request) (any, error) {
	var in messages.StockRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	if c.onReserve != nil {
		c.onReserve()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range in.Items {
		p, ok := c.products[item.ProductID]
		if !ok {
			return messages.StockReply{OrderID: in.OrderID, Reason: messages.ReasonNotFound, ProductID: item.ProductID}, nil
		}
		if p.stock < item.Quantity {
			return messages.StockReply{OrderID: in.OrderID, Reason: messages.ReasonInsufficientStock, ProductID: item.ProductID}, nil
		}
	}
	for _, item := range in.Items {
		c.products[item.ProductID].stock -= item.Quantity
	}
	return messages.StockReply{Success: true, OrderID: in.OrderID}, nil
}

func (c *fakeCatalog) restore(_ context.Context, req rpc.Request) (any, error) {
	var in messages.StockRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range in.Items {
		if p, ok := c.products[item.ProductID]; ok {
			p.stock += item.Quantity
		}
	}
	c.restored++
	return messages.StockReply{Success: true, OrderID: in.OrderID}, nil
}

// --- Event recorder ---

type recordedEvent struct {
	kind    string
	orderID string
	reason  string
}

type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEvents) add(e recordedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) PublishOrderCreated(_ context.Context, o *domain.Order) error {
	return r.add(recordedEvent{kind: "created", orderID: o.ID})
}

func (r *recordingEvents) PublishOrderConfirmed(_ context.Context, o *domain.Order) error {
	return r.add(recordedEvent{kind: "confirmed", orderID: o.ID})
}

func (r *recordingEvents) PublishOrderCancelled(_ context.Context, orderID, reason string) error {
	return r.add(recordedEvent{kind: "cancelled", orderID: orderID, reason: reason})
}

func (r *recordingEvents) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

// --- Fixture ---

type sagaFixture struct {
	bus     *bustest.Bus
	store   *memStore
	catalog *fakeCatalog
	events  *recordingEvents
	ledger  *CouponLedger
	saga    *OrderSaga
	orders  *OrderService
}

type fixtureOptions struct {
	timeout         time.Duration
	withoutCatalog  bool
	withoutStockRPC bool
}

func newSagaFixture(t *testing.T, opts fixtureOptions) *sagaFixture {
	t.Helper()
	if opts.timeout == 0 {
		opts.timeout = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := newTestLogger()
	b := bustest.New()
	catalog := newFakeCatalog()

	responder := rpc.NewResponder(b, logger)
	if !opts.withoutCatalog {
		responder.Handle(messages.TopicCatalog, messages.ActionCheckPrice, catalog.checkPrice, nil)
	}
	if !opts.withoutStockRPC {
		responder.Handle(messages.TopicInventory, messages.ActionReserveStock, catalog.reserve, nil)
		responder.Handle(messages.TopicInventory, messages.ActionRestoreStock, catalog.restore, nil)
	}
	require.NoError(t, responder.Listen(ctx))

	client := rpc.NewClient(b, logger, rpc.WithDefaultTimeout(opts.timeout))
	store := newMemStore()
	events := &recordingEvents{}
	ledger := NewCouponLedger(memCouponRepo{store}, store, logger)

	saga := NewOrderSaga(SagaDeps{
		Orders:      memOrderRepo{store},
		Coupons:     ledger,
		Tx:          store,
		Catalog:     client,
		Inventory:   client,
		Events:      events,
		CallTimeout: opts.timeout,
	}, logger)

	return &sagaFixture{
		bus:     b,
		store:   store,
		catalog: catalog,
		events:  events,
		ledger:  ledger,
		saga:    saga,
		orders:  NewOrderService(memOrderRepo{store}, saga, logger),
	}
}

func sampleCoupon(code string, quantity int) domain.Coupon {
	now := time.Now().UTC()
	return domain.Coupon{
		ID:            "coupon-" + code,
		Code:          code,
		DiscountType:  domain.DiscountPercent,
		DiscountValue: 10,
		MinOrderValue: 1000,
		Quantity:      quantity,
		StartAt:       now.Add(-time.Hour),
		EndAt:         now.Add(time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
