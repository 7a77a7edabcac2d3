package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/domain"
)

func newTestLedger() (*CouponLedger, *memStore) {
	store := newMemStore()
	return NewCouponLedger(memCouponRepo{store}, store, newTestLogger()), store
}

func TestCouponLedger_Create(t *testing.T) {
	ledger, store := newTestLedger()
	start := time.Now().Add(-time.Hour)

	coupon, err := ledger.Create(context.Background(), CreateCouponInput{
		Code:          " spring20 ",
		DiscountType:  domain.DiscountPercent,
		DiscountValue: 20,
		Quantity:      10,
		StartAt:       start,
		EndAt:         start.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "SPRING20", coupon.Code)
	assert.NotEmpty(t, coupon.ID)
	assert.Equal(t, 10, store.coupon(coupon.ID).Quantity)
}

func TestCouponLedger_CreateValidation(t *testing.T) {
	ledger, _ := newTestLedger()
	start := time.Now()
	valid := CreateCouponInput{
		Code:          "OK",
		DiscountType:  domain.DiscountFixed,
		DiscountValue: 500,
		Quantity:      1,
		StartAt:       start,
		EndAt:         start.Add(time.Hour),
	}

	tests := []struct {
		name   string
		mutate func(in *CreateCouponInput)
	}{
		{"empty code", func(in *CreateCouponInput) { in.Code = "  " }},
		{"unknown type", func(in *CreateCouponInput) { in.DiscountType = "BOGO" }},
		{"zero value", func(in *CreateCouponInput) { in.DiscountValue = 0 }},
		{"percent over 100", func(in *CreateCouponInput) {
			in.DiscountType = domain.DiscountPercent
			in.DiscountValue = 150
		}},
		{"negative quantity", func(in *CreateCouponInput) { in.Quantity = -1 }},
		{"end before start", func(in *CreateCouponInput) { in.EndAt = in.StartAt.Add(-time.Minute) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := ledger.Create(context.Background(), in)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestCouponLedger_Validate(t *testing.T) {
	ledger, store := newTestLedger()
	store.putCoupon(sampleCoupon("SAVE10", 1))
	empty := sampleCoupon("EMPTY", 0)
	store.putCoupon(empty)

	coupon, discount, err := ledger.Validate(context.Background(), "SAVE10", 5000)
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", coupon.Code)
	assert.Equal(t, int64(500), discount)

	_, _, err = ledger.Validate(context.Background(), "SAVE10", 999)
	assert.Equal(t, domain.ReasonCouponMinNotMet, apperrors.ReasonOf(err))

	_, _, err = ledger.Validate(context.Background(), "EMPTY", 5000)
	assert.Equal(t, domain.ReasonCouponNoQuantity, apperrors.ReasonOf(err))

	_, _, err = ledger.Validate(context.Background(), "MISSING", 5000)
	assert.Equal(t, domain.ReasonCouponNotFound, apperrors.ReasonOf(err))

	_, _, err = ledger.Validate(context.Background(), " ", 5000)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	// Validation never redeems.
	assert.Equal(t, 1, store.coupon("coupon-SAVE10").Quantity)
}

func TestCouponLedger_RedeemAndRestore(t *testing.T) {
	ledger, store := newTestLedger()
	c := sampleCoupon("ONE", 1)
	store.putCoupon(c)

	require.NoError(t, ledger.Redeem(context.Background(), c.ID))
	assert.Equal(t, 0, store.coupon(c.ID).Quantity)

	err := ledger.Redeem(context.Background(), c.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, domain.ReasonCouponNoQuantity, apperrors.ReasonOf(err))
	assert.Equal(t, 0, store.coupon(c.ID).Quantity)

	require.NoError(t, ledger.Restore(context.Background(), c.ID))
	assert.Equal(t, 1, store.coupon(c.ID).Quantity)

	err = ledger.Redeem(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCouponLedger_ConcurrentRedeemNeverOversells(t *testing.T) {
	ledger, store := newTestLedger()
	c := sampleCoupon("RUSH", 5)
	store.putCoupon(c)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Redeem(context.Background(), c.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if apperrors.ReasonOf(err) == domain.ReasonCouponNoQuantity {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, workers-5, conflicts)
	assert.Equal(t, 0, store.coupon(c.ID).Quantity)
}
