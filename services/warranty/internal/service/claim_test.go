package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bedive-215/tech-store-sub000/pkg/bus/bustest"
	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/pkg/rpc"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/repository"
)

// --- Mocks ---

type mockClaimRepository struct {
	mock.Mock
}

func (m *mockClaimRepository) Create(ctx context.Context, claim *domain.Claim) error {
	return m.Called(ctx, claim).Error(0)
}

func (m *mockClaimRepository) GetByID(ctx context.Context, id string) (*domain.Claim, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Claim), args.Error(1)
}

func (m *mockClaimRepository) List(ctx context.Context, filter repository.ClaimFilter) ([]domain.Claim, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Claim), args.Int(1), args.Error(2)
}

func (m *mockClaimRepository) UpdateStatus(ctx context.Context, claim *domain.Claim, from string) error {
	return m.Called(ctx, claim, from).Error(0)
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// orderResponder answers validate_warranty on an in-memory bus the way the
// order service does.
type orderResponder struct {
	reply messages.ValidateWarrantyReply
	got   []messages.ValidateWarrantyRequest
}

// newClaimFixture wires a ClaimService to an in-memory bus. A nil responder
// leaves validate_warranty unanswered.
func newClaimFixture(t *testing.T, orders *orderResponder) (*ClaimService, *mockClaimRepository) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bustest.New()
	if orders != nil {
		responder := rpc.NewResponder(b, newTestLogger())
		responder.Handle(messages.TopicOrder, messages.ActionValidateWarranty,
			func(_ context.Context, req rpc.Request) (any, error) {
				var in messages.ValidateWarrantyRequest
				if err := req.Decode(&in); err != nil {
					return nil, err
				}
				orders.got = append(orders.got, in)
				return orders.reply, nil
			}, nil)
		require.NoError(t, responder.Listen(ctx))
	}

	client := rpc.NewClient(b, newTestLogger(), rpc.WithDefaultTimeout(time.Second))
	repo := new(mockClaimRepository)
	return NewClaimService(repo, client, 100*time.Millisecond, newTestLogger()), repo
}

func sampleInput() SubmitClaimInput {
	return SubmitClaimInput{
		UserID:      "u-1",
		OrderID:     "o-1",
		ProductID:   "p-1",
		Description: "  Screen flickers after a week  ",
	}
}

// --- SubmitClaim ---

func TestSubmitClaim_Accepted(t *testing.T) {
	orders := &orderResponder{reply: messages.ValidateWarrantyReply{Valid: true}}
	svc, repo := newClaimFixture(t, orders)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Claim")).Return(nil)
	before := testutil.ToFloat64(ClaimSubmissions.WithLabelValues(outcomeAccepted))

	claim, err := svc.SubmitClaim(context.Background(), sampleInput())

	require.NoError(t, err)
	assert.NotEmpty(t, claim.ID)
	assert.Equal(t, domain.ClaimStatusSubmitted, claim.Status)
	assert.Equal(t, "Screen flickers after a week", claim.Description)
	require.Len(t, orders.got, 1)
	assert.Equal(t, messages.ValidateWarrantyRequest{OrderID: "o-1", ProductID: "p-1", UserID: "u-1"}, orders.got[0])
	assert.Equal(t, before+1, testutil.ToFloat64(ClaimSubmissions.WithLabelValues(outcomeAccepted)))
	repo.AssertExpectations(t)
}

func TestSubmitClaim_Rejected(t *testing.T) {
	reasons := []string{
		messages.ReasonOrderNotFound,
		messages.ReasonOrderNotCompleted,
		messages.ReasonProductNotInOrder,
	}
	for _, reason := range reasons {
		t.Run(reason, func(t *testing.T) {
			orders := &orderResponder{reply: messages.ValidateWarrantyReply{Reason: reason}}
			svc, repo := newClaimFixture(t, orders)
			before := testutil.ToFloat64(ClaimSubmissions.WithLabelValues(reason))

			_, err := svc.SubmitClaim(context.Background(), sampleInput())

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Equal(t, reason, apperrors.ReasonOf(err))
			assert.Equal(t, before+1, testutil.ToFloat64(ClaimSubmissions.WithLabelValues(reason)))
			repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmitClaim_OrderServiceTimeout(t *testing.T) {
	svc, repo := newClaimFixture(t, nil)

	_, err := svc.SubmitClaim(context.Background(), sampleInput())

	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))
	assert.Equal(t, apperrors.ReasonServiceTimeout, apperrors.ReasonOf(err))
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSubmitClaim_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitClaimInput)
	}{
		{"no user", func(in *SubmitClaimInput) { in.UserID = "" }},
		{"no order", func(in *SubmitClaimInput) { in.OrderID = "" }},
		{"no product", func(in *SubmitClaimInput) { in.ProductID = "" }},
		{"blank description", func(in *SubmitClaimInput) { in.Description = "   " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &orderResponder{reply: messages.ValidateWarrantyReply{Valid: true}}
			svc, _ := newClaimFixture(t, orders)
			in := sampleInput()
			tt.mutate(&in)

			_, err := svc.SubmitClaim(context.Background(), in)

			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Empty(t, orders.got)
		})
	}
}

func TestSubmitClaim_DuplicateOpenClaim(t *testing.T) {
	orders := &orderResponder{reply: messages.ValidateWarrantyReply{Valid: true}}
	svc, repo := newClaimFixture(t, orders)
	repo.On("Create", mock.Anything, mock.Anything).
		Return(apperrors.Conflict(domain.ReasonClaimExists, "open claim exists"))

	_, err := svc.SubmitClaim(context.Background(), sampleInput())

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, domain.ReasonClaimExists, apperrors.ReasonOf(err))
}

// --- GetClaim / ListClaims ---

func TestGetClaim_Ownership(t *testing.T) {
	svc, repo := newClaimFixture(t, nil)
	repo.On("GetByID", mock.Anything, "c-1").Return(&domain.Claim{ID: "c-1", UserID: "u-1"}, nil)

	_, err := svc.GetClaim(context.Background(), "u-1", "c-1")
	require.NoError(t, err)

	_, err = svc.GetClaim(context.Background(), "u-2", "c-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.GetClaim(context.Background(), "", "c-1")
	assert.NoError(t, err)
}

func TestListClaims_ClampsPaging(t *testing.T) {
	svc, repo := newClaimFixture(t, nil)
	repo.On("List", mock.Anything, repository.ClaimFilter{Page: 1, PerPage: 100}).
		Return([]domain.Claim{}, 0, nil)

	_, _, err := svc.ListClaims(context.Background(), repository.ClaimFilter{PerPage: 500})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestListClaims_InvalidStatus(t *testing.T) {
	svc, _ := newClaimFixture(t, nil)
	status := "pending"

	_, _, err := svc.ListClaims(context.Background(), repository.ClaimFilter{Status: &status})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- UpdateClaimStatus ---

func TestUpdateClaimStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr error
	}{
		{"approve", domain.ClaimStatusSubmitted, domain.ClaimStatusApproved, nil},
		{"reject", domain.ClaimStatusSubmitted, domain.ClaimStatusRejected, nil},
		{"resolve", domain.ClaimStatusApproved, domain.ClaimStatusResolved, nil},
		{"resolve unapproved", domain.ClaimStatusSubmitted, domain.ClaimStatusResolved, apperrors.ErrInvalidState},
		{"reopen rejected", domain.ClaimStatusRejected, domain.ClaimStatusApproved, apperrors.ErrInvalidState},
		{"unknown status", domain.ClaimStatusSubmitted, "closed", apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newClaimFixture(t, nil)
			repo.On("GetByID", mock.Anything, "c-1").Return(&domain.Claim{ID: "c-1", Status: tt.from}, nil)
			repo.On("UpdateStatus", mock.Anything, mock.Anything, tt.from).Return(nil)

			claim, err := svc.UpdateClaimStatus(context.Background(), "c-1", tt.to, "checked by support")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, claim.Status)
			assert.Equal(t, "checked by support", claim.Reason)
		})
	}
}

func TestUpdateClaimStatus_RepositoryError(t *testing.T) {
	svc, repo := newClaimFixture(t, nil)
	repo.On("GetByID", mock.Anything, "c-1").Return(&domain.Claim{ID: "c-1", Status: domain.ClaimStatusSubmitted}, nil)
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.ClaimStatusSubmitted).Return(errors.New("db down"))

	_, err := svc.UpdateClaimStatus(context.Background(), "c-1", domain.ClaimStatusApproved, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "update warranty claim status")
}
