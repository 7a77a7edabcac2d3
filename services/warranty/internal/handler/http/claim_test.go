package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/pkg/health"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/pkg/middleware"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/repository"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/service"
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

type mockCaller struct {
	mock.Mock
}

func (m *mockCaller) Call(ctx context.Context, topic, action string, payload any, timeout time.Duration) (json.RawMessage, error) {
	args := m.Called(ctx, topic, action, payload, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

// --- Helpers ---

const (
	claimID   = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
	orderID   = "5f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f"
	productID = "0b7f6f1e-5c0a-4f8e-9d57-1c2b3a4d5e6f"
	userID    = "7d1e4c2a-0000-4000-8000-000000000001"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter() (http.Handler, *mockClaimRepository, *mockCaller) {
	repo := new(mockClaimRepository)
	caller := new(mockCaller)
	svc := service.NewClaimService(repo, caller, time.Second, testLogger())
	return NewRouter(RouterConfig{Environment: "development"}, svc, health.NewHandler(), testLogger()), repo, caller
}

func doRequest(h http.Handler, method, path string, body any, user, role string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
		req.Header.Set(middleware.HeaderUserRole, role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Reason string            `json:"reason"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func validateReply(reply messages.ValidateWarrantyReply) json.RawMessage {
	raw, _ := json.Marshal(reply)
	return raw
}

func submitBody() map[string]string {
	return map[string]string{
		"order_id":    orderID,
		"product_id":  productID,
		"description": "The battery no longer holds a charge",
	}
}

// --- Submit ---

func TestSubmitClaim_Created(t *testing.T) {
	h, repo, caller := newTestRouter()
	caller.On("Call", mock.Anything, messages.TopicOrder, messages.ActionValidateWarranty,
		messages.ValidateWarrantyRequest{OrderID: orderID, ProductID: productID, UserID: userID}, time.Second).
		Return(validateReply(messages.ValidateWarrantyReply{Valid: true}), nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Claim")).Return(nil)

	rec := doRequest(h, http.MethodPost, "/api/v1/warranties", submitBody(), userID, "customer")

	require.Equal(t, http.StatusCreated, rec.Code)
	var claim domain.Claim
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &claim))
	assert.Equal(t, domain.ClaimStatusSubmitted, claim.Status)
	assert.Equal(t, userID, claim.UserID)
	caller.AssertExpectations(t)
}

func TestSubmitClaim_RejectedByOrderService(t *testing.T) {
	h, repo, caller := newTestRouter()
	caller.On("Call", mock.Anything, messages.TopicOrder, messages.ActionValidateWarranty, mock.Anything, mock.Anything).
		Return(validateReply(messages.ValidateWarrantyReply{Reason: messages.ReasonOrderNotCompleted}), nil)

	rec := doRequest(h, http.MethodPost, "/api/v1/warranties", submitBody(), userID, "customer")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, messages.ReasonOrderNotCompleted, decodeEnvelope(t, rec).Error.Reason)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSubmitClaim_Timeout(t *testing.T) {
	h, _, caller := newTestRouter()
	caller.On("Call", mock.Anything, messages.TopicOrder, messages.ActionValidateWarranty, mock.Anything, mock.Anything).
		Return(nil, apperrors.Timeout("order"))

	rec := doRequest(h, http.MethodPost, "/api/v1/warranties", submitBody(), userID, "customer")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperrors.ReasonServiceTimeout, decodeEnvelope(t, rec).Error.Reason)
}

func TestSubmitClaim_RequiresUser(t *testing.T) {
	h, _, _ := newTestRouter()

	rec := doRequest(h, http.MethodPost, "/api/v1/warranties", submitBody(), "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitClaim_Validation(t *testing.T) {
	h, _, caller := newTestRouter()

	body := submitBody()
	body["description"] = "short"
	body["order_id"] = "not-a-uuid"

	rec := doRequest(h, http.MethodPost, "/api/v1/warranties", body, userID, "customer")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Len(t, env.Error.Fields, 2)
	caller.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// --- Read ---

func TestGetClaim_Scoped(t *testing.T) {
	h, repo, _ := newTestRouter()
	repo.On("GetByID", mock.Anything, claimID).
		Return(&domain.Claim{ID: claimID, UserID: userID, Status: domain.ClaimStatusSubmitted}, nil)

	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/api/v1/warranties/"+claimID, nil, userID, "customer").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(h, http.MethodGet, "/api/v1/warranties/"+claimID, nil, "other", "customer").Code)
	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "/api/v1/warranties/"+claimID, nil, "admin-1", "admin").Code)
}

func TestListClaims_CustomerScope(t *testing.T) {
	h, repo, _ := newTestRouter()
	repo.On("List", mock.Anything, mock.MatchedBy(func(f repository.ClaimFilter) bool {
		return f.UserID != nil && *f.UserID == userID && f.OrderID != nil && *f.OrderID == orderID
	})).Return([]domain.Claim{{ID: claimID, UserID: userID}}, 1, nil)

	rec := doRequest(h, http.MethodGet, "/api/v1/warranties?order_id="+orderID+"&user_id=someone", nil, userID, "customer")

	require.Equal(t, http.StatusOK, rec.Code)
	repo.AssertExpectations(t)
}

// --- Status ---

func TestUpdateClaimStatus(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		from       string
		status     string
		wantStatus int
	}{
		{"customer forbidden", "customer", domain.ClaimStatusSubmitted, "approved", http.StatusForbidden},
		{"approve", "admin", domain.ClaimStatusSubmitted, "approved", http.StatusOK},
		{"resolve approved", "admin", domain.ClaimStatusApproved, "resolved", http.StatusOK},
		{"resolve submitted", "admin", domain.ClaimStatusSubmitted, "resolved", http.StatusConflict},
		{"back to submitted", "admin", domain.ClaimStatusApproved, "submitted", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo, _ := newTestRouter()
			repo.On("GetByID", mock.Anything, claimID).Return(&domain.Claim{ID: claimID, Status: tt.from}, nil)
			repo.On("UpdateStatus", mock.Anything, mock.Anything, tt.from).Return(nil)

			rec := doRequest(h, http.MethodPatch, "/api/v1/warranties/"+claimID+"/status",
				map[string]string{"status": tt.status, "reason": "inspected"}, "user-9", tt.role)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
