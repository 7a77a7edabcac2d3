package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bedive-215/tech-store-sub000/pkg/database"
	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/repository"
)

// --- Test Helpers ---

func newTestRepo(t *testing.T) (*ClaimRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewClaimRepository(mock), mock
}

var columns = []string{
	"id", "order_id", "product_id", "user_id", "description", "status", "reason", "created_at", "updated_at",
}

func sampleClaim() *domain.Claim {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Claim{
		ID:          "33333333-3333-3333-3333-333333333333",
		OrderID:     "22222222-2222-2222-2222-222222222222",
		ProductID:   "11111111-1111-1111-1111-111111111111",
		UserID:      "u-1",
		Description: "Left switch double-clicks",
		Status:      domain.ClaimStatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func claimValues(c *domain.Claim) []any {
	return []any{c.ID, c.OrderID, c.ProductID, c.UserID, c.Description, c.Status, c.Reason, c.CreatedAt, c.UpdatedAt}
}

// --- Create ---

func TestClaimRepository_Create(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	c := sampleClaim()
	mock.ExpectExec("INSERT INTO warranty_claims").
		WithArgs(claimValues(c)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_Create_OpenClaimExists(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	c := sampleClaim()
	mock.ExpectExec("INSERT INTO warranty_claims").
		WithArgs(claimValues(c)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), c)

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, domain.ReasonClaimExists, apperrors.ReasonOf(err))
}

func TestClaimRepository_Create_DBError(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	c := sampleClaim()
	mock.ExpectExec("INSERT INTO warranty_claims").
		WithArgs(claimValues(c)...).
		WillReturnError(errors.New("connection reset"))

	err := repo.Create(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create warranty claim")
}

// --- GetByID ---

func TestClaimRepository_GetByID(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	c := sampleClaim()
	mock.ExpectQuery("SELECT .+ FROM warranty_claims WHERE id").
		WithArgs(c.ID).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(claimValues(c)...))

	got, err := repo.GetByID(context.Background(), c.ID)

	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM warranty_claims WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- List ---

func TestClaimRepository_List_Filters(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	c := sampleClaim()
	user := "u-1"
	status := domain.ClaimStatusSubmitted
	rows := pgxmock.NewRows(append(columns, "total_count")).
		AddRow(append(claimValues(c), 7)...)

	mock.ExpectQuery(`FROM warranty_claims\s+WHERE user_id = \$1 AND status = \$2`).
		WithArgs(user, status, 5, 5).
		WillReturnRows(rows)

	claims, total, err := repo.List(context.Background(), repository.ClaimFilter{
		UserID:  &user,
		Status:  &status,
		Page:    2,
		PerPage: 5,
	})

	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, claims, 1)
	assert.Equal(t, c.ID, claims[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_List_Empty(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("FROM warranty_claims").
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows(append(columns, "total_count")))

	claims, total, err := repo.List(context.Background(), repository.ClaimFilter{})

	require.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Empty(t, claims)
	assert.Zero(t, total)
}

// --- UpdateStatus ---

func TestClaimRepository_UpdateStatus(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	c := sampleClaim()
	c.Status = domain.ClaimStatusApproved
	mock.ExpectExec("UPDATE warranty_claims").
		WithArgs(c.Status, c.Reason, c.UpdatedAt, c.ID, domain.ClaimStatusSubmitted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), c, domain.ClaimStatusSubmitted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_UpdateStatus_LostRace(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	c := sampleClaim()
	c.Status = domain.ClaimStatusRejected
	mock.ExpectExec("UPDATE warranty_claims").
		WithArgs(c.Status, c.Reason, c.UpdatedAt, c.ID, domain.ClaimStatusSubmitted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateStatus(context.Background(), c, domain.ClaimStatusSubmitted)

	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}
