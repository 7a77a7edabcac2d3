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
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/domain"
)

// --- Test Helpers ---

func newTestRepo(t *testing.T) (*ProductRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewProductRepository(mock), mock
}

var columns = []string{
	"id", "name", "price", "flash_sale_price", "flash_sale_start", "flash_sale_end",
	"stock", "created_at", "updated_at",
}

func sampleProduct() *domain.Product {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Product{
		ID:        "11111111-1111-1111-1111-111111111111",
		Name:      "Mechanical Keyboard",
		Price:     129900,
		Stock:     12,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func productRow(p *domain.Product) *pgxmock.Rows {
	return pgxmock.NewRows(columns).AddRow(
		p.ID, p.Name, p.Price, p.FlashSalePrice, p.FlashSaleStart, p.FlashSaleEnd,
		p.Stock, p.CreatedAt, p.UpdatedAt,
	)
}

// --- Create ---

func TestProductRepository_Create(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	p := sampleProduct()
	mock.ExpectExec("INSERT INTO products").
		WithArgs(p.ID, p.Name, p.Price, p.FlashSalePrice, p.FlashSaleStart, p.FlashSaleEnd,
			p.Stock, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Create_CheckViolation(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	p := sampleProduct()
	mock.ExpectExec("INSERT INTO products").
		WithArgs(p.ID, p.Name, p.Price, p.FlashSalePrice, p.FlashSaleStart, p.FlashSaleEnd,
			p.Stock, p.CreatedAt, p.UpdatedAt).
		WillReturnError(&pgconn.PgError{Code: "23514"})

	err := repo.Create(context.Background(), p)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- GetByID ---

func TestProductRepository_GetByID(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	p := sampleProduct()
	mock.ExpectQuery("SELECT .+ FROM products WHERE id = \\$1").
		WithArgs(p.ID).
		WillReturnRows(productRow(p))

	got, err := repo.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Price, got.Price)
	assert.Equal(t, p.Stock, got.Stock)
	assert.Nil(t, got.FlashSalePrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM products WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- GetByIDs ---

func TestProductRepository_GetByIDs(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	p := sampleProduct()
	ids := []string{p.ID, "missing"}
	mock.ExpectQuery("SELECT .+ FROM products WHERE id = ANY").
		WithArgs(ids).
		WillReturnRows(productRow(p))

	got, err := repo.GetByIDs(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_GetByIDs_Empty(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	got, err := repo.GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- List ---

func TestProductRepository_List(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	p := sampleProduct()
	mock.ExpectQuery("SELECT .+ FROM products ORDER BY created_at DESC").
		WithArgs(10, 10).
		WillReturnRows(pgxmock.NewRows(append(append([]string{}, columns...), "total_count")).
			AddRow(p.ID, p.Name, p.Price, p.FlashSalePrice, p.FlashSaleStart, p.FlashSaleEnd,
				p.Stock, p.CreatedAt, p.UpdatedAt, 11))

	got, total, err := repo.List(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- Update / AdjustStock / Delete ---

func TestProductRepository_Update_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	p := sampleProduct()
	mock.ExpectExec("UPDATE products SET name").
		WithArgs(p.Name, p.Price, p.FlashSalePrice, p.FlashSaleStart, p.FlashSaleEnd, p.UpdatedAt, p.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), p)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_AdjustStock(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE products SET stock = stock \\+ \\$1").
		WithArgs(5, "p-1").
		WillReturnRows(pgxmock.NewRows([]string{"stock"}).AddRow(17))

	stock, err := repo.AdjustStock(context.Background(), "p-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 17, stock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_AdjustStock_BelowZero(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE products SET stock = stock \\+ \\$1").
		WithArgs(-50, "p-1").
		WillReturnError(&pgconn.PgError{Code: "23514"})

	_, err := repo.AdjustStock(context.Background(), "p-1", -50)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, "insufficient_stock", apperrors.ReasonOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Delete(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM products").
		WithArgs("p-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.Delete(context.Background(), "p-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- LockStock / SetStock ---

func TestProductRepository_LockStockRequiresTransaction(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	_, err := repo.LockStock(context.Background(), []string{"p-1"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_LockAndSetStockInTransaction(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()
	tx := database.NewTransactor(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, stock FROM products WHERE id = ANY\\(\\$1\\) ORDER BY id FOR UPDATE").
		WithArgs([]string{"p-1", "p-2"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "stock"}).AddRow("p-1", 4).AddRow("p-2", 9))
	mock.ExpectExec("UPDATE products SET stock = \\$1").
		WithArgs(3, "p-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	var locked map[string]int
	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		var err error
		locked, err = repo.LockStock(ctx, []string{"p-1", "p-2"})
		if err != nil {
			return err
		}
		return repo.SetStock(ctx, "p-1", locked["p-1"]-1)
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p-1": 4, "p-2": 9}, locked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_LockStock_QueryError(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()
	tx := database.NewTransactor(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, stock FROM products").
		WithArgs([]string{"p-1"}).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := repo.LockStock(ctx, []string{"p-1"})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock stock")
	assert.NoError(t, mock.ExpectationsWereMet())
}
