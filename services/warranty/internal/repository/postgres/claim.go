package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bedive-215/tech-store-sub000/pkg/database"
	apperrors "github.com/bedive-215/tech-store-sub000/pkg/errors"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/domain"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/repository"
)

const claimColumns = `id, order_id, product_id, user_id, description, status, reason, created_at, updated_at`

// ClaimRepository implements repository.ClaimRepository using PostgreSQL.
type ClaimRepository struct {
	db database.DBTX
}

// NewClaimRepository creates a new PostgreSQL-backed claim repository.
func NewClaimRepository(db database.DBTX) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func scanClaim(row pgx.Row, extra ...any) (*domain.Claim, error) {
	var c domain.Claim
	dest := append([]any{
		&c.ID,
		&c.OrderID,
		&c.ProductID,
		&c.UserID,
		&c.Description,
		&c.Status,
		&c.Reason,
		&c.CreatedAt,
		&c.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new claim.
func (r *ClaimRepository) Create(ctx context.Context, c *domain.Claim) (err error) {
	query := `
		INSERT INTO warranty_claims (` + claimColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ctx, end := database.TraceQuery(ctx, "CreateClaim", query)
	defer func() { end(err) }()

	_, err = database.Conn(ctx, r.db).Exec(ctx, query,
		c.ID,
		c.OrderID,
		c.ProductID,
		c.UserID,
		c.Description,
		c.Status,
		c.Reason,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict(domain.ReasonClaimExists,
				fmt.Sprintf("an open warranty claim already exists for product %s of order %s", c.ProductID, c.OrderID))
		}
		return fmt.Errorf("create warranty claim: %w", err)
	}
	return nil
}

// GetByID retrieves a claim by its unique identifier.
func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM warranty_claims WHERE id = $1`

	c, err := scanClaim(database.Conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("warranty_claim", id)
		}
		return nil, fmt.Errorf("get warranty claim by id: %w", err)
	}
	return c, nil
}

// List returns claims matching the filter, newest first, with the total count.
func (r *ClaimRepository) List(ctx context.Context, filter repository.ClaimFilter) (claims []domain.Claim, total int, err error) {
	var (
		conditions []string
		args       []any
	)
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("user_id", filter.UserID)
	add("order_id", filter.OrderID)
	add("status", filter.Status)

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s,
			   count(*) OVER() AS total_count
		FROM warranty_claims
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		claimColumns, whereClause, len(args)-1, len(args),
	)

	ctx, end := database.TraceQuery(ctx, "ListClaims", query)
	defer func() { end(err) }()

	rows, err := database.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list warranty claims: %w", err)
	}
	defer rows.Close()

	claims = make([]domain.Claim, 0)
	for rows.Next() {
		c, err := scanClaim(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan warranty claim row: %w", err)
		}
		claims = append(claims, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate warranty claim rows: %w", err)
	}
	return claims, total, nil
}

// UpdateStatus writes the claim's new status and reason, guarded by from so
// that two concurrent reviews cannot both apply.
func (r *ClaimRepository) UpdateStatus(ctx context.Context, c *domain.Claim, from string) (err error) {
	query := `
		UPDATE warranty_claims
		SET status = $1, reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5`

	ctx, end := database.TraceQuery(ctx, "UpdateClaimStatus", query)
	defer func() { end(err) }()

	ct, err := database.Conn(ctx, r.db).Exec(ctx, query, c.Status, c.Reason, c.UpdatedAt, c.ID, from)
	if err != nil {
		return fmt.Errorf("update warranty claim status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.InvalidTransition("warranty claim", from, c.Status)
	}
	return nil
}
