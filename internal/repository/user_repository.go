package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clg-aas-api/internal/models"
)

// UserRepository reads accounts and adjusts access levels during HOD
// reconciliation. Account CRUD proper lives in the identity service.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

// FindByID fetches a user account.
func (r *UserRepository) FindByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.User, error) {
	const query = `SELECT id, email, full_name, role, department_id, access, access_expires, active, created_at, updated_at
	FROM users WHERE id = $1`
	var user models.User
	if err := sqlx.GetContext(ctx, r.ext(q), &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetAccess updates an account's access level; expires is nil for full
// access and a deadline for the soft-deprovision of outgoing holders.
func (r *UserRepository) SetAccess(ctx context.Context, q sqlx.ExtContext, userID string, level models.AccessLevel, expires *time.Time) error {
	res, err := r.ext(q).ExecContext(ctx,
		`UPDATE users SET access = $1, access_expires = $2, updated_at = $3 WHERE id = $4`,
		level, expires, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("set user access: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check access rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
