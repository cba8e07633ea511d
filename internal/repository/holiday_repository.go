package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clg-aas-api/internal/models"
)

// HolidayRepository persists holiday declarations.
type HolidayRepository struct {
	db *sqlx.DB
}

// NewHolidayRepository constructs the repository.
func NewHolidayRepository(db *sqlx.DB) *HolidayRepository {
	return &HolidayRepository{db: db}
}

func (r *HolidayRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

// Create inserts a holiday declaration.
func (r *HolidayRepository) Create(ctx context.Context, q sqlx.ExtContext, holiday *models.Holiday) error {
	if holiday.ID == "" {
		holiday.ID = uuid.NewString()
	}
	if holiday.CreatedAt.IsZero() {
		holiday.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO holidays (id, date, scope, department_id, class_id, reason, declared_by, created_at)
	VALUES (:id, :date, :scope, :department_id, :class_id, :reason, :declared_by, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(q), query, holiday); err != nil {
		return fmt.Errorf("create holiday: %w", err)
	}
	return nil
}

// FindByDateScope returns declarations covering a date, broadest first.
func (r *HolidayRepository) FindByDateScope(ctx context.Context, dateKey, departmentID, classID string) ([]models.Holiday, error) {
	const query = `SELECT id, date, scope, department_id, class_id, reason, declared_by, created_at
	FROM holidays
	WHERE date = $1 AND (scope = 'global'
		OR (scope = 'department' AND department_id = $2)
		OR (scope = 'class' AND class_id = $3))
	ORDER BY scope ASC`
	var holidays []models.Holiday
	if err := r.db.SelectContext(ctx, &holidays, query, dateKey, departmentID, classID); err != nil {
		return nil, fmt.Errorf("find holidays: %w", err)
	}
	return holidays, nil
}
