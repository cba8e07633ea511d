package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clg-aas-api/internal/models"
)

// EnrollmentRepository is the read side the reconcilers need: class scope
// resolution and active rosters. The surrounding CRUD layer owns writes.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

// FindClassByScope resolves the class row matching a teaching-group tuple.
func (r *EnrollmentRepository) FindClassByScope(ctx context.Context, q sqlx.ExtContext, scope models.AssignmentScope) (string, error) {
	const query = `SELECT id FROM classes
	WHERE batch = $1 AND year = $2 AND semester = $3 AND section = $4 AND ($5 = '' OR department_id = $5)`
	var classID string
	if err := sqlx.GetContext(ctx, r.ext(q), &classID, query,
		scope.Batch, scope.Year, scope.Semester, scope.Section, scope.DepartmentID); err != nil {
		return "", err
	}
	return classID, nil
}

// ListActiveStudentIDs returns the enrolled student ids for a class, sorted
// so synthesized ledger entries are deterministic.
func (r *EnrollmentRepository) ListActiveStudentIDs(ctx context.Context, q sqlx.ExtContext, classID string) ([]string, error) {
	const query = `SELECT student_id FROM enrollments WHERE class_id = $1 AND active ORDER BY student_id ASC`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.ext(q), &ids, query, classID); err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	return ids, nil
}
