package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/clg-aas-api/internal/models"
)

// AssignmentRepository persists class-advisor assignments and HOD mappings.
// Partial unique indexes (one Active row per scope, one active mapping per
// department) are the storage-level backstop for the invariants; a losing
// concurrent writer surfaces as a unique violation inside its transaction.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const assignmentColumns = `id, faculty_id, batch, year, semester, section, department_id, role, class_id, status, created_at, updated_at`

// GetByID fetches one assignment.
func (r *AssignmentRepository) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.ClassAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_assignments WHERE id = $1`, assignmentColumns)
	var assignment models.ClassAssignment
	if err := sqlx.GetContext(ctx, r.ext(q), &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ActiveByScope returns the Active assignment for a scope, sql.ErrNoRows
// when the scope is vacant.
func (r *AssignmentRepository) ActiveByScope(ctx context.Context, q sqlx.ExtContext, scope models.AssignmentScope) (*models.ClassAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_assignments
	WHERE batch = $1 AND year = $2 AND semester = $3 AND section = $4 AND department_id = $5 AND role = $6 AND status = $7`,
		assignmentColumns)
	var assignment models.ClassAssignment
	err := sqlx.GetContext(ctx, r.ext(q), &assignment, query,
		scope.Batch, scope.Year, scope.Semester, scope.Section, scope.DepartmentID, scope.Role, models.AssignmentActive)
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ActiveByFacultyRole lists every Active assignment the faculty holds for
// the given role within the department.
func (r *AssignmentRepository) ActiveByFacultyRole(ctx context.Context, q sqlx.ExtContext, facultyID, departmentID, role string) ([]models.ClassAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_assignments
	WHERE faculty_id = $1 AND department_id = $2 AND role = $3 AND status = $4`, assignmentColumns)
	var assignments []models.ClassAssignment
	if err := sqlx.SelectContext(ctx, r.ext(q), &assignments, query, facultyID, departmentID, role, models.AssignmentActive); err != nil {
		return nil, fmt.Errorf("active assignments by faculty: %w", err)
	}
	return assignments, nil
}

// Deactivate transitions an assignment out of Active and appends the status
// history row in the same statement scope.
func (r *AssignmentRepository) Deactivate(ctx context.Context, q sqlx.ExtContext, assignment *models.ClassAssignment, actor, reason string) error {
	e := r.ext(q)
	res, err := e.ExecContext(ctx,
		`UPDATE class_assignments SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		models.AssignmentInactive, time.Now().UTC(), assignment.ID, models.AssignmentActive)
	if err != nil {
		return fmt.Errorf("deactivate assignment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deactivated rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	if err := r.appendTransition(ctx, e, assignment.ID, assignment.Status, models.AssignmentInactive, actor, reason); err != nil {
		return err
	}
	assignment.Status = models.AssignmentInactive
	return nil
}

// Create inserts a new assignment and its initial history row. Callers see
// a unique violation when a concurrent writer already activated the scope.
func (r *AssignmentRepository) Create(ctx context.Context, q sqlx.ExtContext, assignment *models.ClassAssignment, actor, reason string) error {
	e := r.ext(q)
	now := time.Now().UTC()
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.Status == "" {
		assignment.Status = models.AssignmentActive
	}
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	const query = `INSERT INTO class_assignments
	(id, faculty_id, batch, year, semester, section, department_id, role, class_id, status, created_at, updated_at)
	VALUES (:id, :faculty_id, :batch, :year, :semester, :section, :department_id, :role, :class_id, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, e, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return r.appendTransition(ctx, e, assignment.ID, "", assignment.Status, actor, reason)
}

func (r *AssignmentRepository) appendTransition(ctx context.Context, e sqlx.ExtContext, assignmentID string, from, to models.AssignmentStatus, actor, reason string) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO assignment_transitions (id, assignment_id, from_status, to_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), assignmentID, from, to, actor, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append assignment transition: %w", err)
	}
	return nil
}

// ListTransitions returns the status history for an assignment.
func (r *AssignmentRepository) ListTransitions(ctx context.Context, assignmentID string) ([]models.AssignmentTransition, error) {
	var transitions []models.AssignmentTransition
	err := r.db.SelectContext(ctx, &transitions,
		`SELECT id, assignment_id, from_status, to_status, actor, reason, created_at
		FROM assignment_transitions WHERE assignment_id = $1 ORDER BY created_at ASC`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list assignment transitions: %w", err)
	}
	return transitions, nil
}

// ActiveHOD returns the active mapping for a department, sql.ErrNoRows when
// the department has no head.
func (r *AssignmentRepository) ActiveHOD(ctx context.Context, q sqlx.ExtContext, departmentID string) (*models.HODMapping, error) {
	const query = `SELECT id, department_id, faculty_id, status, assigned_by, created_at, updated_at
	FROM department_hod_mappings WHERE department_id = $1 AND status = $2`
	var mapping models.HODMapping
	if err := sqlx.GetContext(ctx, r.ext(q), &mapping, query, departmentID, models.HODActive); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// DeactivateHOD retires the given mapping.
func (r *AssignmentRepository) DeactivateHOD(ctx context.Context, q sqlx.ExtContext, mappingID string) error {
	res, err := r.ext(q).ExecContext(ctx,
		`UPDATE department_hod_mappings SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		models.HODInactive, time.Now().UTC(), mappingID, models.HODActive)
	if err != nil {
		return fmt.Errorf("deactivate hod mapping: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check hod rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateHOD inserts a new active mapping. The partial unique index on
// (department_id) WHERE status='active' rejects a concurrent second writer.
func (r *AssignmentRepository) CreateHOD(ctx context.Context, q sqlx.ExtContext, mapping *models.HODMapping) error {
	now := time.Now().UTC()
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	if mapping.Status == "" {
		mapping.Status = models.HODActive
	}
	mapping.CreatedAt = now
	mapping.UpdatedAt = now
	const query = `INSERT INTO department_hod_mappings
	(id, department_id, faculty_id, status, assigned_by, created_at, updated_at)
	VALUES (:id, :department_id, :faculty_id, :status, :assigned_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(q), query, mapping); err != nil {
		return fmt.Errorf("create hod mapping: %w", err)
	}
	return nil
}

// SetDepartmentHead updates the department's configured-HOD pointer;
// facultyID may be nil to clear it.
func (r *AssignmentRepository) SetDepartmentHead(ctx context.Context, q sqlx.ExtContext, departmentID string, facultyID *string) error {
	_, err := r.ext(q).ExecContext(ctx,
		`UPDATE departments SET hod_user_id = $1, updated_at = $2 WHERE id = $3`,
		facultyID, time.Now().UTC(), departmentID)
	if err != nil {
		return fmt.Errorf("set department head: %w", err)
	}
	return nil
}

// BackfillLegacyStatus migrates rows still carrying the legacy active
// boolean to the status enum, then drops the boolean column. One-shot,
// invoked by cmd/statusmigrate.
func (r *AssignmentRepository) BackfillLegacyStatus(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin status backfill: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE class_assignments
	SET status = CASE WHEN active THEN 'Active' ELSE 'Inactive' END
	WHERE status IS NULL OR status = ''`)
	if err != nil {
		return 0, fmt.Errorf("backfill assignment status: %w", err)
	}
	migrated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count backfilled rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE class_assignments DROP COLUMN IF EXISTS active`); err != nil {
		return 0, fmt.Errorf("drop legacy active column: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit status backfill: %w", err)
	}
	committed = true
	return migrated, nil
}
