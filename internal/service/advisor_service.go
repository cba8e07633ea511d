package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	"github.com/noah-isme/clg-aas-api/internal/repository"
	"github.com/noah-isme/clg-aas-api/pkg/database"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

type assignmentStore interface {
	ActiveByScope(ctx context.Context, q sqlx.ExtContext, scope models.AssignmentScope) (*models.ClassAssignment, error)
	ActiveByFacultyRole(ctx context.Context, q sqlx.ExtContext, facultyID, departmentID, role string) ([]models.ClassAssignment, error)
	Deactivate(ctx context.Context, q sqlx.ExtContext, assignment *models.ClassAssignment, actor, reason string) error
	Create(ctx context.Context, q sqlx.ExtContext, assignment *models.ClassAssignment, actor, reason string) error
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.ClassAssignment, error)
	ListTransitions(ctx context.Context, assignmentID string) ([]models.AssignmentTransition, error)
}

// AdvisorService executes administrative advisor reassignments. A
// reassignment is one transaction: every conflicting Active assignment is
// retired before the replacement is created, so at no commit point does a
// scope hold two advisors or a faculty hold two classes in the same role.
type AdvisorService struct {
	db          *sqlx.DB
	assignments assignmentStore
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewAdvisorService constructs the service.
func NewAdvisorService(db *sqlx.DB, assignments assignmentStore, logger *zap.Logger) *AdvisorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvisorService{
		db:          db,
		assignments: assignments,
		validate:    validator.New(),
		logger:      logger,
	}
}

// Reassign runs the reassignment inside its own transaction.
func (s *AdvisorService) Reassign(ctx context.Context, req dto.ReassignAdvisorRequest, actor *models.JWTClaims) (*models.ReassignmentResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canDecide(actor.Role) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validate.Struct(req); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			violations := make([]appErrors.Violation, 0, len(invalid))
			for _, fieldErr := range invalid {
				violations = append(violations, appErrors.Violation{
					Field:   fieldErr.Field(),
					Message: fmt.Sprintf("failed %s validation", fieldErr.Tag()),
				})
			}
			return nil, appErrors.NewValidation(violations)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reassignment payload")
	}

	var result *models.ReassignmentResult
	err := database.WithinTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var txErr error
		result, txErr = s.reassignTx(ctx, tx, req, actor.UserID)
		return txErr
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "scope was claimed by a concurrent reassignment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "reassignment failed")
	}
	return result, nil
}

// reassignTx is the tx-composable core. Step order matters: clearing the
// old holders first keeps the partial unique index satisfied at insert.
func (s *AdvisorService) reassignTx(ctx context.Context, tx sqlx.ExtContext, req dto.ReassignAdvisorRequest, actor string) (*models.ReassignmentResult, error) {
	scope := models.AssignmentScope{
		Batch:        req.Batch,
		Year:         req.Year,
		Semester:     req.Semester,
		Section:      req.Section,
		DepartmentID: req.DepartmentID,
		Role:         req.Role,
	}
	result := &models.ReassignmentResult{}

	// The faculty member gives up any other class held in this role.
	existing, err := s.assignments.ActiveByFacultyRole(ctx, tx, req.FacultyID, req.DepartmentID, req.Role)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		held := &existing[i]
		if held.AssignmentScope == scope {
			// Reassigning someone to the scope they already hold is a no-op
			// request, not a conflict worth failing approval over.
			result.NewAssignment = held
			return result, nil
		}
		if err := s.assignments.Deactivate(ctx, tx, held, actor, "superseded by new assignment"); err != nil {
			return nil, fmt.Errorf("retire prior assignment %s: %w", held.ID, err)
		}
		result.Deactivated = append(result.Deactivated, *held)
	}

	// The scope's current holder, if any, is replaced.
	incumbent, err := s.assignments.ActiveByScope(ctx, tx, scope)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load scope holder: %w", err)
	}
	if incumbent != nil {
		reason := req.Reason
		if reason == "" {
			reason = fmt.Sprintf("replaced by %s", req.FacultyID)
		}
		if err := s.assignments.Deactivate(ctx, tx, incumbent, actor, reason); err != nil {
			return nil, fmt.Errorf("retire incumbent %s: %w", incumbent.ID, err)
		}
		result.Deactivated = append(result.Deactivated, *incumbent)
		result.ReplacedAdvisor = &incumbent.FacultyID
	}

	assignment := &models.ClassAssignment{
		FacultyID:       req.FacultyID,
		AssignmentScope: scope,
		ClassID:         req.ClassID,
		Status:          models.AssignmentActive,
	}
	if err := s.assignments.Create(ctx, tx, assignment, actor, "advisor reassignment"); err != nil {
		return nil, err
	}
	result.NewAssignment = assignment
	return result, nil
}

// History returns an assignment's status transitions, oldest first. The
// transition log is append-only, so this is the full record of who held
// the assignment and why it moved.
func (s *AdvisorService) History(ctx context.Context, assignmentID string, actor *models.JWTClaims) ([]models.AssignmentTransition, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canDecide(actor.Role) {
		return nil, appErrors.ErrForbidden
	}
	if _, err := s.assignments.GetByID(ctx, nil, assignmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	transitions, err := s.assignments.ListTransitions(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment history")
	}
	return transitions, nil
}
