package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	"github.com/noah-isme/clg-aas-api/internal/repository"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

type hodStore interface {
	ActiveHOD(ctx context.Context, q sqlx.ExtContext, departmentID string) (*models.HODMapping, error)
	DeactivateHOD(ctx context.Context, q sqlx.ExtContext, mappingID string) error
	CreateHOD(ctx context.Context, q sqlx.ExtContext, mapping *models.HODMapping) error
	SetDepartmentHead(ctx context.Context, q sqlx.ExtContext, departmentID string, facultyID *string) error
}

type accessStore interface {
	FindByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.User, error)
	SetAccess(ctx context.Context, q sqlx.ExtContext, userID string, level models.AccessLevel, expires *time.Time) error
}

// HODReconciler applies approved HOD_CHANGE requests: the department head
// mapping, the denormalised department pointer, and the access levels of
// the incoming and outgoing holders all move in the same transaction.
type HODReconciler struct {
	assignments hodStore
	users       accessStore
	downgrade   time.Duration
	logger      *zap.Logger
}

// NewHODReconciler constructs the reconciler. downgrade is how long an
// outgoing head keeps restricted access before it expires.
func NewHODReconciler(assignments hodStore, users accessStore, downgrade time.Duration, logger *zap.Logger) *HODReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if downgrade <= 0 {
		downgrade = 30 * 24 * time.Hour
	}
	return &HODReconciler{assignments: assignments, users: users, downgrade: downgrade, logger: logger}
}

type hodChangeSummary struct {
	Department string `json:"department"`
	Action     string `json:"action"`
	NewHolder  string `json:"newHolder,omitempty"`
	OldHolder  string `json:"oldHolder,omitempty"`
	MappingID  string `json:"mappingId,omitempty"`
}

// Reconcile implements Reconciler for HOD_CHANGE.
func (r *HODReconciler) Reconcile(ctx context.Context, tx sqlx.ExtContext, req *models.ApprovalRequest) (json.RawMessage, error) {
	var details dto.HODChangeDetails
	if err := json.Unmarshal(req.Details, &details); err != nil {
		return nil, appErrors.Clone(appErrors.ErrReconciliation, "HOD_CHANGE details are unreadable")
	}
	action := strings.ToLower(strings.TrimSpace(details.Action))

	current, err := r.assignments.ActiveHOD(ctx, tx, details.Department)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load active head for %s: %w", details.Department, err)
		}
		current = nil
	}

	summary := hodChangeSummary{Department: details.Department, Action: action}
	switch action {
	case "assign":
		if current != nil {
			return nil, appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("department %s already has an active head", details.Department))
		}
		mapping, err := r.install(ctx, tx, req, details.Department, details.NewHolder)
		if err != nil {
			return nil, err
		}
		summary.NewHolder = details.NewHolder
		summary.MappingID = mapping.ID

	case "replace":
		if current == nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("department %s has no active head to replace", details.Department))
		}
		if details.OldHolder != "" && current.FacultyID != details.OldHolder {
			return nil, appErrors.Clone(appErrors.ErrConflict,
				"active head changed since the request was submitted")
		}
		if err := r.retire(ctx, tx, current); err != nil {
			return nil, err
		}
		mapping, err := r.install(ctx, tx, req, details.Department, details.NewHolder)
		if err != nil {
			return nil, err
		}
		summary.NewHolder = details.NewHolder
		summary.OldHolder = current.FacultyID
		summary.MappingID = mapping.ID

	case "remove":
		if current == nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("department %s has no active head to remove", details.Department))
		}
		if details.OldHolder != "" && current.FacultyID != details.OldHolder {
			return nil, appErrors.Clone(appErrors.ErrConflict,
				"active head changed since the request was submitted")
		}
		if err := r.retire(ctx, tx, current); err != nil {
			return nil, err
		}
		if err := r.assignments.SetDepartmentHead(ctx, tx, details.Department, nil); err != nil {
			return nil, fmt.Errorf("clear department head pointer: %w", err)
		}
		summary.OldHolder = current.FacultyID

	default:
		return nil, appErrors.Clone(appErrors.ErrReconciliation,
			fmt.Sprintf("unsupported HOD_CHANGE action %q", details.Action))
	}

	return json.Marshal(summary)
}

// install creates the new active mapping, points the department at the new
// head and grants full access. The incoming holder must be an existing
// active account.
func (r *HODReconciler) install(ctx context.Context, tx sqlx.ExtContext, req *models.ApprovalRequest, departmentID, facultyID string) (*models.HODMapping, error) {
	holder, err := r.users.FindByID(ctx, tx, facultyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("faculty %s does not exist", facultyID))
		}
		return nil, fmt.Errorf("load incoming head: %w", err)
	}
	if !holder.Active {
		return nil, appErrors.Clone(appErrors.ErrReconciliation,
			fmt.Sprintf("faculty %s is deactivated and cannot head %s", facultyID, departmentID))
	}

	mapping := &models.HODMapping{
		DepartmentID: departmentID,
		FacultyID:    facultyID,
		Status:       models.HODActive,
		AssignedBy:   req.RequestedBy,
	}
	if err := r.assignments.CreateHOD(ctx, tx, mapping); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("department %s already has an active head", departmentID))
		}
		return nil, fmt.Errorf("create head mapping: %w", err)
	}
	if err := r.assignments.SetDepartmentHead(ctx, tx, departmentID, &facultyID); err != nil {
		return nil, fmt.Errorf("set department head pointer: %w", err)
	}
	if err := r.users.SetAccess(ctx, tx, facultyID, models.AccessFull, nil); err != nil {
		return nil, fmt.Errorf("grant access to incoming head: %w", err)
	}
	return mapping, nil
}

// retire deactivates the current mapping and downgrades the outgoing
// holder instead of deprovisioning immediately.
func (r *HODReconciler) retire(ctx context.Context, tx sqlx.ExtContext, current *models.HODMapping) error {
	if err := r.assignments.DeactivateHOD(ctx, tx, current.ID); err != nil {
		return fmt.Errorf("deactivate head mapping: %w", err)
	}
	expires := time.Now().UTC().Add(r.downgrade)
	if err := r.users.SetAccess(ctx, tx, current.FacultyID, models.AccessRestricted, &expires); err != nil {
		return fmt.Errorf("restrict outgoing head: %w", err)
	}
	return nil
}
