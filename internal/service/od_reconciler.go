package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

type attendanceStore interface {
	GetEntry(ctx context.Context, q sqlx.ExtContext, classID, dateKey string) (*models.AttendanceEntry, error)
	GetEntryByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.AttendanceEntry, error)
	CreateEntry(ctx context.Context, q sqlx.ExtContext, entry *models.AttendanceEntry, records []models.StudentRecord) error
	UpsertRecord(ctx context.Context, q sqlx.ExtContext, rec *models.StudentRecord) error
	GetRecord(ctx context.Context, q sqlx.ExtContext, entryID, studentID string) (*models.StudentRecord, error)
	RefreshTotals(ctx context.Context, q sqlx.ExtContext, entryID string, status models.EntryStatus) (*models.AttendanceTotals, error)
}

type rosterStore interface {
	FindClassByScope(ctx context.Context, q sqlx.ExtContext, scope models.AssignmentScope) (string, error)
	ListActiveStudentIDs(ctx context.Context, q sqlx.ExtContext, classID string) ([]string, error)
}

type assignmentLookup interface {
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.ClassAssignment, error)
}

type holidayLookup interface {
	FindByDateScope(ctx context.Context, dateKey, departmentID, classID string) ([]models.Holiday, error)
}

// ODReconciler applies approved OD_REQUEST changes to the attendance
// ledger. Marking a student OD is an upsert keyed by student id: approving
// the same request twice, or approving after the student was already
// marked, converges on the same ledger state.
type ODReconciler struct {
	attendance  attendanceStore
	enrollments rosterStore
	assignments assignmentLookup
	holidays    holidayLookup
	logger      *zap.Logger
	now         func() time.Time
}

// NewODReconciler constructs the reconciler.
func NewODReconciler(attendance attendanceStore, enrollments rosterStore, assignments assignmentLookup, holidays holidayLookup, logger *zap.Logger) *ODReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ODReconciler{
		attendance:  attendance,
		enrollments: enrollments,
		assignments: assignments,
		holidays:    holidays,
		logger:      logger,
		now:         time.Now,
	}
}

type odSummary struct {
	StudentID    string                  `json:"studentId"`
	ClassID      string                  `json:"classId"`
	Date         string                  `json:"date"`
	EntryID      string                  `json:"entryId"`
	Synthesized  bool                    `json:"synthesized,omitempty"`
	EntryStatus  models.EntryStatus      `json:"entryStatus"`
	Totals       models.AttendanceTotals `json:"totals"`
	PriorStatus  models.RecordStatus     `json:"priorStatus,omitempty"`
}

// Reconcile implements Reconciler for OD_REQUEST.
func (r *ODReconciler) Reconcile(ctx context.Context, tx sqlx.ExtContext, req *models.ApprovalRequest) (json.RawMessage, error) {
	var details dto.ODRequestDetails
	if err := json.Unmarshal(req.Details, &details); err != nil {
		return nil, appErrors.Clone(appErrors.ErrReconciliation, "OD_REQUEST details are unreadable")
	}
	date, err := time.Parse("2006-01-02", details.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrReconciliation, "OD_REQUEST date is not YYYY-MM-DD")
	}
	dateKey := models.DateKey(date)

	classID, err := resolveClassScope(ctx, tx, r.enrollments, r.assignments, details.ClassScope)
	if err != nil {
		return nil, err
	}

	entry, err := r.attendance.GetEntry(ctx, tx, classID, dateKey)
	switch {
	case err == nil:
		return r.markExisting(ctx, tx, entry, details, dateKey)
	case errors.Is(err, sql.ErrNoRows):
		// Synthesis is only legal while the day has not passed. A request
		// approved after its date means the day was never marked, and an OD
		// cannot be approved retroactively into a day with no ledger entry.
		today := r.now().UTC().Truncate(24 * time.Hour)
		if !details.Future || date.Before(today) {
			return nil, appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("no attendance entry for class %s on %s", classID, dateKey))
		}
		return r.synthesize(ctx, tx, classID, date, details, req.RequestedBy)
	default:
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}
}

// resolveClassScope accepts either a batch/year/semester/section tuple or
// a class-assignment id.
func resolveClassScope(ctx context.Context, tx sqlx.ExtContext, enrollments rosterStore, assignments assignmentLookup, scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if parts := strings.Split(scope, "/"); len(parts) == 4 {
		year, yearErr := strconv.Atoi(parts[1])
		semester, semErr := strconv.Atoi(parts[2])
		if yearErr == nil && semErr == nil {
			classID, err := enrollments.FindClassByScope(ctx, tx, models.AssignmentScope{
				Batch:    parts[0],
				Year:     year,
				Semester: semester,
				Section:  parts[3],
			})
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return "", appErrors.Clone(appErrors.ErrNotFound,
						fmt.Sprintf("no class matches scope %s", scope))
				}
				return "", fmt.Errorf("resolve class scope: %w", err)
			}
			return classID, nil
		}
	}
	assignment, err := assignments.GetByID(ctx, tx, scope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("no class matches scope %s", scope))
		}
		return "", fmt.Errorf("resolve assignment scope: %w", err)
	}
	return assignment.ClassID, nil
}

// markExisting flips one record to OD inside an existing entry and
// recomputes the totals. Entries still collecting keep their status; all
// others become modified.
func (r *ODReconciler) markExisting(ctx context.Context, tx sqlx.ExtContext, entry *models.AttendanceEntry, details dto.ODRequestDetails, dateKey string) (json.RawMessage, error) {
	summary := odSummary{
		StudentID: details.StudentID,
		ClassID:   entry.ClassID,
		Date:      dateKey,
		EntryID:   entry.ID,
	}
	if prior, err := r.attendance.GetRecord(ctx, tx, entry.ID, details.StudentID); err == nil {
		summary.PriorStatus = prior.Status
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load student record: %w", err)
	}

	reason := details.Reason
	if err := r.attendance.UpsertRecord(ctx, tx, &models.StudentRecord{
		EntryID:   entry.ID,
		StudentID: details.StudentID,
		Status:    models.RecordStatusOD,
		Reason:    &reason,
	}); err != nil {
		return nil, fmt.Errorf("mark student od: %w", err)
	}

	status := entry.Status
	if status != models.EntryStatusCollecting {
		status = models.EntryStatusModified
	}
	totals, err := r.attendance.RefreshTotals(ctx, tx, entry.ID, status)
	if err != nil {
		return nil, fmt.Errorf("refresh ledger totals: %w", err)
	}
	summary.EntryStatus = status
	summary.Totals = *totals
	return json.Marshal(summary)
}

// synthesize creates the whole ledger entry for a future-dated approval:
// everyone enrolled is present except the requesting student, who is OD.
// The entry lands finalized so day-of marking cannot silently overwrite
// the approved exemption.
func (r *ODReconciler) synthesize(ctx context.Context, tx sqlx.ExtContext, classID string, date time.Time, details dto.ODRequestDetails, markedBy string) (json.RawMessage, error) {
	dateKey := models.DateKey(date)
	declared, err := r.holidays.FindByDateScope(ctx, dateKey, "", classID)
	if err != nil {
		return nil, fmt.Errorf("check holiday declarations: %w", err)
	}
	if len(declared) > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("%s is a declared holiday for class %s", dateKey, classID))
	}

	studentIDs, err := r.enrollments.ListActiveStudentIDs(ctx, tx, classID)
	if err != nil {
		return nil, err
	}
	if len(studentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrReconciliation,
			fmt.Sprintf("class %s has no enrolled students", classID))
	}

	reason := details.Reason
	records := make([]models.StudentRecord, 0, len(studentIDs))
	found := false
	for _, id := range studentIDs {
		rec := models.StudentRecord{StudentID: id, Status: models.RecordStatusPresent}
		if id == details.StudentID {
			rec.Status = models.RecordStatusOD
			rec.Reason = &reason
			found = true
		}
		records = append(records, rec)
	}
	if !found {
		return nil, appErrors.Clone(appErrors.ErrNotFound,
			fmt.Sprintf("student %s is not enrolled in class %s", details.StudentID, classID))
	}

	entry := &models.AttendanceEntry{
		ClassID:  classID,
		Date:     date,
		Status:   models.EntryStatusFinalized,
		MarkedBy: &markedBy,
	}
	if err := r.attendance.CreateEntry(ctx, tx, entry, records); err != nil {
		return nil, fmt.Errorf("synthesize ledger entry: %w", err)
	}

	summary := odSummary{
		StudentID:   details.StudentID,
		ClassID:     classID,
		Date:        dateKey,
		EntryID:     entry.ID,
		Synthesized: true,
		EntryStatus: entry.Status,
		Totals:      entry.AttendanceTotals,
	}
	return json.Marshal(summary)
}
