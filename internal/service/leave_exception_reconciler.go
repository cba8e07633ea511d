package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

// LeaveExceptionReconciler corrects the requesting faculty member's own
// record in their attendance context. The entry must already exist; leave
// exceptions fix a recorded day, they never create one.
type LeaveExceptionReconciler struct {
	attendance  attendanceStore
	enrollments rosterStore
	assignments assignmentLookup
}

// NewLeaveExceptionReconciler constructs the reconciler.
func NewLeaveExceptionReconciler(attendance attendanceStore, enrollments rosterStore, assignments assignmentLookup) *LeaveExceptionReconciler {
	return &LeaveExceptionReconciler{attendance: attendance, enrollments: enrollments, assignments: assignments}
}

type leaveExceptionSummary struct {
	EntryID     string                  `json:"entryId"`
	FacultyID   string                  `json:"facultyId"`
	Date        string                  `json:"date"`
	Correction  models.RecordStatus     `json:"correction"`
	EntryStatus models.EntryStatus      `json:"entryStatus"`
	Totals      models.AttendanceTotals `json:"totals"`
}

// Reconcile implements Reconciler for LEAVE_EXCEPTION.
func (r *LeaveExceptionReconciler) Reconcile(ctx context.Context, tx sqlx.ExtContext, req *models.ApprovalRequest) (json.RawMessage, error) {
	var details dto.LeaveExceptionDetails
	if err := json.Unmarshal(req.Details, &details); err != nil {
		return nil, appErrors.Clone(appErrors.ErrReconciliation, "LEAVE_EXCEPTION details are unreadable")
	}
	date, err := time.Parse("2006-01-02", details.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrReconciliation, "LEAVE_EXCEPTION date is not YYYY-MM-DD")
	}
	dateKey := models.DateKey(date)

	classID, err := resolveClassScope(ctx, tx, r.enrollments, r.assignments, details.ClassScope)
	if err != nil {
		return nil, err
	}

	entry, err := r.attendance.GetEntry(ctx, tx, classID, dateKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("no attendance entry for class %s on %s", classID, dateKey))
		}
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}

	reason := details.Reason
	if err := r.attendance.UpsertRecord(ctx, tx, &models.StudentRecord{
		EntryID:   entry.ID,
		StudentID: req.RequestedBy,
		Status:    details.Correction,
		Reason:    &reason,
	}); err != nil {
		return nil, fmt.Errorf("apply leave exception: %w", err)
	}

	status := entry.Status
	if status != models.EntryStatusCollecting {
		status = models.EntryStatusModified
	}
	totals, err := r.attendance.RefreshTotals(ctx, tx, entry.ID, status)
	if err != nil {
		return nil, fmt.Errorf("refresh ledger totals: %w", err)
	}

	return json.Marshal(leaveExceptionSummary{
		EntryID:     entry.ID,
		FacultyID:   req.RequestedBy,
		Date:        dateKey,
		Correction:  details.Correction,
		EntryStatus: status,
		Totals:      *totals,
	})
}
