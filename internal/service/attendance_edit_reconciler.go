package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

// AttendanceEditReconciler applies approved ATTENDANCE_EDIT requests /
// corrections to an existing ledger record. Unlike OD approvals it never
// synthesizes entries; the entry and the student's record must both exist.
type AttendanceEditReconciler struct {
	attendance attendanceStore
}

// NewAttendanceEditReconciler constructs the reconciler.
func NewAttendanceEditReconciler(attendance attendanceStore) *AttendanceEditReconciler {
	return &AttendanceEditReconciler{attendance: attendance}
}

type attendanceEditSummary struct {
	EntryID     string                  `json:"entryId"`
	StudentID   string                  `json:"studentId"`
	FromStatus  models.RecordStatus     `json:"fromStatus"`
	ToStatus    models.RecordStatus     `json:"toStatus"`
	EntryStatus models.EntryStatus      `json:"entryStatus"`
	Totals      models.AttendanceTotals `json:"totals"`
}

// Reconcile implements Reconciler for ATTENDANCE_EDIT.
func (r *AttendanceEditReconciler) Reconcile(ctx context.Context, tx sqlx.ExtContext, req *models.ApprovalRequest) (json.RawMessage, error) {
	var details dto.AttendanceEditDetails
	if err := json.Unmarshal(req.Details, &details); err != nil {
		return nil, appErrors.Clone(appErrors.ErrReconciliation, "ATTENDANCE_EDIT details are unreadable")
	}

	entry, err := r.attendance.GetEntryByID(ctx, tx, details.AttendanceEntryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("attendance entry %s not found", details.AttendanceEntryID))
		}
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}

	record, err := r.attendance.GetRecord(ctx, tx, entry.ID, details.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("student %s has no record in entry %s", details.StudentID, entry.ID))
		}
		return nil, fmt.Errorf("load student record: %w", err)
	}

	reason := details.Reason
	record.Status = details.NewStatus
	record.Reason = &reason
	if err := r.attendance.UpsertRecord(ctx, tx, record); err != nil {
		return nil, fmt.Errorf("apply attendance edit: %w", err)
	}

	status := entry.Status
	if status != models.EntryStatusCollecting {
		status = models.EntryStatusModified
	}
	totals, err := r.attendance.RefreshTotals(ctx, tx, entry.ID, status)
	if err != nil {
		return nil, fmt.Errorf("refresh ledger totals: %w", err)
	}

	return json.Marshal(attendanceEditSummary{
		EntryID:     entry.ID,
		StudentID:   details.StudentID,
		FromStatus:  details.OriginalStatus,
		ToStatus:    details.NewStatus,
		EntryStatus: status,
		Totals:      *totals,
	})
}
