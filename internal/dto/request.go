package dto

import (
	"encoding/json"

	"github.com/noah-isme/clg-aas-api/internal/models"
)

// SubmitRequestRequest is the payload for creating an approval request.
// Details is a type-specific union validated by the request service.
type SubmitRequestRequest struct {
	Type     models.RequestType     `json:"type"`
	Priority models.RequestPriority `json:"priority"`
	Details  json.RawMessage        `json:"details"`
}

// HODChangeDetails is the HOD_CHANGE payload.
type HODChangeDetails struct {
	Department string `json:"department"`
	Action     string `json:"action"` // assign | replace | remove
	NewHolder  string `json:"newHolder,omitempty"`
	OldHolder  string `json:"oldHolder,omitempty"`
	Reason     string `json:"reason"`
}

// ODRequestDetails is the OD_REQUEST payload. Future is set at submission
// when the target date had not yet occurred; the OD reconciler may then
// synthesize a ledger entry if none exists when approval lands.
type ODRequestDetails struct {
	StudentID  string `json:"studentId"`
	Date       string `json:"date"` // YYYY-MM-DD
	Reason     string `json:"reason"`
	ClassScope string `json:"classScope"` // "batch/year/semester/section" or assignment id
	Future     bool   `json:"future,omitempty"`
}

// HolidayDetails is the HOLIDAY_REQUEST payload.
type HolidayDetails struct {
	Date       string              `json:"date"`
	Department string              `json:"department"`
	Scope      models.HolidayScope `json:"scope"`
	ClassID    string              `json:"classId,omitempty"`
	Reason     string              `json:"reason"`
}

// AttendanceEditDetails is the ATTENDANCE_EDIT payload.
type AttendanceEditDetails struct {
	AttendanceEntryID string              `json:"attendanceEntryId"`
	StudentID         string              `json:"studentId"`
	Date              string              `json:"date"`
	OriginalStatus    models.RecordStatus `json:"originalStatus"`
	NewStatus         models.RecordStatus `json:"newStatus"`
	Reason            string              `json:"reason"`
}

// LeaveExceptionDetails is the LEAVE_EXCEPTION payload, recorded against
// the submitting faculty's own attendance context. Correction is the
// record status the requester's entry should carry after approval.
type LeaveExceptionDetails struct {
	Date       string              `json:"date"`
	ClassScope string              `json:"classScope"`
	Correction models.RecordStatus `json:"correction"`
	Reason     string              `json:"reason"`
}

// DecideRequest carries the optional reviewer remarks.
type DecideRequest struct {
	Remarks string `json:"remarks"`
}

// DecisionResult returns the updated request plus, on approval, the
// reconciler's result summary.
type DecisionResult struct {
	Request *models.ApprovalRequest `json:"request"`
	Result  json.RawMessage         `json:"result,omitempty"`
}

// RequestQuery mirrors supported listing filters.
type RequestQuery struct {
	Status []models.RequestStatus
	Type   models.RequestType
	Limit  int
	Offset int
}
