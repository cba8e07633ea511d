package models

import (
	"encoding/json"
	"time"
)

// RequestType enumerates the change-request categories the engine accepts.
type RequestType string

const (
	RequestTypeHODChange      RequestType = "HOD_CHANGE"
	RequestTypeOD             RequestType = "OD_REQUEST"
	RequestTypeHoliday        RequestType = "HOLIDAY_REQUEST"
	RequestTypeAttendanceEdit RequestType = "ATTENDANCE_EDIT"
	RequestTypeLeaveException RequestType = "LEAVE_EXCEPTION"
)

// Valid reports whether the type is one of the supported categories.
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeHODChange, RequestTypeOD, RequestTypeHoliday,
		RequestTypeAttendanceEdit, RequestTypeLeaveException:
		return true
	}
	return false
}

// Prefix returns the short id prefix used in request identifiers.
func (t RequestType) Prefix() string {
	switch t {
	case RequestTypeHODChange:
		return "HOD"
	case RequestTypeOD:
		return "OD"
	case RequestTypeHoliday:
		return "HOL"
	case RequestTypeAttendanceEdit:
		return "ATT"
	case RequestTypeLeaveException:
		return "LVE"
	}
	return "REQ"
}

// RequestStatus captures lifecycle states for approval requests.
// Approved and rejected are terminal.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// RequestPriority is informational only; the engine attaches no semantics.
type RequestPriority string

const (
	PriorityLow    RequestPriority = "LOW"
	PriorityMedium RequestPriority = "MEDIUM"
	PriorityHigh   RequestPriority = "HIGH"
)

// Valid reports whether the priority is a known level.
func (p RequestPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ApprovalRequest is a durable, human-originated change request awaiting a
// single authorized decision.
type ApprovalRequest struct {
	ID              string          `db:"id" json:"id"`
	Type            RequestType     `db:"type" json:"type"`
	RequestedBy     string          `db:"requested_by" json:"requestedBy"`
	RequestedByRole UserRole        `db:"requested_by_role" json:"requestedByRole"`
	Details         json.RawMessage `db:"details" json:"details"`
	Status          RequestStatus   `db:"status" json:"status"`
	Priority        RequestPriority `db:"priority" json:"priority"`
	DecidedBy       *string         `db:"decided_by" json:"decidedBy,omitempty"`
	DecidedOn       *time.Time      `db:"decided_on" json:"decidedOn,omitempty"`
	DecisionRemarks *string         `db:"decision_remarks" json:"decisionRemarks,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
}

// Decision is the embedded decision record; present only once non-pending.
type Decision struct {
	DecidedBy string        `json:"decidedBy"`
	DecidedOn time.Time     `json:"decidedOn"`
	Remarks   string        `json:"remarks,omitempty"`
	Outcome   RequestStatus `json:"outcome"`
}

// Decision materialises the decision record, nil while pending.
func (r *ApprovalRequest) DecisionRecord() *Decision {
	if r.Status == RequestStatusPending || r.DecidedBy == nil || r.DecidedOn == nil {
		return nil
	}
	d := &Decision{DecidedBy: *r.DecidedBy, DecidedOn: *r.DecidedOn, Outcome: r.Status}
	if r.DecisionRemarks != nil {
		d.Remarks = *r.DecisionRemarks
	}
	return d
}

// Audit actions recorded against a request.
const (
	AuditActionSubmitted      = "SUBMITTED"
	AuditActionApproved       = "APPROVED"
	AuditActionRejected       = "REJECTED"
	AuditActionApprovalFailed = "APPROVAL_FAILED"
)

// AuditEntry is one immutable line of a request's audit trail.
type AuditEntry struct {
	ID        string          `db:"id" json:"id"`
	RequestID string          `db:"request_id" json:"requestId"`
	Action    string          `db:"action" json:"action"`
	Actor     string          `db:"actor" json:"actor"`
	Before    json.RawMessage `db:"before_state" json:"before,omitempty"`
	After     json.RawMessage `db:"after_state" json:"after,omitempty"`
	Note      *string         `db:"note" json:"note,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	Status      []RequestStatus
	Type        RequestType
	RequestedBy string
	Limit       int
	Offset      int
}
