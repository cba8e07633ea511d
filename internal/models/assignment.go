package models

import "time"

// AssignmentStatus is the single source of truth for an assignment's state.
// The legacy boolean column it replaces is back-filled and dropped by
// cmd/statusmigrate.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "Active"
	AssignmentInactive  AssignmentStatus = "Inactive"
	AssignmentCompleted AssignmentStatus = "Completed"
)

// AssignmentScope identifies one teaching group plus the advisor role held
// in it. At most one Active assignment may exist per scope.
type AssignmentScope struct {
	Batch        string `db:"batch" json:"batch"`
	Year         int    `db:"year" json:"year"`
	Semester     int    `db:"semester" json:"semester"`
	Section      string `db:"section" json:"section"`
	DepartmentID string `db:"department_id" json:"departmentId"`
	Role         string `db:"role" json:"role"`
}

// ClassAssignment binds a faculty member to an advisor role for a scope.
type ClassAssignment struct {
	ID        string `db:"id" json:"id"`
	FacultyID string `db:"faculty_id" json:"facultyId"`
	AssignmentScope
	ClassID   string           `db:"class_id" json:"classId"`
	Status    AssignmentStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time        `db:"updated_at" json:"updatedAt"`
}

// AssignmentTransition is one append-only status history row.
type AssignmentTransition struct {
	ID           string           `db:"id" json:"id"`
	AssignmentID string           `db:"assignment_id" json:"assignmentId"`
	FromStatus   AssignmentStatus `db:"from_status" json:"fromStatus"`
	ToStatus     AssignmentStatus `db:"to_status" json:"toStatus"`
	Actor        string           `db:"actor" json:"actor"`
	Reason       string           `db:"reason" json:"reason"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
}

// HODStatus mirrors AssignmentStatus for department head mappings.
type HODStatus string

const (
	HODActive   HODStatus = "active"
	HODInactive HODStatus = "inactive"
)

// HODMapping holds the head-of-department binding. At most one active
// mapping may exist per department.
type HODMapping struct {
	ID           string    `db:"id" json:"id"`
	DepartmentID string    `db:"department_id" json:"departmentId"`
	FacultyID    string    `db:"faculty_id" json:"facultyId"`
	Status       HODStatus `db:"status" json:"status"`
	AssignedBy   string    `db:"assigned_by" json:"assignedBy"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// ReassignmentResult summarises an advisor reassignment for audit snapshots.
type ReassignmentResult struct {
	NewAssignment   *ClassAssignment  `json:"newAssignment"`
	Deactivated     []ClassAssignment `json:"deactivatedAssignments,omitempty"`
	ReplacedAdvisor *string           `json:"replacedAdvisor,omitempty"`
}
