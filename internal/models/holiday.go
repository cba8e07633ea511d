package models

import "time"

// HolidayScope bounds who a holiday declaration applies to.
type HolidayScope string

const (
	HolidayScopeGlobal     HolidayScope = "global"
	HolidayScopeDepartment HolidayScope = "department"
	HolidayScopeClass      HolidayScope = "class"
)

// Valid reports whether the scope is supported.
func (s HolidayScope) Valid() bool {
	switch s {
	case HolidayScopeGlobal, HolidayScopeDepartment, HolidayScopeClass:
		return true
	}
	return false
}

// Holiday is a declared non-working day. Declarations never mutate past
// attendance; they only affect future marking eligibility and reports.
type Holiday struct {
	ID           string       `db:"id" json:"id"`
	Date         time.Time    `db:"date" json:"date"`
	Scope        HolidayScope `db:"scope" json:"scope"`
	DepartmentID *string      `db:"department_id" json:"departmentId,omitempty"`
	ClassID      *string      `db:"class_id" json:"classId,omitempty"`
	Reason       string       `db:"reason" json:"reason"`
	DeclaredBy   string       `db:"declared_by" json:"declaredBy"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
}
