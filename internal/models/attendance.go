package models

import "time"

// RecordStatus is a single student's attendance state for a day.
type RecordStatus string

const (
	RecordStatusPresent RecordStatus = "present"
	RecordStatusAbsent  RecordStatus = "absent"
	RecordStatusOD      RecordStatus = "od"
)

// Valid reports whether the status is a supported marking.
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusPresent, RecordStatusAbsent, RecordStatusOD:
		return true
	}
	return false
}

// EntryStatus tracks the collection state of a ledger entry.
type EntryStatus string

const (
	EntryStatusCollecting EntryStatus = "collecting"
	EntryStatusFinalized  EntryStatus = "finalized"
	EntryStatusModified   EntryStatus = "modified"
)

// StudentRecord is one per-student line inside a ledger entry. No two
// records in an entry share a StudentID.
type StudentRecord struct {
	ID           string       `db:"id" json:"id"`
	EntryID      string       `db:"entry_id" json:"entryId"`
	StudentID    string       `db:"student_id" json:"studentId"`
	Status       RecordStatus `db:"status" json:"status"`
	Reason       *string      `db:"reason" json:"reason,omitempty"`
	ReviewStatus *string      `db:"review_status" json:"reviewStatus,omitempty"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updatedAt"`
}

// AttendanceTotals are derived counters; always a pure function of the
// entry's records, never trusted from storage without a recompute.
type AttendanceTotals struct {
	TotalStudents int `db:"total_students" json:"totalStudents"`
	TotalPresent  int `db:"total_present" json:"totalPresent"`
	TotalAbsent   int `db:"total_absent" json:"totalAbsent"`
	TotalOD       int `db:"total_od" json:"totalOD"`
}

// AttendanceEntry is the per-class-per-day ledger aggregate.
type AttendanceEntry struct {
	ID      string      `db:"id" json:"id"`
	ClassID string      `db:"class_id" json:"classId"`
	Date    time.Time   `db:"date" json:"date"`
	Status  EntryStatus `db:"status" json:"status"`
	AttendanceTotals
	MarkedBy  *string   `db:"marked_by" json:"markedBy,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// RecomputeTotals derives the counters from scratch. Every write path goes
// through this; totals are never adjusted incrementally.
func RecomputeTotals(records []StudentRecord) AttendanceTotals {
	totals := AttendanceTotals{TotalStudents: len(records)}
	for _, rec := range records {
		switch rec.Status {
		case RecordStatusPresent:
			totals.TotalPresent++
		case RecordStatusAbsent:
			totals.TotalAbsent++
		case RecordStatusOD:
			totals.TotalOD++
		}
	}
	return totals
}

// DateKey normalises a timestamp to the canonical YYYY-MM-DD ledger key.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
