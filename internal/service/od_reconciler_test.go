package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clg-aas-api/internal/models"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

type attendanceStoreStub struct {
	entries map[string]*models.AttendanceEntry // keyed by classID|dateKey
	byID    map[string]*models.AttendanceEntry
	records map[string]map[string]*models.StudentRecord // entryID -> studentID
	nextID  int
}

func newAttendanceStoreStub() *attendanceStoreStub {
	return &attendanceStoreStub{
		entries: make(map[string]*models.AttendanceEntry),
		byID:    make(map[string]*models.AttendanceEntry),
		records: make(map[string]map[string]*models.StudentRecord),
	}
}

func (s *attendanceStoreStub) addEntry(classID, dateKey string, status models.EntryStatus, records ...models.StudentRecord) *models.AttendanceEntry {
	s.nextID++
	entry := &models.AttendanceEntry{
		ID:      dateKey + "-" + classID,
		ClassID: classID,
		Status:  status,
	}
	s.entries[classID+"|"+dateKey] = entry
	s.byID[entry.ID] = entry
	s.records[entry.ID] = make(map[string]*models.StudentRecord)
	for i := range records {
		rec := records[i]
		rec.EntryID = entry.ID
		s.records[entry.ID][rec.StudentID] = &rec
	}
	entry.AttendanceTotals = models.RecomputeTotals(s.listRecords(entry.ID))
	return entry
}

func (s *attendanceStoreStub) listRecords(entryID string) []models.StudentRecord {
	result := make([]models.StudentRecord, 0, len(s.records[entryID]))
	for _, rec := range s.records[entryID] {
		result = append(result, *rec)
	}
	return result
}

func (s *attendanceStoreStub) GetEntry(_ context.Context, _ sqlx.ExtContext, classID, dateKey string) (*models.AttendanceEntry, error) {
	entry, ok := s.entries[classID+"|"+dateKey]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *entry
	return &copy, nil
}

func (s *attendanceStoreStub) GetEntryByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.AttendanceEntry, error) {
	entry, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *entry
	return &copy, nil
}

func (s *attendanceStoreStub) CreateEntry(_ context.Context, _ sqlx.ExtContext, entry *models.AttendanceEntry, records []models.StudentRecord) error {
	entry.ID = models.DateKey(entry.Date) + "-" + entry.ClassID
	entry.AttendanceTotals = models.RecomputeTotals(records)
	s.entries[entry.ClassID+"|"+models.DateKey(entry.Date)] = entry
	s.byID[entry.ID] = entry
	s.records[entry.ID] = make(map[string]*models.StudentRecord)
	for i := range records {
		rec := records[i]
		rec.EntryID = entry.ID
		s.records[entry.ID][rec.StudentID] = &rec
	}
	return nil
}

func (s *attendanceStoreStub) UpsertRecord(_ context.Context, _ sqlx.ExtContext, rec *models.StudentRecord) error {
	bucket, ok := s.records[rec.EntryID]
	if !ok {
		bucket = make(map[string]*models.StudentRecord)
		s.records[rec.EntryID] = bucket
	}
	copy := *rec
	bucket[rec.StudentID] = &copy
	return nil
}

func (s *attendanceStoreStub) GetRecord(_ context.Context, _ sqlx.ExtContext, entryID, studentID string) (*models.StudentRecord, error) {
	rec, ok := s.records[entryID][studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *rec
	return &copy, nil
}

func (s *attendanceStoreStub) ListRecords(_ context.Context, _ sqlx.ExtContext, entryID string) ([]models.StudentRecord, error) {
	return s.listRecords(entryID), nil
}

func (s *attendanceStoreStub) RefreshTotals(_ context.Context, _ sqlx.ExtContext, entryID string, status models.EntryStatus) (*models.AttendanceTotals, error) {
	entry, ok := s.byID[entryID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	entry.Status = status
	entry.AttendanceTotals = models.RecomputeTotals(s.listRecords(entryID))
	totals := entry.AttendanceTotals
	return &totals, nil
}

type rosterStoreStub struct {
	classes map[string]string // scope tuple -> class id
	rosters map[string][]string
}

func newRosterStoreStub() *rosterStoreStub {
	return &rosterStoreStub{classes: make(map[string]string), rosters: make(map[string][]string)}
}

func (s *rosterStoreStub) FindClassByScope(_ context.Context, _ sqlx.ExtContext, scope models.AssignmentScope) (string, error) {
	key := scope.Batch
	if classID, ok := s.classes[key]; ok {
		return classID, nil
	}
	return "", sql.ErrNoRows
}

func (s *rosterStoreStub) ListActiveStudentIDs(_ context.Context, _ sqlx.ExtContext, classID string) ([]string, error) {
	return s.rosters[classID], nil
}

type assignmentLookupStub struct {
	assignments map[string]*models.ClassAssignment
}

func (s *assignmentLookupStub) GetByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.ClassAssignment, error) {
	assignment, ok := s.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return assignment, nil
}

type holidayLookupStub struct {
	declared map[string][]models.Holiday // dateKey|classID
}

func (s *holidayLookupStub) FindByDateScope(_ context.Context, dateKey, _, classID string) ([]models.Holiday, error) {
	return s.declared[dateKey+"|"+classID], nil
}

// testODReconciler pins the clock to the morning of 2026-09-10 so the
// future/past boundary in the tests is deterministic.
func testODReconciler(attendance *attendanceStoreStub, roster *rosterStoreStub, lookup *assignmentLookupStub, holidays *holidayLookupStub) *ODReconciler {
	if holidays == nil {
		holidays = &holidayLookupStub{}
	}
	r := NewODReconciler(attendance, roster, lookup, holidays, nil)
	r.now = func() time.Time { return time.Date(2026, 9, 10, 8, 0, 0, 0, time.UTC) }
	return r
}

func odRequest(date string, future bool) *models.ApprovalRequest {
	details, _ := json.Marshal(map[string]interface{}{
		"studentId":  "stu-2",
		"date":       date,
		"reason":     "district level sports meet",
		"classScope": "2024/2/3/A",
		"future":     future,
	})
	return &models.ApprovalRequest{
		ID:          "OD-1",
		Type:        models.RequestTypeOD,
		RequestedBy: "faculty-1",
		Details:     details,
		Status:      models.RequestStatusPending,
	}
}

func TestODReconcilerMarksExistingEntry(t *testing.T) {
	attendance := newAttendanceStoreStub()
	entry := attendance.addEntry("class-1", "2026-09-10", models.EntryStatusFinalized,
		models.StudentRecord{StudentID: "stu-1", Status: models.RecordStatusPresent},
		models.StudentRecord{StudentID: "stu-2", Status: models.RecordStatusAbsent},
	)
	roster := newRosterStoreStub()
	roster.classes["2024"] = "class-1"

	r := testODReconciler(attendance, roster, &assignmentLookupStub{}, nil)
	summary, err := r.Reconcile(context.Background(), nil, odRequest("2026-09-10", false))
	require.NoError(t, err)

	rec := attendance.records[entry.ID]["stu-2"]
	require.Equal(t, models.RecordStatusOD, rec.Status)
	require.Equal(t, models.EntryStatusModified, attendance.byID[entry.ID].Status)
	require.Equal(t, 1, attendance.byID[entry.ID].TotalOD)
	require.Equal(t, 0, attendance.byID[entry.ID].TotalAbsent)

	var parsed odSummary
	require.NoError(t, json.Unmarshal(summary, &parsed))
	require.False(t, parsed.Synthesized)
	require.Equal(t, models.RecordStatusAbsent, parsed.PriorStatus)
}

func TestODReconcilerIdempotentReapproval(t *testing.T) {
	attendance := newAttendanceStoreStub()
	entry := attendance.addEntry("class-1", "2026-09-10", models.EntryStatusModified,
		models.StudentRecord{StudentID: "stu-2", Status: models.RecordStatusOD},
	)
	roster := newRosterStoreStub()
	roster.classes["2024"] = "class-1"

	r := testODReconciler(attendance, roster, &assignmentLookupStub{}, nil)
	_, err := r.Reconcile(context.Background(), nil, odRequest("2026-09-10", false))
	require.NoError(t, err)

	// Same ledger state after reapplying: still one OD record.
	require.Len(t, attendance.records[entry.ID], 1)
	require.Equal(t, 1, attendance.byID[entry.ID].TotalOD)
}

func TestODReconcilerCollectingEntryKeepsStatus(t *testing.T) {
	attendance := newAttendanceStoreStub()
	entry := attendance.addEntry("class-1", "2026-09-10", models.EntryStatusCollecting,
		models.StudentRecord{StudentID: "stu-2", Status: models.RecordStatusPresent},
	)
	roster := newRosterStoreStub()
	roster.classes["2024"] = "class-1"

	r := testODReconciler(attendance, roster, &assignmentLookupStub{}, nil)
	_, err := r.Reconcile(context.Background(), nil, odRequest("2026-09-10", false))
	require.NoError(t, err)
	require.Equal(t, models.EntryStatusCollecting, attendance.byID[entry.ID].Status)
}

func TestODReconcilerSynthesizesFutureEntry(t *testing.T) {
	attendance := newAttendanceStoreStub()
	roster := newRosterStoreStub()
	roster.classes["2024"] = "class-1"
	roster.rosters["class-1"] = []string{"stu-1", "stu-2", "stu-3"}

	r := testODReconciler(attendance, roster, &assignmentLookupStub{}, nil)
	summary, err := r.Reconcile(context.Background(), nil, odRequest("2026-09-15", true))
	require.NoError(t, err)

	var parsed odSummary
	require.NoError(t, json.Unmarshal(summary, &parsed))
	require.True(t, parsed.Synthesized)
	require.Equal(t, models.EntryStatusFinalized, parsed.EntryStatus)
	require.Equal(t, 3, parsed.Totals.TotalStudents)
	require.Equal(t, 2, parsed.Totals.TotalPresent)
	require.Equal(t, 1, parsed.Totals.TotalOD)

	rec := attendance.records[parsed.EntryID]["stu-2"]
	require.Equal(t, models.RecordStatusOD, rec.Status)
}

func TestODReconcilerMissingEntryNotFuture(t *testing.T) {
	roster := newRosterStoreStub()
	roster.classes["2024"] = "class-1"
	r := testODReconciler(newAttendanceStoreStub(), roster, &assignmentLookupStub{}, nil)

	_, err := r.Reconcile(context.Background(), nil, odRequest("2026-09-15", false))
	require.True(t, appErrors.IsNotFound(err))
}

func TestODReconcilerStaleFutureRequestAfterDatePassed(t *testing.T) {
	attendance := newAttendanceStoreStub()
	roster := newRosterStoreStub()
	roster.classes["2024"] = "class-1"
	roster.rosters["class-1"] = []string{"stu-1", "stu-2"}
	r := testODReconciler(attendance, roster, &assignmentLookupStub{}, nil)

	// Submitted ahead of time but approved only after the date passed. The
	// day was never marked, so approval cannot create it retroactively.
	_, err := r.Reconcile(context.Background(), nil, odRequest("2026-09-05", true))
	require.True(t, appErrors.IsNotFound(err))
	require.Empty(t, attendance.byID)
}

func TestODReconcilerDeclaredHolidayBlocksSynthesis(t *testing.T) {
	attendance := newAttendanceStoreStub()
	roster := newRosterStoreStub()
	roster.classes["2024"] = "class-1"
	roster.rosters["class-1"] = []string{"stu-1", "stu-2"}
	holidays := &holidayLookupStub{declared: map[string][]models.Holiday{
		"2026-09-15|class-1": {{ID: "hol-1", Scope: models.HolidayScopeGlobal}},
	}}
	r := testODReconciler(attendance, roster, &assignmentLookupStub{}, holidays)

	_, err := r.Reconcile(context.Background(), nil, odRequest("2026-09-15", true))
	require.True(t, appErrors.IsConflict(err))
	require.Empty(t, attendance.byID)
}

func TestODReconcilerStudentNotEnrolled(t *testing.T) {
	roster := newRosterStoreStub()
	roster.classes["2024"] = "class-1"
	roster.rosters["class-1"] = []string{"stu-1", "stu-3"}
	r := testODReconciler(newAttendanceStoreStub(), roster, &assignmentLookupStub{}, nil)

	_, err := r.Reconcile(context.Background(), nil, odRequest("2026-09-15", true))
	require.True(t, appErrors.IsNotFound(err))
}

func TestODReconcilerResolvesAssignmentScope(t *testing.T) {
	attendance := newAttendanceStoreStub()
	attendance.addEntry("class-7", "2026-09-10", models.EntryStatusFinalized,
		models.StudentRecord{StudentID: "stu-2", Status: models.RecordStatusAbsent},
	)
	lookup := &assignmentLookupStub{assignments: map[string]*models.ClassAssignment{
		"assign-1": {ID: "assign-1", ClassID: "class-7"},
	}}

	details, _ := json.Marshal(map[string]interface{}{
		"studentId":  "stu-2",
		"date":       "2026-09-10",
		"reason":     "paper presentation at symposium",
		"classScope": "assign-1",
	})
	req := &models.ApprovalRequest{ID: "OD-2", Type: models.RequestTypeOD, Details: details}

	r := testODReconciler(attendance, newRosterStoreStub(), lookup, nil)
	_, err := r.Reconcile(context.Background(), nil, req)
	require.NoError(t, err)
}

func TestAttendanceEditReconciler(t *testing.T) {
	attendance := newAttendanceStoreStub()
	entry := attendance.addEntry("class-1", "2026-09-10", models.EntryStatusFinalized,
		models.StudentRecord{StudentID: "stu-1", Status: models.RecordStatusAbsent},
	)

	details, _ := json.Marshal(map[string]string{
		"attendanceEntryId": entry.ID,
		"studentId":         "stu-1",
		"date":              "2026-09-10",
		"originalStatus":    "absent",
		"newStatus":         "present",
		"reason":            "biometric device failure",
	})
	req := &models.ApprovalRequest{ID: "ATT-1", Type: models.RequestTypeAttendanceEdit, Details: details}

	r := NewAttendanceEditReconciler(attendance)
	summary, err := r.Reconcile(context.Background(), nil, req)
	require.NoError(t, err)

	require.Equal(t, models.RecordStatusPresent, attendance.records[entry.ID]["stu-1"].Status)
	require.Equal(t, models.EntryStatusModified, attendance.byID[entry.ID].Status)
	require.Equal(t, 1, attendance.byID[entry.ID].TotalPresent)

	var parsed attendanceEditSummary
	require.NoError(t, json.Unmarshal(summary, &parsed))
	require.Equal(t, models.RecordStatusAbsent, parsed.FromStatus)
	require.Equal(t, models.RecordStatusPresent, parsed.ToStatus)
}

func TestAttendanceEditReconcilerMissingRecord(t *testing.T) {
	attendance := newAttendanceStoreStub()
	entry := attendance.addEntry("class-1", "2026-09-10", models.EntryStatusFinalized)

	details, _ := json.Marshal(map[string]string{
		"attendanceEntryId": entry.ID,
		"studentId":         "ghost",
		"date":              "2026-09-10",
		"originalStatus":    "absent",
		"newStatus":         "present",
		"reason":            "correction",
	})
	req := &models.ApprovalRequest{ID: "ATT-2", Type: models.RequestTypeAttendanceEdit, Details: details}

	r := NewAttendanceEditReconciler(attendance)
	_, err := r.Reconcile(context.Background(), nil, req)
	require.True(t, appErrors.IsNotFound(err))
}

func TestLeaveExceptionReconciler(t *testing.T) {
	attendance := newAttendanceStoreStub()
	entry := attendance.addEntry("class-1", "2026-09-10", models.EntryStatusFinalized,
		models.StudentRecord{StudentID: "faculty-1", Status: models.RecordStatusAbsent},
	)
	roster := newRosterStoreStub()
	roster.classes["2024"] = "class-1"

	details, _ := json.Marshal(map[string]string{
		"date":       "2026-09-10",
		"classScope": "2024/2/3/A",
		"correction": "present",
		"reason":     "was on approved duty",
	})
	req := &models.ApprovalRequest{ID: "LVE-1", Type: models.RequestTypeLeaveException, RequestedBy: "faculty-1", Details: details}

	r := NewLeaveExceptionReconciler(attendance, roster, &assignmentLookupStub{})
	_, err := r.Reconcile(context.Background(), nil, req)
	require.NoError(t, err)
	require.Equal(t, models.RecordStatusPresent, attendance.records[entry.ID]["faculty-1"].Status)
}

func TestHolidayReconciler(t *testing.T) {
	created := make([]*models.Holiday, 0, 1)
	r := NewHolidayReconciler(holidayStoreFunc(func(_ context.Context, _ sqlx.ExtContext, holiday *models.Holiday) error {
		created = append(created, holiday)
		return nil
	}))

	details, _ := json.Marshal(map[string]string{
		"date":       "2026-10-02",
		"department": "CSE",
		"scope":      "department",
		"reason":     "founders day",
	})
	req := &models.ApprovalRequest{ID: "HOL-1", Type: models.RequestTypeHoliday, RequestedBy: "hod-1", Details: details}

	_, err := r.Reconcile(context.Background(), nil, req)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, models.HolidayScopeDepartment, created[0].Scope)
	require.Equal(t, "hod-1", created[0].DeclaredBy)
	require.Equal(t, time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC), created[0].Date)
}

type holidayStoreFunc func(ctx context.Context, q sqlx.ExtContext, holiday *models.Holiday) error

func (f holidayStoreFunc) Create(ctx context.Context, q sqlx.ExtContext, holiday *models.Holiday) error {
	return f(ctx, q, holiday)
}
