package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clg-aas-api/internal/models"
)

// AttendanceRepository persists per-class-per-day ledger entries and their
// student records. Derived totals are rewritten from a full recompute on
// every mutation; they are never trusted from a previous read.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

func (r *AttendanceRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

const entryColumns = `id, class_id, date, status, total_students, total_present, total_absent, total_od, marked_by, created_at, updated_at`

// GetEntry loads the ledger entry for a class and canonical date key.
func (r *AttendanceRepository) GetEntry(ctx context.Context, q sqlx.ExtContext, classID, dateKey string) (*models.AttendanceEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_entries WHERE class_id = $1 AND date = $2`, entryColumns)
	var entry models.AttendanceEntry
	if err := sqlx.GetContext(ctx, r.ext(q), &entry, query, classID, dateKey); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEntryByID loads a ledger entry by its identifier.
func (r *AttendanceRepository) GetEntryByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.AttendanceEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_entries WHERE id = $1`, entryColumns)
	var entry models.AttendanceEntry
	if err := sqlx.GetContext(ctx, r.ext(q), &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// CreateEntry inserts a new entry plus its initial records and writes the
// totals from a fresh recompute.
func (r *AttendanceRepository) CreateEntry(ctx context.Context, q sqlx.ExtContext, entry *models.AttendanceEntry, records []models.StudentRecord) error {
	e := r.ext(q)
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	entry.AttendanceTotals = models.RecomputeTotals(records)

	const query = `INSERT INTO attendance_entries
	(id, class_id, date, status, total_students, total_present, total_absent, total_od, marked_by, created_at, updated_at)
	VALUES (:id, :class_id, :date, :status, :total_students, :total_present, :total_absent, :total_od, :marked_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, e, query, entry); err != nil {
		return fmt.Errorf("create attendance entry: %w", err)
	}
	for i := range records {
		rec := &records[i]
		rec.EntryID = entry.ID
		if err := r.UpsertRecord(ctx, e, rec); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRecord inserts or updates one student's record. Keyed on
// (entry_id, student_id) so a retried write converges instead of
// duplicating the student.
func (r *AttendanceRepository) UpsertRecord(ctx context.Context, q sqlx.ExtContext, rec *models.StudentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO attendance_records (id, entry_id, student_id, status, reason, review_status, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (entry_id, student_id)
	DO UPDATE SET status = EXCLUDED.status, reason = EXCLUDED.reason, review_status = EXCLUDED.review_status, updated_at = EXCLUDED.updated_at`
	if _, err := r.ext(q).ExecContext(ctx, query, rec.ID, rec.EntryID, rec.StudentID, rec.Status, rec.Reason, rec.ReviewStatus, rec.UpdatedAt); err != nil {
		return fmt.Errorf("upsert attendance record: %w", err)
	}
	return nil
}

// GetRecord loads a single student's record within an entry.
func (r *AttendanceRepository) GetRecord(ctx context.Context, q sqlx.ExtContext, entryID, studentID string) (*models.StudentRecord, error) {
	const query = `SELECT id, entry_id, student_id, status, reason, review_status, updated_at
	FROM attendance_records WHERE entry_id = $1 AND student_id = $2`
	var rec models.StudentRecord
	if err := sqlx.GetContext(ctx, r.ext(q), &rec, query, entryID, studentID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns every record of an entry ordered by student id.
func (r *AttendanceRepository) ListRecords(ctx context.Context, q sqlx.ExtContext, entryID string) ([]models.StudentRecord, error) {
	const query = `SELECT id, entry_id, student_id, status, reason, review_status, updated_at
	FROM attendance_records WHERE entry_id = $1 ORDER BY student_id ASC`
	var records []models.StudentRecord
	if err := sqlx.SelectContext(ctx, r.ext(q), &records, query, entryID); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return records, nil
}

// RefreshTotals re-derives the entry's counters from its records and writes
// them together with the new entry status.
func (r *AttendanceRepository) RefreshTotals(ctx context.Context, q sqlx.ExtContext, entryID string, status models.EntryStatus) (*models.AttendanceTotals, error) {
	e := r.ext(q)
	records, err := r.ListRecords(ctx, e, entryID)
	if err != nil {
		return nil, err
	}
	totals := models.RecomputeTotals(records)
	_, err = e.ExecContext(ctx, `UPDATE attendance_entries
	SET total_students = $1, total_present = $2, total_absent = $3, total_od = $4, status = $5, updated_at = $6
	WHERE id = $7`,
		totals.TotalStudents, totals.TotalPresent, totals.TotalAbsent, totals.TotalOD, status, time.Now().UTC(), entryID)
	if err != nil {
		return nil, fmt.Errorf("refresh attendance totals: %w", err)
	}
	return &totals, nil
}
