package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clg-aas-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRequestRepositoryNextID(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nextval('approval_request_seq')")).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(42)))

	id, err := repo.NextID(context.Background(), models.RequestTypeOD)
	require.NoError(t, err)
	require.Regexp(t, `^OD-\d{14}-000042$`, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.ApprovalRequest{
		ID:              "OD-20260901000000-000001",
		Type:            models.RequestTypeOD,
		RequestedBy:     "faculty-1",
		RequestedByRole: models.RoleFaculty,
		Details:         []byte(`{"studentId":"stu-1"}`),
	}
	require.NoError(t, repo.Create(context.Background(), nil, req))
	require.Equal(t, models.RequestStatusPending, req.Status)
	require.Equal(t, models.PriorityMedium, req.Priority)

	rows := sqlmock.NewRows([]string{"id", "type", "requested_by", "requested_by_role", "details", "status", "priority", "decided_by", "decided_on", "decision_remarks", "created_at"}).
		AddRow(req.ID, "OD_REQUEST", "faculty-1", "FACULTY", []byte(`{"studentId":"stu-1"}`), "PENDING", "MEDIUM", nil, nil, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, type, requested_by")).
		WithArgs(req.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, found.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	rows := sqlmock.NewRows([]string{"id", "type", "requested_by", "requested_by_role", "details", "status", "priority", "decided_by", "decided_on", "decision_remarks", "created_at"}).
		AddRow("OD-1", "OD_REQUEST", "faculty-1", "FACULTY", []byte(`{}`), "PENDING", "MEDIUM", nil, nil, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, type, requested_by")).
		WithArgs("PENDING", "OD_REQUEST", "faculty-1").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.RequestFilter{
		Status:      []models.RequestStatus{models.RequestStatusPending},
		Type:        models.RequestTypeOD,
		RequestedBy: "faculty-1",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "OD-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryMarkDecided(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkDecided(context.Background(), nil, DecideParams{
		ID:        "OD-1",
		Status:    models.RequestStatusApproved,
		DecidedBy: "admin-1",
		DecidedOn: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryMarkDecidedLostRace(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	// The request was decided concurrently: the guarded UPDATE matches
	// zero rows.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approval_requests")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkDecided(context.Background(), nil, DecideParams{
		ID:        "OD-1",
		Status:    models.RequestStatusRejected,
		DecidedBy: "admin-1",
		DecidedOn: time.Now().UTC(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryAppendAudit(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_audit_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.AuditEntry{
		RequestID: "OD-1",
		Action:    models.AuditActionSubmitted,
		Actor:     "faculty-1",
	}
	require.NoError(t, repo.AppendAudit(context.Background(), nil, entry))
	require.NotEmpty(t, entry.ID)
	require.False(t, entry.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
