package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	"github.com/noah-isme/clg-aas-api/internal/repository"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

type decisionStoreStub struct {
	requests map[string]*models.ApprovalRequest
	audit    []*models.AuditEntry
	// auditTx records whether each entry arrived on a transaction or on
	// the base connection.
	auditOnTx []bool
	markErr   error
}

func newDecisionStoreStub() *decisionStoreStub {
	return &decisionStoreStub{requests: make(map[string]*models.ApprovalRequest)}
}

func (s *decisionStoreStub) GetByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *req
	return &copy, nil
}

func (s *decisionStoreStub) MarkDecided(_ context.Context, _ sqlx.ExtContext, params repository.DecideParams) error {
	if s.markErr != nil {
		return s.markErr
	}
	req, ok := s.requests[params.ID]
	if !ok || req.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	req.Status = params.Status
	req.DecidedBy = &params.DecidedBy
	req.DecidedOn = &params.DecidedOn
	req.DecisionRemarks = params.Remarks
	return nil
}

func (s *decisionStoreStub) AppendAudit(_ context.Context, q sqlx.ExtContext, entry *models.AuditEntry) error {
	s.audit = append(s.audit, entry)
	s.auditOnTx = append(s.auditOnTx, q != nil)
	return nil
}

type notifierStub struct {
	decided []*models.ApprovalRequest
}

func (n *notifierStub) RequestDecided(req *models.ApprovalRequest) {
	n.decided = append(n.decided, req)
}

func newTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func pendingRequest(id string, t models.RequestType) *models.ApprovalRequest {
	return &models.ApprovalRequest{
		ID:          id,
		Type:        t,
		RequestedBy: "faculty-1",
		Details:     json.RawMessage(`{"department":"CSE","action":"assign","newHolder":"fac-2","reason":"vacancy"}`),
		Status:      models.RequestStatusPending,
	}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func TestDecisionServiceApprove(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	store := newDecisionStoreStub()
	store.requests["HOD-1"] = pendingRequest("HOD-1", models.RequestTypeHODChange)

	notifier := &notifierStub{}
	svc := NewDecisionService(db, store, nil)
	svc.SetNotifier(notifier)
	svc.Register(models.RequestTypeHODChange, ReconcilerFunc(func(context.Context, sqlx.ExtContext, *models.ApprovalRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"applied":true}`), nil
	}))

	result, err := svc.Approve(context.Background(), "HOD-1", dto.DecideRequest{Remarks: "looks good"}, adminClaims())
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusApproved, result.Request.Status)
	require.JSONEq(t, `{"applied":true}`, string(result.Result))

	require.Equal(t, models.RequestStatusApproved, store.requests["HOD-1"].Status)
	require.Len(t, store.audit, 1)
	require.Equal(t, models.AuditActionApproved, store.audit[0].Action)
	require.True(t, store.auditOnTx[0], "decision audit must ride the business transaction")
	require.Len(t, notifier.decided, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecisionServiceApproveReconcilerFailure(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	store := newDecisionStoreStub()
	store.requests["OD-1"] = pendingRequest("OD-1", models.RequestTypeOD)

	svc := NewDecisionService(db, store, nil)
	svc.Register(models.RequestTypeOD, ReconcilerFunc(func(context.Context, sqlx.ExtContext, *models.ApprovalRequest) (json.RawMessage, error) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no attendance entry")
	}))

	_, err := svc.Approve(context.Background(), "OD-1", dto.DecideRequest{}, adminClaims())
	require.Error(t, err)
	require.True(t, appErrors.IsNotFound(err))

	// Business state rolled back: request is still pending and the only
	// audit entry is the failure record, written off-transaction.
	require.Equal(t, models.RequestStatusPending, store.requests["OD-1"].Status)
	require.Len(t, store.audit, 1)
	require.Equal(t, models.AuditActionApprovalFailed, store.audit[0].Action)
	require.False(t, store.auditOnTx[0], "failure audit must not ride the rolled-back transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecisionServiceApproveLostRace(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	store := newDecisionStoreStub()
	store.requests["HOD-2"] = pendingRequest("HOD-2", models.RequestTypeHODChange)
	store.markErr = sql.ErrNoRows

	svc := NewDecisionService(db, store, nil)
	svc.Register(models.RequestTypeHODChange, ReconcilerFunc(func(context.Context, sqlx.ExtContext, *models.ApprovalRequest) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}))

	_, err := svc.Approve(context.Background(), "HOD-2", dto.DecideRequest{}, adminClaims())
	require.True(t, appErrors.IsConflict(err))

	// A lost race is not a failure: no APPROVAL_FAILED entry.
	for _, entry := range store.audit {
		require.NotEqual(t, models.AuditActionApprovalFailed, entry.Action)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecisionServiceApproveAlreadyDecided(t *testing.T) {
	db, _ := newTestDB(t)
	store := newDecisionStoreStub()
	decided := pendingRequest("HOD-3", models.RequestTypeHODChange)
	decided.Status = models.RequestStatusRejected
	store.requests["HOD-3"] = decided

	svc := NewDecisionService(db, store, nil)
	_, err := svc.Approve(context.Background(), "HOD-3", dto.DecideRequest{}, adminClaims())
	require.True(t, appErrors.IsConflict(err))
}

func TestDecisionServiceApproveForbidden(t *testing.T) {
	db, _ := newTestDB(t)
	svc := NewDecisionService(db, newDecisionStoreStub(), nil)
	_, err := svc.Approve(context.Background(), "HOD-1", dto.DecideRequest{}, &models.JWTClaims{UserID: "fac-1", Role: models.RoleFaculty})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestDecisionServiceReject(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	store := newDecisionStoreStub()
	store.requests["ATT-1"] = pendingRequest("ATT-1", models.RequestTypeAttendanceEdit)

	reconciled := false
	svc := NewDecisionService(db, store, nil)
	svc.Register(models.RequestTypeAttendanceEdit, ReconcilerFunc(func(context.Context, sqlx.ExtContext, *models.ApprovalRequest) (json.RawMessage, error) {
		reconciled = true
		return nil, nil
	}))

	result, err := svc.Reject(context.Background(), "ATT-1", dto.DecideRequest{Remarks: "insufficient evidence"}, adminClaims())
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRejected, result.Request.Status)
	require.False(t, reconciled, "rejection must not touch business state")
	require.Len(t, store.audit, 1)
	require.Equal(t, models.AuditActionRejected, store.audit[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}
