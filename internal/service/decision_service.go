package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	"github.com/noah-isme/clg-aas-api/internal/repository"
	"github.com/noah-isme/clg-aas-api/pkg/database"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

// Reconciler applies the business effect of one approved request type
// inside the decision transaction. It returns a JSON summary of what it
// changed, recorded in the APPROVED audit entry.
type Reconciler interface {
	Reconcile(ctx context.Context, tx sqlx.ExtContext, req *models.ApprovalRequest) (json.RawMessage, error)
}

// ReconcilerFunc adapts a function to the Reconciler interface.
type ReconcilerFunc func(ctx context.Context, tx sqlx.ExtContext, req *models.ApprovalRequest) (json.RawMessage, error)

// Reconcile implements Reconciler.
func (f ReconcilerFunc) Reconcile(ctx context.Context, tx sqlx.ExtContext, req *models.ApprovalRequest) (json.RawMessage, error) {
	return f(ctx, tx, req)
}

type decisionStore interface {
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	MarkDecided(ctx context.Context, q sqlx.ExtContext, params repository.DecideParams) error
	AppendAudit(ctx context.Context, q sqlx.ExtContext, entry *models.AuditEntry) error
}

type decisionNotifier interface {
	RequestDecided(req *models.ApprovalRequest)
}

// DecisionService decides pending requests. Approval runs the type's
// reconciler and the status flip in one transaction so business state and
// request state commit or roll back together.
type DecisionService struct {
	db          *sqlx.DB
	repo        decisionStore
	reconcilers map[models.RequestType]Reconciler
	cache       listCache
	notifier    decisionNotifier
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewDecisionService constructs the service. Cache and notifier are
// optional and skipped when nil.
func NewDecisionService(db *sqlx.DB, repo decisionStore, logger *zap.Logger) *DecisionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionService{
		db:          db,
		repo:        repo,
		reconcilers: make(map[models.RequestType]Reconciler),
		logger:      logger,
	}
}

// Register binds a reconciler to a request type. Later registrations for
// the same type replace earlier ones.
func (s *DecisionService) Register(t models.RequestType, r Reconciler) {
	s.reconcilers[t] = r
}

// SetCache attaches the listing cache invalidated after decisions.
func (s *DecisionService) SetCache(cache listCache) { s.cache = cache }

// SetNotifier attaches the post-commit notification sink.
func (s *DecisionService) SetNotifier(n decisionNotifier) { s.notifier = n }

// SetMetrics attaches the decision counters.
func (s *DecisionService) SetMetrics(m *MetricsService) { s.metrics = m }

// Approve reconciles and finalises a pending request.
//
// On reconciler failure the transaction rolls back, the request stays
// PENDING, and an APPROVAL_FAILED audit entry is written on the base
// connection so the failure survives the rollback. A lost
// compare-and-swap race surfaces as a conflict with no failure entry:
// nothing went wrong, the decision simply already happened.
func (s *DecisionService) Approve(ctx context.Context, id string, body dto.DecideRequest, actor *models.JWTClaims) (*dto.DecisionResult, error) {
	request, err := s.loadPending(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	reconciler, ok := s.reconcilers[request.Type]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("no reconciler registered for %s", request.Type))
	}

	now := time.Now().UTC()
	var remarks *string
	if body.Remarks != "" {
		remarks = &body.Remarks
	}

	var result json.RawMessage
	txErr := database.WithinTx(ctx, s.db, func(tx *sqlx.Tx) error {
		summary, err := reconciler.Reconcile(ctx, tx, request)
		if err != nil {
			return err
		}
		result = summary
		if err := s.repo.MarkDecided(ctx, tx, repository.DecideParams{
			ID:        request.ID,
			Status:    models.RequestStatusApproved,
			DecidedBy: actor.UserID,
			DecidedOn: now,
			Remarks:   remarks,
		}); err != nil {
			return err
		}
		return s.repo.AppendAudit(ctx, tx, &models.AuditEntry{
			RequestID: request.ID,
			Action:    models.AuditActionApproved,
			Actor:     actor.UserID,
			Before:    request.Details,
			After:     summary,
			Note:      remarks,
		})
	})
	if txErr != nil {
		if errors.Is(txErr, sql.ErrNoRows) {
			// Lost the CAS race; the other decision is authoritative.
			return nil, appErrors.Clone(appErrors.ErrConflict, "request has already been decided")
		}
		s.recordFailure(ctx, request, actor, txErr)
		s.metrics.ObserveReconciliationFailure(request.Type)
		var appErr *appErrors.Error
		if errors.As(txErr, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(txErr, appErrors.ErrReconciliation.Code, appErrors.ErrReconciliation.Status, "approval could not be applied")
	}

	request.Status = models.RequestStatusApproved
	request.DecidedBy = &actor.UserID
	request.DecidedOn = &now
	request.DecisionRemarks = remarks
	s.afterDecision(ctx, request)
	return &dto.DecisionResult{Request: request, Result: result}, nil
}

// Reject finalises a pending request without touching business state.
func (s *DecisionService) Reject(ctx context.Context, id string, body dto.DecideRequest, actor *models.JWTClaims) (*dto.DecisionResult, error) {
	request, err := s.loadPending(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var remarks *string
	if body.Remarks != "" {
		remarks = &body.Remarks
	}

	txErr := database.WithinTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.repo.MarkDecided(ctx, tx, repository.DecideParams{
			ID:        request.ID,
			Status:    models.RequestStatusRejected,
			DecidedBy: actor.UserID,
			DecidedOn: now,
			Remarks:   remarks,
		}); err != nil {
			return err
		}
		return s.repo.AppendAudit(ctx, tx, &models.AuditEntry{
			RequestID: request.ID,
			Action:    models.AuditActionRejected,
			Actor:     actor.UserID,
			Before:    request.Details,
			Note:      remarks,
		})
	})
	if txErr != nil {
		if errors.Is(txErr, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request has already been decided")
		}
		return nil, appErrors.Wrap(txErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject request")
	}

	request.Status = models.RequestStatusRejected
	request.DecidedBy = &actor.UserID
	request.DecidedOn = &now
	request.DecisionRemarks = remarks
	s.afterDecision(ctx, request)
	return &dto.DecisionResult{Request: request}, nil
}

func (s *DecisionService) loadPending(ctx context.Context, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canDecide(actor.Role) {
		return nil, appErrors.ErrForbidden
	}
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "request has already been decided")
	}
	return request, nil
}

// recordFailure writes the APPROVAL_FAILED entry outside the business
// transaction. A failed write here is logged, never propagated: the
// caller already has the real error.
func (s *DecisionService) recordFailure(ctx context.Context, request *models.ApprovalRequest, actor *models.JWTClaims, cause error) {
	note := cause.Error()
	entry := &models.AuditEntry{
		RequestID: request.ID,
		Action:    models.AuditActionApprovalFailed,
		Actor:     actor.UserID,
		Before:    request.Details,
		Note:      &note,
	}
	if err := s.repo.AppendAudit(ctx, nil, entry); err != nil {
		s.logger.Error("failed to record approval failure",
			zap.String("requestId", request.ID),
			zap.Error(err))
	}
}

func (s *DecisionService) afterDecision(ctx context.Context, request *models.ApprovalRequest) {
	s.metrics.ObserveDecision(request.Type, request.Status)
	if s.cache != nil {
		if err := s.cache.InvalidateRequestLists(ctx); err != nil {
			s.logger.Warn("failed to invalidate request listings", zap.Error(err))
		}
	}
	if s.notifier != nil {
		s.notifier.RequestDecided(request)
	}
}
