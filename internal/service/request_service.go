package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	"github.com/noah-isme/clg-aas-api/internal/repository"
	"github.com/noah-isme/clg-aas-api/pkg/database"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

const defaultMinReasonLength = 10

type requestStore interface {
	NextID(ctx context.Context, t models.RequestType) (string, error)
	Create(ctx context.Context, q sqlx.ExtContext, req *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.ApprovalRequest, error)
	AppendAudit(ctx context.Context, q sqlx.ExtContext, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, requestID string) ([]models.AuditEntry, error)
}

type listCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateRequestLists(ctx context.Context) error
}

// RequestService owns submission and read access to approval requests.
// Decisions live in DecisionService.
type RequestService struct {
	db        *sqlx.DB
	repo      requestStore
	cache     listCache
	logger    *zap.Logger
	cacheTTL  time.Duration
	minReason int
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithListCache enables the redis-backed listing cache.
func WithListCache(cache listCache, ttl time.Duration) RequestServiceOption {
	return func(s *RequestService) {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithMinReasonLength overrides the minimum OD reason length.
func WithMinReasonLength(n int) RequestServiceOption {
	return func(s *RequestService) {
		if n > 0 {
			s.minReason = n
		}
	}
}

// NewRequestService constructs the service with defaults.
func NewRequestService(db *sqlx.DB, repo requestStore, logger *zap.Logger, opts ...RequestServiceOption) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestService{
		db:        db,
		repo:      repo,
		logger:    logger,
		cacheTTL:  time.Minute,
		minReason: defaultMinReasonLength,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit validates the type-specific payload and persists a pending request
// with its initial SUBMITTED audit entry. Validation reports every
// violation found, not just the first.
func (s *RequestService) Submit(ctx context.Context, req dto.SubmitRequestRequest, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	reqType := models.RequestType(strings.ToUpper(strings.TrimSpace(string(req.Type))))
	if !reqType.Valid() {
		return nil, appErrors.NewValidation([]appErrors.Violation{
			{Field: "type", Message: "must be one of HOD_CHANGE, OD_REQUEST, HOLIDAY_REQUEST, ATTENDANCE_EDIT, LEAVE_EXCEPTION"},
		})
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, appErrors.NewValidation([]appErrors.Violation{
			{Field: "priority", Message: "must be LOW, MEDIUM or HIGH"},
		})
	}

	details, violations := s.validateDetails(reqType, req.Details, actor)
	if len(violations) > 0 {
		return nil, appErrors.NewValidation(violations)
	}

	id, err := s.repo.NextID(ctx, reqType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate request id")
	}
	request := &models.ApprovalRequest{
		ID:              id,
		Type:            reqType,
		RequestedBy:     actor.UserID,
		RequestedByRole: actor.Role,
		Details:         details,
		Status:          models.RequestStatusPending,
		Priority:        priority,
	}
	// The request row and its SUBMITTED entry commit together: a pending
	// request is never visible without at least one audit entry.
	err = database.WithinTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.repo.Create(ctx, tx, request); err != nil {
			return err
		}
		return s.repo.AppendAudit(ctx, tx, &models.AuditEntry{
			RequestID: request.ID,
			Action:    models.AuditActionSubmitted,
			Actor:     actor.UserID,
			After:     details,
		})
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	s.invalidateListings(ctx)
	return request, nil
}

// Get returns a request enforcing scope constraints: submitters see their
// own, deciders see everything.
func (s *RequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if !canDecide(actor.Role) && request.RequestedBy != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

// AuditTrail returns a request's audit entries, oldest first.
func (s *RequestService) AuditTrail(ctx context.Context, id string, actor *models.JWTClaims) ([]models.AuditEntry, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListAudit(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	return entries, nil
}

// List returns accessible requests respecting actor role. Short-lived cache
// in front; invalidated on every submit and decision.
func (s *RequestService) List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.ApprovalRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.RequestFilter{
		Status: query.Status,
		Type:   query.Type,
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	if !canDecide(actor.Role) {
		filter.RequestedBy = actor.UserID
	}

	key := s.listCacheKey(filter)
	if s.cache != nil {
		var cached []models.ApprovalRequest
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, requests, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache request listing", zap.Error(err))
		}
	}
	return requests, nil
}

func (s *RequestService) listCacheKey(filter models.RequestFilter) string {
	statuses := make([]string, len(filter.Status))
	for i, st := range filter.Status {
		statuses[i] = string(st)
	}
	return fmt.Sprintf("%s%s|%s|%s|%d|%d",
		repository.RequestListCachePrefix, strings.Join(statuses, ","), filter.Type, filter.RequestedBy, filter.Limit, filter.Offset)
}

func (s *RequestService) invalidateListings(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRequestLists(ctx); err != nil {
		s.logger.Warn("failed to invalidate request listings", zap.Error(err))
	}
}

func canDecide(role models.UserRole) bool {
	return role == models.RolePrincipal || role == models.RoleAdmin
}

// validateDetails checks the per-type required-field set and normalises the
// payload. Violations accumulate so the submitter gets the complete list.
func (s *RequestService) validateDetails(t models.RequestType, raw json.RawMessage, actor *models.JWTClaims) (json.RawMessage, []appErrors.Violation) {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, []appErrors.Violation{{Field: "details", Message: "must be a valid JSON object"}}
	}

	switch t {
	case models.RequestTypeHODChange:
		var d dto.HODChangeDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, []appErrors.Violation{{Field: "details", Message: "malformed HOD_CHANGE payload"}}
		}
		return marshalDetails(d, validateHODChange(d))
	case models.RequestTypeOD:
		var d dto.ODRequestDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, []appErrors.Violation{{Field: "details", Message: "malformed OD_REQUEST payload"}}
		}
		violations := s.validateOD(&d)
		return marshalDetails(d, violations)
	case models.RequestTypeHoliday:
		var d dto.HolidayDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, []appErrors.Violation{{Field: "details", Message: "malformed HOLIDAY_REQUEST payload"}}
		}
		return marshalDetails(d, validateHoliday(d))
	case models.RequestTypeAttendanceEdit:
		var d dto.AttendanceEditDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, []appErrors.Violation{{Field: "details", Message: "malformed ATTENDANCE_EDIT payload"}}
		}
		return marshalDetails(d, validateAttendanceEdit(d))
	case models.RequestTypeLeaveException:
		var d dto.LeaveExceptionDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, []appErrors.Violation{{Field: "details", Message: "malformed LEAVE_EXCEPTION payload"}}
		}
		return marshalDetails(d, validateLeaveException(d))
	}
	return nil, []appErrors.Violation{{Field: "type", Message: "unsupported request type"}}
}

func marshalDetails(d interface{}, violations []appErrors.Violation) (json.RawMessage, []appErrors.Violation) {
	if len(violations) > 0 {
		return nil, violations
	}
	normalized, err := json.Marshal(d)
	if err != nil {
		return nil, []appErrors.Violation{{Field: "details", Message: "payload not serialisable"}}
	}
	return normalized, nil
}

func validateHODChange(d dto.HODChangeDetails) []appErrors.Violation {
	var violations []appErrors.Violation
	if strings.TrimSpace(d.Department) == "" {
		violations = append(violations, appErrors.Violation{Field: "department", Message: "is required"})
	}
	action := strings.ToLower(strings.TrimSpace(d.Action))
	switch action {
	case "assign", "replace", "remove":
	default:
		violations = append(violations, appErrors.Violation{Field: "action", Message: "must be assign, replace or remove"})
	}
	if (action == "assign" || action == "replace") && strings.TrimSpace(d.NewHolder) == "" {
		violations = append(violations, appErrors.Violation{Field: "newHolder", Message: "is required for assign/replace"})
	}
	if (action == "replace" || action == "remove") && strings.TrimSpace(d.OldHolder) == "" {
		violations = append(violations, appErrors.Violation{Field: "oldHolder", Message: "is required for replace/remove"})
	}
	if strings.TrimSpace(d.Reason) == "" {
		violations = append(violations, appErrors.Violation{Field: "reason", Message: "is required"})
	}
	return violations
}

func (s *RequestService) validateOD(d *dto.ODRequestDetails) []appErrors.Violation {
	var violations []appErrors.Violation
	if strings.TrimSpace(d.StudentID) == "" {
		violations = append(violations, appErrors.Violation{Field: "studentId", Message: "is required"})
	}
	if strings.TrimSpace(d.ClassScope) == "" {
		violations = append(violations, appErrors.Violation{Field: "classScope", Message: "is required"})
	}
	if len(strings.TrimSpace(d.Reason)) < s.minReason {
		violations = append(violations, appErrors.Violation{
			Field:   "reason",
			Message: fmt.Sprintf("must be at least %d characters", s.minReason),
		})
	}
	date, err := time.Parse("2006-01-02", d.Date)
	if err != nil {
		violations = append(violations, appErrors.Violation{Field: "date", Message: "must be YYYY-MM-DD"})
	} else {
		tomorrow := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
		if date.Before(tomorrow) {
			violations = append(violations, appErrors.Violation{Field: "date", Message: "must be tomorrow or later"})
		} else {
			// OD requests are submitted ahead of time; the reconciler may
			// synthesize the ledger entry when approval lands first.
			d.Future = true
		}
	}
	return violations
}

func validateHoliday(d dto.HolidayDetails) []appErrors.Violation {
	var violations []appErrors.Violation
	if _, err := time.Parse("2006-01-02", d.Date); err != nil {
		violations = append(violations, appErrors.Violation{Field: "date", Message: "must be YYYY-MM-DD"})
	}
	if strings.TrimSpace(d.Department) == "" {
		violations = append(violations, appErrors.Violation{Field: "department", Message: "is required"})
	}
	if !d.Scope.Valid() {
		violations = append(violations, appErrors.Violation{Field: "scope", Message: "must be class, department or global"})
	}
	if d.Scope == models.HolidayScopeClass && strings.TrimSpace(d.ClassID) == "" {
		violations = append(violations, appErrors.Violation{Field: "classId", Message: "is required for class scope"})
	}
	if strings.TrimSpace(d.Reason) == "" {
		violations = append(violations, appErrors.Violation{Field: "reason", Message: "is required"})
	}
	return violations
}

func validateAttendanceEdit(d dto.AttendanceEditDetails) []appErrors.Violation {
	var violations []appErrors.Violation
	if strings.TrimSpace(d.AttendanceEntryID) == "" {
		violations = append(violations, appErrors.Violation{Field: "attendanceEntryId", Message: "is required"})
	}
	if strings.TrimSpace(d.StudentID) == "" {
		violations = append(violations, appErrors.Violation{Field: "studentId", Message: "is required"})
	}
	if _, err := time.Parse("2006-01-02", d.Date); err != nil {
		violations = append(violations, appErrors.Violation{Field: "date", Message: "must be YYYY-MM-DD"})
	}
	if !d.OriginalStatus.Valid() {
		violations = append(violations, appErrors.Violation{Field: "originalStatus", Message: "must be present, absent or od"})
	}
	if !d.NewStatus.Valid() {
		violations = append(violations, appErrors.Violation{Field: "newStatus", Message: "must be present, absent or od"})
	}
	if strings.TrimSpace(d.Reason) == "" {
		violations = append(violations, appErrors.Violation{Field: "reason", Message: "is required"})
	}
	return violations
}

func validateLeaveException(d dto.LeaveExceptionDetails) []appErrors.Violation {
	var violations []appErrors.Violation
	if _, err := time.Parse("2006-01-02", d.Date); err != nil {
		violations = append(violations, appErrors.Violation{Field: "date", Message: "must be YYYY-MM-DD"})
	}
	if strings.TrimSpace(d.ClassScope) == "" {
		violations = append(violations, appErrors.Violation{Field: "classScope", Message: "is required"})
	}
	if !d.Correction.Valid() {
		violations = append(violations, appErrors.Violation{Field: "correction", Message: "must be present, absent or od"})
	}
	if strings.TrimSpace(d.Reason) == "" {
		violations = append(violations, appErrors.Violation{Field: "reason", Message: "is required"})
	}
	return violations
}
