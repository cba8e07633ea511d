package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clg-aas-api/internal/models"
)

// RequestRepository persists approval requests and their audit trail.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

// NextID produces a human-readable request identifier
// <PREFIX>-<yyyymmddHHMMSS>-<seq>. The sequence lives in Postgres so ids
// stay unique across replicas.
func (r *RequestRepository) NextID(ctx context.Context, t models.RequestType) (string, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, `SELECT nextval('approval_request_seq')`); err != nil {
		return "", fmt.Errorf("next request sequence: %w", err)
	}
	return fmt.Sprintf("%s-%s-%06d", t.Prefix(), time.Now().UTC().Format("20060102150405"), seq), nil
}

// Create inserts a new pending request. Submission runs it on the same
// transaction as the initial audit entry so a pending request can never
// exist without one.
func (r *RequestRepository) Create(ctx context.Context, q sqlx.ExtContext, req *models.ApprovalRequest) error {
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_requests
	(id, type, requested_by, requested_by_role, details, status, priority, decided_by, decided_on, decision_remarks, created_at)
	VALUES (:id, :type, :requested_by, :requested_by_role, :details, :status, :priority, :decided_by, :decided_on, :decision_remarks, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(q), query, req); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	const query = `SELECT id, type, requested_by, requested_by_role, details, status, priority,
	decided_by, decided_on, decision_remarks, created_at
	FROM approval_requests WHERE id = $1`
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.ApprovalRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT id, type, requested_by, requested_by_role, details, status, priority,
	decided_by, decided_on, decision_remarks, created_at FROM approval_requests`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.RequestedBy != "" {
		args = append(args, filter.RequestedBy)
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ApprovalRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	return requests, nil
}

// DecideParams groups the columns written when a request is decided.
type DecideParams struct {
	ID        string
	Status    models.RequestStatus
	DecidedBy string
	DecidedOn time.Time
	Remarks   *string
}

// MarkDecided flips a pending request to its terminal status. The WHERE
// clause doubles as the compare-and-swap: a concurrent decision that
// already landed leaves zero rows and the caller sees sql.ErrNoRows.
func (r *RequestRepository) MarkDecided(ctx context.Context, q sqlx.ExtContext, params DecideParams) error {
	query := fmt.Sprintf(`UPDATE approval_requests
	SET status = :status, decided_by = :decided_by, decided_on = :decided_on, decision_remarks = :remarks
	WHERE id = :id AND status = '%s'`, models.RequestStatusPending)
	result, err := sqlx.NamedExecContext(ctx, r.ext(q), query, map[string]interface{}{
		"id":         params.ID,
		"status":     params.Status,
		"decided_by": params.DecidedBy,
		"decided_on": params.DecidedOn,
		"remarks":    params.Remarks,
	})
	if err != nil {
		return fmt.Errorf("mark request decided: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check decided rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendAudit adds one immutable audit entry. Entries are never updated or
// deleted; APPROVAL_FAILED entries are written on the base connection so
// they survive the rolled-back business transaction.
func (r *RequestRepository) AppendAudit(ctx context.Context, q sqlx.ExtContext, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO request_audit_entries
	(id, request_id, action, actor, before_state, after_state, note, created_at)
	VALUES (:id, :request_id, :action, :actor, :before_state, :after_state, :note, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(q), query, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail for a request in insertion order.
func (r *RequestRepository) ListAudit(ctx context.Context, requestID string) ([]models.AuditEntry, error) {
	const query = `SELECT id, request_id, action, actor, before_state, after_state, note, created_at
	FROM request_audit_entries WHERE request_id = $1 ORDER BY created_at ASC, id ASC`
	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
