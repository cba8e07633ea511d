package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/clg-aas-api/internal/models"
	"github.com/noah-isme/clg-aas-api/pkg/config"
	"github.com/noah-isme/clg-aas-api/pkg/jobs"
)

// DecisionNotification is the payload delivered to the requester once a
// decision lands.
type DecisionNotification struct {
	RequestID   string               `json:"requestId"`
	RequestType models.RequestType   `json:"requestType"`
	Outcome     models.RequestStatus `json:"outcome"`
	Recipient   string               `json:"recipient"`
	DecidedBy   string               `json:"decidedBy"`
	DecidedOn   time.Time            `json:"decidedOn"`
	Remarks     string               `json:"remarks,omitempty"`
}

// NotificationSender delivers one notification. The default sender only
// logs; a mail or push transport can replace it without touching callers.
type NotificationSender func(ctx context.Context, n DecisionNotification) error

// NotificationService delivers decision notifications after commit through
// a background worker queue. Delivery is best effort: approvals and
// rejections never fail because a notification could not be sent.
type NotificationService struct {
	queue  *jobs.Queue[DecisionNotification]
	logger *zap.Logger
}

// NewNotificationService wires the queue from configuration. A nil sender
// falls back to structured logging.
func NewNotificationService(cfg config.NotificationsConfig, sender NotificationSender, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{logger: logger}
	if sender == nil {
		sender = svc.logDelivery
	}
	if !cfg.Enabled {
		return svc
	}
	svc.queue = jobs.NewQueue("decision-notifications", jobs.Handler[DecisionNotification](sender), jobs.Config{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s.queue != nil {
		s.queue.Start(ctx)
	}
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// RequestDecided enqueues the requester's notification. Failures are
// logged and swallowed.
func (s *NotificationService) RequestDecided(req *models.ApprovalRequest) {
	if s.queue == nil {
		return
	}
	notification := DecisionNotification{
		RequestID:   req.ID,
		RequestType: req.Type,
		Outcome:     req.Status,
		Recipient:   req.RequestedBy,
	}
	if req.DecidedBy != nil {
		notification.DecidedBy = *req.DecidedBy
	}
	if req.DecidedOn != nil {
		notification.DecidedOn = *req.DecidedOn
	}
	if req.DecisionRemarks != nil {
		notification.Remarks = *req.DecisionRemarks
	}
	if err := s.queue.Enqueue(notification); err != nil {
		s.logger.Warn("failed to enqueue decision notification",
			zap.String("requestId", req.ID),
			zap.Error(err))
	}
}

func (s *NotificationService) logDelivery(_ context.Context, n DecisionNotification) error {
	s.logger.Info("decision notification",
		zap.String("requestId", n.RequestID),
		zap.String("type", string(n.RequestType)),
		zap.String("outcome", string(n.Outcome)),
		zap.String("recipient", n.Recipient))
	return nil
}
