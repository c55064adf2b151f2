package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-desk-api/internal/models"
	"github.com/noah-isme/thesis-desk-api/pkg/jobs"
)

// Notification event types pushed onto the background queue.
const (
	NotifyRequestCreated   = "request.created"
	NotifyStatusChanged    = "request.status_changed"
	NotifyReviewerAssigned = "request.reviewer_assigned"
	NotifyReviewerDecided  = "request.reviewer_decided"
	NotifyInvoiceCreated   = "request.invoice_created"
	NotifyInvoicePaid      = "request.invoice_paid"
)

// NotificationEvent is the payload delivered to notification workers.
type NotificationEvent struct {
	RequestID      string               `json:"request_id"`
	RecipientEmail string               `json:"recipient_email"`
	Status         models.RequestStatus `json:"status,omitempty"`
	Detail         string               `json:"detail,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// NotifyConfig configures the notification dispatcher.
type NotifyConfig struct {
	Enabled    bool
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// NotifyService dispatches workflow events to an in-memory worker queue.
// Delivery is best effort; the workflow never blocks on it.
type NotifyService struct {
	queue   *jobs.Queue
	logger  *zap.Logger
	enabled bool
}

// NewNotifyService constructs the dispatcher and its queue.
func NewNotifyService(cfg NotifyConfig, logger *zap.Logger) *NotifyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotifyService{logger: logger, enabled: cfg.Enabled}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start begins background delivery.
func (s *NotifyService) Start(ctx context.Context) {
	if !s.enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotifyService) Stop() {
	if !s.enabled {
		return
	}
	s.queue.Stop()
}

// Publish enqueues an event. Failures are logged, never returned to callers.
func (s *NotifyService) Publish(eventType string, event NotificationEvent) {
	if s == nil || !s.enabled {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    eventType,
		Payload: event,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue notification", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *NotifyService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(NotificationEvent)
	if !ok {
		s.logger.Warn("dropping malformed notification job", zap.String("job_id", job.ID))
		return nil
	}
	// delivery target (mail, push) is configured per deployment; the default
	// sink records the event in the structured log
	s.logger.Info("notification",
		zap.String("type", job.Type),
		zap.String("request_id", event.RequestID),
		zap.String("recipient", event.RecipientEmail),
		zap.String("status", string(event.Status)),
		zap.String("detail", event.Detail),
	)
	return nil
}
