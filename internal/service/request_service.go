package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/thesis-desk-api/internal/dto"
	"github.com/noah-isme/thesis-desk-api/internal/models"
	"github.com/noah-isme/thesis-desk-api/internal/repository"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type requestStore interface {
	Create(ctx context.Context, request *models.SupervisionRequest) error
	GetByID(ctx context.Context, id string) (*models.SupervisionRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.SupervisionRequest, error)
	UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error
	Delete(ctx context.Context, id, studentID string) error
}

type requestTopicStore interface {
	GetByID(ctx context.Context, id string) (*models.Topic, error)
	MarkTaken(ctx context.Context, id string) error
}

// tutorResolver finds an active tutor by id or email.
type tutorResolver interface {
	Resolve(ctx context.Context, id, email string) (*models.DirectoryEntry, error)
}

// keyedMutex serializes the acceptance cascade per topic within this
// process. Cross-process safety comes from the versioned status guards.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// RequestService drives the supervision request lifecycle.
type RequestService struct {
	repo      requestStore
	topics    requestTopicStore
	directory tutorResolver
	audit     auditLogger
	notify    *NotifyService
	metrics   *MetricsService
	counters  *DashboardService
	logger    *zap.Logger
	topicLock *keyedMutex
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithRequestNotifier attaches the notification dispatcher.
func WithRequestNotifier(notify *NotifyService) RequestServiceOption {
	return func(s *RequestService) { s.notify = notify }
}

// WithRequestMetrics attaches transition metrics.
func WithRequestMetrics(metrics *MetricsService) RequestServiceOption {
	return func(s *RequestService) { s.metrics = metrics }
}

// WithRequestCounterCache drops cached dashboard counters after writes.
func WithRequestCounterCache(dashboard *DashboardService) RequestServiceOption {
	return func(s *RequestService) { s.counters = dashboard }
}

// NewRequestService constructs the service.
func NewRequestService(repo requestStore, topics requestTopicStore, directory tutorResolver, audit auditLogger, logger *zap.Logger, opts ...RequestServiceOption) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestService{
		repo:      repo,
		topics:    topics,
		directory: directory,
		audit:     audit,
		logger:    logger,
		topicLock: newKeyedMutex(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create opens a new supervision request on behalf of the acting student.
func (s *RequestService) Create(ctx context.Context, req dto.CreateRequestPayload, actor *models.JWTClaims) (*models.SupervisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.ErrForbidden
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title and description are required")
	}
	if strings.TrimSpace(req.ExposeURL) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "an expose document is required")
	}
	if models.IsAllAreasSentinel(strings.TrimSpace(req.Area)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "area must be a concrete subject area")
	}

	supervisor, err := s.directory.Resolve(ctx, req.SupervisorID, req.SupervisorEmail)
	if err != nil {
		return nil, err
	}

	request := &models.SupervisionRequest{
		StudentID:       actor.UserID,
		StudentName:     actor.FullName,
		StudentEmail:    actor.Email,
		SupervisorID:    supervisor.ID,
		SupervisorEmail: supervisor.Email,
		Title:           strings.TrimSpace(req.Title),
		Description:     strings.TrimSpace(req.Description),
		Area:            strings.TrimSpace(req.Area),
		ExposeURL:       strings.TrimSpace(req.ExposeURL),
		Status:          models.RequestStatusOpen,
	}
	if supervisor.Name != "" {
		name := supervisor.Name
		request.SupervisorName = &name
	}

	if topicID := strings.TrimSpace(req.TopicID); topicID != "" {
		topic, err := s.topics.GetByID(ctx, topicID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "topic not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
		}
		if topic.Status != models.TopicStatusAvailable {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "topic is no longer available")
		}
		request.TopicID = &topic.ID
		if request.Area == "" {
			request.Area = topic.Area
		}
	}

	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create supervision request")
	}

	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestCreate, request.ID, request)
	s.notify.Publish(NotifyRequestCreated, NotificationEvent{
		RequestID:      request.ID,
		RecipientEmail: request.SupervisorEmail,
		Status:         request.Status,
		Detail:         request.Title,
	})
	if s.counters != nil {
		s.counters.Invalidate(ctx)
	}
	return request, nil
}

// Get loads a request enforcing actor scope: students see their own,
// supervisors and reviewers the ones addressed to them, admins everything.
func (s *RequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.SupervisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load supervision request")
	}
	if !s.canView(request, actor) {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

// List returns requests visible to the actor, narrowed by the query.
func (s *RequestService) List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.SupervisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.RequestFilter{
		Status:        query.Status,
		ReviewerState: query.ReviewerState,
		TopicID:       query.TopicID,
		Limit:         query.Limit,
		Offset:        query.Offset,
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleTutor:
		filter.SupervisorID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list supervision requests")
	}
	return requests, nil
}

// ListReviews returns requests where the actor is the nominated second
// reviewer, matched by account id or email.
func (s *RequestService) ListReviews(ctx context.Context, actor *models.JWTClaims) ([]models.SupervisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTutor && actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	requests, err := s.repo.List(ctx, models.RequestFilter{
		ReviewerID:    actor.UserID,
		ReviewerEmail: actor.Email,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list review assignments")
	}
	return requests, nil
}

// Transition moves a request to the target status, enforcing the lifecycle
// table and the guards layered on top of it. Accepting a topic-bound request
// additionally marks the topic taken and rejects the other open requests on
// the same topic.
func (s *RequestService) Transition(ctx context.Context, id string, payload dto.TransitionPayload, actor *models.JWTClaims) (*models.SupervisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	target := payload.Target
	if !target.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown target status")
	}

	request, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeTransition(request, target, actor); err != nil {
		return nil, err
	}
	// repeating the current status is a no-op, not a conflict
	if request.Status == target {
		return request, nil
	}
	if !request.Status.CanTransition(target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot move from "+string(request.Status)+" to "+string(target))
	}
	if err := s.checkGuards(request, target); err != nil {
		return nil, err
	}

	if target == models.RequestStatusAccepted && request.TopicID != nil {
		return s.acceptWithCascade(ctx, request, actor)
	}

	if err := s.applyStatus(ctx, request, target); err != nil {
		return nil, err
	}
	s.afterTransition(ctx, request, actor)
	return request, nil
}

// Delete removes the student's own request while it is still open or
// rejected.
func (s *RequestService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return appErrors.ErrForbidden
	}
	if err := s.repo.Delete(ctx, id, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "only own open or rejected requests can be deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete supervision request")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestDelete, id, nil)
	if s.counters != nil {
		s.counters.Invalidate(ctx)
	}
	return nil
}

func (s *RequestService) canView(request *models.SupervisionRequest, actor *models.JWTClaims) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleStudent:
		return request.StudentID == actor.UserID
	case models.RoleTutor:
		if request.SupervisorID == actor.UserID {
			return true
		}
		if request.SecondReviewerID != nil && *request.SecondReviewerID == actor.UserID {
			return true
		}
		if request.SecondReviewerEmail != nil && strings.EqualFold(*request.SecondReviewerEmail, actor.Email) {
			return true
		}
	}
	return false
}

func (s *RequestService) authorizeTransition(request *models.SupervisionRequest, target models.RequestStatus, actor *models.JWTClaims) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTutor:
		if request.SupervisorID != actor.UserID {
			return appErrors.ErrForbidden
		}
		return nil
	case models.RoleStudent:
		// students only hand in their thesis
		if target == models.RequestStatusSubmitted && request.StudentID == actor.UserID {
			return nil
		}
	}
	return appErrors.ErrForbidden
}

// checkGuards enforces the preconditions layered on top of reachability.
func (s *RequestService) checkGuards(request *models.SupervisionRequest, target models.RequestStatus) error {
	switch target {
	case models.RequestStatusInProgress:
		if request.SecondReviewerStatus != models.ReviewerStatusAccepted {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "a second reviewer must accept before work starts")
		}
	case models.RequestStatusInvoiced:
		if !request.InvoiceSupervisorCreated {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "the supervisor invoice must be created first")
		}
	case models.RequestStatusFinished:
		if !request.ReadyToFinish() {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "all required invoices must be created and paid")
		}
	}
	return nil
}

// acceptWithCascade accepts the request, marks the topic taken and rejects
// the remaining open requests on the same topic. The per-topic lock keeps
// concurrent accepts in this process from interleaving; the versioned UPDATE
// settles races with other writers.
func (s *RequestService) acceptWithCascade(ctx context.Context, request *models.SupervisionRequest, actor *models.JWTClaims) (*models.SupervisionRequest, error) {
	unlock := s.topicLock.lock(*request.TopicID)
	defer unlock()

	if err := s.applyStatus(ctx, request, models.RequestStatusAccepted); err != nil {
		return nil, err
	}

	if err := s.topics.MarkTaken(ctx, *request.TopicID); err != nil {
		s.logger.Warn("failed to mark topic taken after accept",
			zap.String("topic_id", *request.TopicID), zap.Error(err))
	}

	// reject the competing open and accepted requests, best effort
	others, err := s.listCompetitors(ctx, request)
	if err != nil {
		s.logger.Warn("failed to list competing requests for cascade", zap.Error(err))
	}
	for i := range others {
		other := &others[i]
		if err := s.applyStatus(ctx, other, models.RequestStatusRejected); err != nil {
			s.logger.Warn("cascade reject failed",
				zap.String("request_id", other.ID), zap.Error(err))
			continue
		}
		s.notify.Publish(NotifyStatusChanged, NotificationEvent{
			RequestID:      other.ID,
			RecipientEmail: other.StudentEmail,
			Status:         models.RequestStatusRejected,
			Detail:         "topic was assigned to another student",
		})
	}

	s.afterTransition(ctx, request, actor)
	return request, nil
}

// listCompetitors pages through every other open or accepted request on the
// same topic. Paging keeps the cascade complete when a topic has drawn more
// requests than a single listing page holds.
func (s *RequestService) listCompetitors(ctx context.Context, request *models.SupervisionRequest) ([]models.SupervisionRequest, error) {
	const pageSize = 200
	var competitors []models.SupervisionRequest
	for offset := 0; ; offset += pageSize {
		page, err := s.repo.List(ctx, models.RequestFilter{
			TopicID:   *request.TopicID,
			Status:    []models.RequestStatus{models.RequestStatusOpen, models.RequestStatusAccepted},
			ExcludeID: request.ID,
			Limit:     pageSize,
			Offset:    offset,
		})
		if err != nil {
			return competitors, err
		}
		competitors = append(competitors, page...)
		if len(page) < pageSize {
			return competitors, nil
		}
	}
}

// applyStatus performs the guarded write and mutates the in-memory request
// on success.
func (s *RequestService) applyStatus(ctx context.Context, request *models.SupervisionRequest, target models.RequestStatus) error {
	from := request.Status
	err := s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:              request.ID,
		Status:          target,
		ExpectedVersion: request.Version,
		AllowedFrom:     []models.RequestStatus{from},
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "request was modified concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request status")
	}
	request.Status = target
	request.Version++
	s.metrics.RecordTransition(from, target)
	return nil
}

func (s *RequestService) afterTransition(ctx context.Context, request *models.SupervisionRequest, actor *models.JWTClaims) {
	s.emitAudit(ctx, actor.UserID, models.AuditActionStatusTransition, request.ID, map[string]string{
		"status": string(request.Status),
	})
	s.notify.Publish(NotifyStatusChanged, NotificationEvent{
		RequestID:      request.ID,
		RecipientEmail: request.StudentEmail,
		Status:         request.Status,
	})
	if s.counters != nil {
		s.counters.Invalidate(ctx)
	}
}

func (s *RequestService) emitAudit(ctx context.Context, userID, action, resourceID string, payload interface{}) {
	if s.audit == nil {
		return
	}
	var values []byte
	if payload != nil {
		values, _ = json.Marshal(payload)
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "supervision_request",
		ResourceID: &resourceID,
		NewValues:  values,
		IPAddress:  "system",
		UserAgent:  "request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
