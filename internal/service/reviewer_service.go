package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/thesis-desk-api/internal/dto"
	"github.com/noah-isme/thesis-desk-api/internal/models"
	"github.com/noah-isme/thesis-desk-api/internal/repository"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
)

type reviewerStore interface {
	GetByID(ctx context.Context, id string) (*models.SupervisionRequest, error)
	UpdateReviewer(ctx context.Context, params repository.UpdateReviewerParams) error
	UpdateReviewerDecision(ctx context.Context, params repository.ReviewerDecisionParams) error
}

// ReviewerService runs the second-reviewer sub-workflow.
type ReviewerService struct {
	repo      reviewerStore
	directory tutorResolver
	audit     auditLogger
	notify    *NotifyService
	logger    *zap.Logger
}

// NewReviewerService constructs the service.
func NewReviewerService(repo reviewerStore, directory tutorResolver, audit auditLogger, notify *NotifyService, logger *zap.Logger) *ReviewerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewerService{repo: repo, directory: directory, audit: audit, notify: notify, logger: logger}
}

// Assign nominates a second reviewer on an accepted request. The supervisor
// cannot nominate themselves. The nomination can be changed while it is
// unset, pending or rejected; once the reviewer has accepted it is fixed.
func (s *ReviewerService) Assign(ctx context.Context, requestID string, payload dto.AssignReviewerPayload, actor *models.JWTClaims) (*models.SupervisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && request.SupervisorID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if request.Status != models.RequestStatusAccepted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "a reviewer can only be assigned on an accepted request")
	}
	if request.SecondReviewerStatus == models.ReviewerStatusAccepted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "the reviewer has already accepted")
	}

	candidate, err := s.directory.Resolve(ctx, payload.ReviewerID, payload.ReviewerEmail)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(candidate.Email, request.SupervisorEmail) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "the supervisor cannot be the second reviewer")
	}

	params := repository.UpdateReviewerParams{
		ID:              request.ID,
		ReviewerID:      &candidate.ID,
		ReviewerName:    &candidate.Name,
		ReviewerEmail:   &candidate.Email,
		ReviewerStatus:  models.ReviewerStatusPending,
		ExpectedVersion: request.Version,
	}
	if err := s.repo.UpdateReviewer(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request was modified concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign reviewer")
	}
	request.SecondReviewerID = params.ReviewerID
	request.SecondReviewerName = params.ReviewerName
	request.SecondReviewerEmail = params.ReviewerEmail
	request.SecondReviewerStatus = models.ReviewerStatusPending
	request.Version++

	s.emitAudit(ctx, actor.UserID, models.AuditActionReviewerAssign, request.ID, candidate.Email)
	s.notify.Publish(NotifyReviewerAssigned, NotificationEvent{
		RequestID:      request.ID,
		RecipientEmail: candidate.Email,
		Detail:         request.Title,
	})
	return request, nil
}

// Decide records the nominated reviewer's accept or reject answer. Only the
// assigned reviewer may answer, and only while the nomination is pending. A
// rejection never touches the primary status.
func (s *ReviewerService) Decide(ctx context.Context, requestID string, payload dto.ReviewerDecisionPayload, actor *models.JWTClaims) (*models.SupervisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if payload.Decision != "accept" && payload.Decision != "reject" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be accept or reject")
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !s.isAssignedReviewer(request, actor) {
		return nil, appErrors.ErrForbidden
	}
	if request.SecondReviewerStatus != models.ReviewerStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "the nomination is not pending")
	}

	decision := models.ReviewerStatusRejected
	if payload.Decision == "accept" {
		decision = models.ReviewerStatusAccepted
	}

	err = s.repo.UpdateReviewerDecision(ctx, repository.ReviewerDecisionParams{
		ID:              request.ID,
		Decision:        decision,
		ExpectedVersion: request.Version,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "the nomination was already answered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record reviewer decision")
	}
	request.SecondReviewerStatus = decision
	request.Version++

	s.emitAudit(ctx, actor.UserID, models.AuditActionReviewerDecision, request.ID, string(decision))
	s.notify.Publish(NotifyReviewerDecided, NotificationEvent{
		RequestID:      request.ID,
		RecipientEmail: request.SupervisorEmail,
		Detail:         string(decision),
	})
	return request, nil
}

func (s *ReviewerService) load(ctx context.Context, id string) (*models.SupervisionRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load supervision request")
	}
	return request, nil
}

func (s *ReviewerService) isAssignedReviewer(request *models.SupervisionRequest, actor *models.JWTClaims) bool {
	if request.SecondReviewerID != nil && *request.SecondReviewerID == actor.UserID {
		return true
	}
	if request.SecondReviewerEmail != nil && strings.EqualFold(*request.SecondReviewerEmail, actor.Email) {
		return true
	}
	return false
}

func (s *ReviewerService) emitAudit(ctx context.Context, userID, action, resourceID, detail string) {
	if s.audit == nil {
		return
	}
	values, _ := json.Marshal(map[string]string{"detail": detail})
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "supervision_request",
		ResourceID: &resourceID,
		NewValues:  values,
		IPAddress:  "system",
		UserAgent:  "reviewer-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
