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
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
)

type topicStore interface {
	Create(ctx context.Context, topic *models.Topic) error
	GetByID(ctx context.Context, id string) (*models.Topic, error)
	List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, error)
	Update(ctx context.Context, topic *models.Topic) error
	MarkTaken(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// TopicService manages the thesis topic board.
type TopicService struct {
	repo   topicStore
	audit  auditLogger
	logger *zap.Logger
}

// NewTopicService constructs the service.
func NewTopicService(repo topicStore, audit auditLogger, logger *zap.Logger) *TopicService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TopicService{repo: repo, audit: audit, logger: logger}
}

// Create posts a new topic owned by the acting tutor.
func (s *TopicService) Create(ctx context.Context, req dto.CreateTopicRequest, actor *models.JWTClaims) (*models.Topic, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTutor && actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	area := strings.TrimSpace(req.Area)
	if area == "" || models.IsAllAreasSentinel(area) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "area must be a concrete subject area")
	}
	topic := &models.Topic{
		OwnerID:     actor.UserID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Area:        area,
		Status:      models.TopicStatusAvailable,
	}
	if topic.Title == "" || topic.Description == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title and description are required")
	}
	if err := s.repo.Create(ctx, topic); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create topic")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionTopicCreate, topic.ID, topic)
	return topic, nil
}

// Get returns a single topic.
func (s *TopicService) Get(ctx context.Context, id string) (*models.Topic, error) {
	topic, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
	}
	return topic, nil
}

// List returns topics for the board. Students only see available topics;
// tutors and admins may widen the status filter.
func (s *TopicService) List(ctx context.Context, query dto.TopicQuery, actor *models.JWTClaims) ([]models.Topic, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.TopicFilter{
		OwnerID: query.OwnerID,
		Search:  strings.TrimSpace(query.Search),
		Status:  query.Status,
		Limit:   query.Limit,
		Offset:  query.Offset,
	}
	// the catch-all label means no area filter at all
	if area := strings.TrimSpace(query.Area); area != "" && !models.IsAllAreasSentinel(area) {
		filter.Area = area
	}
	if actor.Role == models.RoleStudent {
		filter.Status = []models.TopicStatus{models.TopicStatusAvailable}
	}
	topics, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list topics")
	}
	return topics, nil
}

// Update edits an available topic owned by the actor.
func (s *TopicService) Update(ctx context.Context, id string, req dto.UpdateTopicRequest, actor *models.JWTClaims) (*models.Topic, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	topic, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && topic.OwnerID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if topic.Status != models.TopicStatusAvailable {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only available topics can be edited")
	}
	if req.Title != nil {
		topic.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		topic.Description = strings.TrimSpace(*req.Description)
	}
	if req.Area != nil {
		area := strings.TrimSpace(*req.Area)
		if area == "" || models.IsAllAreasSentinel(area) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "area must be a concrete subject area")
		}
		topic.Area = area
	}
	if topic.Title == "" || topic.Description == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title and description are required")
	}
	if err := s.repo.Update(ctx, topic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "topic was taken in the meantime")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update topic")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionTopicUpdate, topic.ID, topic)
	return topic, nil
}

// Delete removes an available topic owned by the actor. Requests that
// reference the topic keep their copied title and description.
func (s *TopicService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	topic, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin && topic.OwnerID != actor.UserID {
		return appErrors.ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "only available topics can be deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete topic")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionTopicDelete, id, nil)
	return nil
}

func (s *TopicService) emitAudit(ctx context.Context, userID, action, resourceID string, payload interface{}) {
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
		Resource:   "topic",
		ResourceID: &resourceID,
		NewValues:  values,
		IPAddress:  "system",
		UserAgent:  "topic-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
