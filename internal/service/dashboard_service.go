package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/thesis-desk-api/internal/models"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
)

type dashboardStore interface {
	CountByStatus(ctx context.Context, filter models.RequestFilter) (map[models.RequestStatus]int, error)
}

// DashboardService aggregates per-status request counters for the landing
// views. Counters are cached briefly; workflow writes invalidate them.
type DashboardService struct {
	repo    dashboardStore
	cache   *CacheService
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewDashboardService constructs the service.
func NewDashboardService(repo dashboardStore, cache *CacheService, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &DashboardService{repo: repo, cache: cache, metrics: metrics, ttl: ttl, logger: logger}
}

// Counters returns status counts scoped to the actor: students see their own
// requests, tutors the ones they supervise, admins everything.
func (s *DashboardService) Counters(ctx context.Context, actor *models.JWTClaims) (*models.StatusCounts, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.RequestFilter{}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleTutor:
		filter.SupervisorID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}

	key := fmt.Sprintf("dashboard:counts:%s:%s", actor.Role, actor.UserID)
	var cached models.StatusCounts
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	counts, err := s.repo.CountByStatus(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count requests")
	}
	result := &models.StatusCounts{Counts: counts}
	for _, n := range counts {
		result.Total += n
	}
	if err := s.cache.Set(ctx, key, result, s.ttl); err != nil {
		s.logger.Warn("failed to cache dashboard counters", zap.Error(err))
	}
	return result, nil
}

// System returns the runtime metrics snapshot for admins.
func (s *DashboardService) System(actor *models.JWTClaims) (*models.SystemMetrics, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	snapshot := s.metrics.Snapshot()
	return &snapshot, nil
}

// Invalidate drops all cached counters after a workflow write.
func (s *DashboardService) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "dashboard:counts:*"); err != nil {
		s.logger.Warn("failed to invalidate dashboard cache", zap.Error(err))
	}
}
