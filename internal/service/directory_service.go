package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/thesis-desk-api/internal/models"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
)

const directoryCacheKey = "directory:tutors"

type directoryStore interface {
	ListTutors(ctx context.Context) ([]models.DirectoryEntry, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// DirectoryService exposes the tutor directory used for supervisor selection
// and reviewer candidate lookup. Listings are cached in Redis.
type DirectoryService struct {
	repo   directoryStore
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewDirectoryService constructs the service.
func NewDirectoryService(repo directoryStore, cache *CacheService, ttl time.Duration, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DirectoryService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// List returns all active tutors, optionally narrowed to a subject area. The
// catch-all area label disables the filter.
func (s *DirectoryService) List(ctx context.Context, area string) ([]models.DirectoryEntry, error) {
	entries, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}
	area = strings.TrimSpace(area)
	if area == "" || models.IsAllAreasSentinel(area) {
		return entries, nil
	}
	filtered := make([]models.DirectoryEntry, 0, len(entries))
	for _, entry := range entries {
		if strings.EqualFold(entry.Area, area) || models.IsAllAreasSentinel(entry.Area) {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// ReviewerCandidates lists tutors eligible as second reviewer for a request.
// The request's supervisor is excluded by email, case-insensitively.
func (s *DirectoryService) ReviewerCandidates(ctx context.Context, supervisorEmail string) ([]models.DirectoryEntry, error) {
	entries, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]models.DirectoryEntry, 0, len(entries))
	for _, entry := range entries {
		if strings.EqualFold(entry.Email, supervisorEmail) {
			continue
		}
		candidates = append(candidates, entry)
	}
	return candidates, nil
}

// Resolve finds a tutor by id or email, preferring the id when both are set.
func (s *DirectoryService) Resolve(ctx context.Context, id, email string) (*models.DirectoryEntry, error) {
	var user *models.User
	var err error
	switch {
	case strings.TrimSpace(id) != "":
		user, err = s.repo.FindByID(ctx, strings.TrimSpace(id))
	case strings.TrimSpace(email) != "":
		user, err = s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "tutor id or email is required")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "tutor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve tutor")
	}
	if user.Role != models.RoleTutor || !user.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not an active tutor")
	}
	entry := &models.DirectoryEntry{
		ID:    user.ID,
		Name:  user.FullName,
		Email: user.Email,
	}
	if user.Area != nil {
		entry.Area = *user.Area
	}
	if user.AreaInfo != nil {
		entry.AreaInfo = *user.AreaInfo
	}
	return entry, nil
}

// Invalidate drops the cached directory after tutor account changes.
func (s *DirectoryService) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, directoryCacheKey); err != nil {
		s.logger.Warn("failed to invalidate directory cache", zap.Error(err))
	}
}

func (s *DirectoryService) listAll(ctx context.Context) ([]models.DirectoryEntry, error) {
	var entries []models.DirectoryEntry
	if hit, err := s.cache.Get(ctx, directoryCacheKey, &entries); err == nil && hit {
		return entries, nil
	}
	entries, err := s.repo.ListTutors(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load tutor directory")
	}
	if err := s.cache.Set(ctx, directoryCacheKey, entries, s.ttl); err != nil {
		s.logger.Warn("failed to cache tutor directory", zap.Error(err))
	}
	return entries, nil
}
