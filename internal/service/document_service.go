package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/thesis-desk-api/internal/models"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
	"github.com/noah-isme/thesis-desk-api/pkg/storage"
)

// allowed expose upload extensions
var exposeExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
}

// DocumentService stores expose documents on local disk and hands out
// short-lived signed download URLs.
type DocumentService struct {
	store   *storage.LocalStorage
	signer  *storage.SignedURLSigner
	maxSize int64
	logger  *zap.Logger
}

// NewDocumentService constructs the service.
func NewDocumentService(store *storage.LocalStorage, signer *storage.SignedURLSigner, maxSize int64, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = 20 << 20
	}
	return &DocumentService{store: store, signer: signer, maxSize: maxSize, logger: logger}
}

// SaveExpose persists an uploaded expose and returns its signed URL.
func (s *DocumentService) SaveExpose(actor *models.JWTClaims, originalName string, size int64, r io.Reader) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return "", appErrors.ErrForbidden
	}
	if size > s.maxSize {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("document exceeds the %d byte limit", s.maxSize))
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if _, ok := exposeExtensions[ext]; !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, "only pdf and word documents are accepted")
	}

	docID := uuid.NewString()
	filename := filepath.Join(actor.UserID, docID+ext)
	relPath, err := s.store.SaveStream(filename, io.LimitReader(r, s.maxSize))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}

	token, _, err := s.signer.Generate(docID, relPath)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign document url")
	}
	return "/api/v1/documents/" + token, nil
}

// Open validates a signed token and opens the underlying file.
func (s *DocumentService) Open(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired document link")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	return file, nil
}

// Cleanup removes documents older than the TTL. Run periodically.
func (s *DocumentService) Cleanup(ttl time.Duration) {
	removed, err := s.store.CleanupOlderThan(ttl)
	if err != nil {
		s.logger.Warn("document cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("document cleanup", zap.Int("removed", len(removed)))
	}
}
