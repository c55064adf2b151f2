package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/thesis-desk-api/internal/dto"
	"github.com/noah-isme/thesis-desk-api/internal/models"
	"github.com/noah-isme/thesis-desk-api/internal/repository"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
	"github.com/noah-isme/thesis-desk-api/pkg/export"
)

// invoicePhases are the primary statuses in which invoice flags may change.
var invoicePhases = map[models.RequestStatus]struct{}{
	models.RequestStatusColloquiumHeld: {},
	models.RequestStatusInvoiced:       {},
	models.RequestStatusFinished:       {},
}

type invoiceStore interface {
	GetByID(ctx context.Context, id string) (*models.SupervisionRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.SupervisionRequest, error)
	UpdateInvoice(ctx context.Context, params repository.UpdateInvoiceParams) error
}

// InvoiceService keeps the dual invoice ledger on supervision requests.
type InvoiceService struct {
	repo    invoiceStore
	audit   auditLogger
	notify  *NotifyService
	metrics *MetricsService
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger
}

// NewInvoiceService constructs the service.
func NewInvoiceService(repo invoiceStore, audit auditLogger, notify *NotifyService, metrics *MetricsService, logger *zap.Logger) *InvoiceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceService{
		repo:    repo,
		audit:   audit,
		notify:  notify,
		metrics: metrics,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
}

// Create marks the invoice for the given ledger role as created. The
// supervisor invoice additionally advances a colloquium_held request to
// invoiced; the reviewer invoice never moves the primary status. Repeating
// the call once the flag is set is a no-op.
func (s *InvoiceService) Create(ctx context.Context, requestID string, payload dto.InvoicePayload, actor *models.JWTClaims) (*models.SupervisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !payload.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "role must be supervisor or reviewer")
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeLedger(request, payload.Role, actor); err != nil {
		return nil, err
	}
	if _, ok := invoicePhases[request.Status]; !ok {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "invoices can only be created after the colloquium")
	}
	if payload.Role == models.InvoiceRoleReviewer && request.SecondReviewerStatus != models.ReviewerStatusAccepted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no accepted second reviewer on this request")
	}
	if request.InvoiceCreated(payload.Role) {
		return request, nil
	}

	created := true
	params := repository.UpdateInvoiceParams{
		ID:              request.ID,
		ExpectedVersion: request.Version,
	}
	if payload.Role == models.InvoiceRoleReviewer {
		params.InvoiceReviewerCreated = &created
	} else {
		params.InvoiceSupervisorCreated = &created
		if request.Status == models.RequestStatusColloquiumHeld {
			status := models.RequestStatusInvoiced
			params.Status = &status
		}
	}
	if err := s.apply(ctx, request, params); err != nil {
		return nil, err
	}
	if payload.Role == models.InvoiceRoleReviewer {
		request.InvoiceReviewerCreated = true
	} else {
		request.InvoiceSupervisorCreated = true
		if params.Status != nil {
			s.metrics.RecordTransition(request.Status, *params.Status)
			request.Status = *params.Status
		}
	}

	s.metrics.RecordInvoiceEvent(payload.Role, "created")
	s.emitAudit(ctx, actor.UserID, models.AuditActionInvoiceCreate, request.ID, payload.Role)
	s.notify.Publish(NotifyInvoiceCreated, NotificationEvent{
		RequestID:      request.ID,
		RecipientEmail: request.StudentEmail,
		Status:         request.Status,
		Detail:         string(payload.Role),
	})
	return request, nil
}

// MarkPaid records the student's payment for one ledger role. The invoice
// must exist first; repeating the call is a no-op.
func (s *InvoiceService) MarkPaid(ctx context.Context, requestID string, payload dto.InvoicePayload, actor *models.JWTClaims) (*models.SupervisionRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !payload.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "role must be supervisor or reviewer")
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && request.StudentID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if !request.InvoiceCreated(payload.Role) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "the invoice has not been created yet")
	}
	if request.InvoicePaid(payload.Role) {
		return request, nil
	}

	paid := true
	params := repository.UpdateInvoiceParams{
		ID:              request.ID,
		ExpectedVersion: request.Version,
	}
	if payload.Role == models.InvoiceRoleReviewer {
		params.PaidReviewer = &paid
	} else {
		params.PaidSupervisor = &paid
	}
	if err := s.apply(ctx, request, params); err != nil {
		return nil, err
	}
	if payload.Role == models.InvoiceRoleReviewer {
		request.PaidReviewer = true
	} else {
		request.PaidSupervisor = true
	}

	s.metrics.RecordInvoiceEvent(payload.Role, "paid")
	s.emitAudit(ctx, actor.UserID, models.AuditActionInvoicePaid, request.ID, payload.Role)
	s.notify.Publish(NotifyInvoicePaid, NotificationEvent{
		RequestID:      request.ID,
		RecipientEmail: request.SupervisorEmail,
		Status:         request.Status,
		Detail:         string(payload.Role),
	})
	return request, nil
}

// ExportLedger renders the supervisor's invoice ledger as CSV or PDF.
func (s *InvoiceService) ExportLedger(ctx context.Context, format string, actor *models.JWTClaims) ([]byte, string, error) {
	if actor == nil {
		return nil, "", appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTutor && actor.Role != models.RoleAdmin {
		return nil, "", appErrors.ErrForbidden
	}
	filter := models.RequestFilter{
		Status: []models.RequestStatus{
			models.RequestStatusColloquiumHeld,
			models.RequestStatusInvoiced,
			models.RequestStatusFinished,
		},
	}
	if actor.Role == models.RoleTutor {
		filter.SupervisorID = actor.UserID
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice ledger")
	}

	dataset := export.Dataset{
		Headers: []string{"Request", "Student", "Status", "Supervisor Invoice", "Supervisor Paid", "Reviewer Invoice", "Reviewer Paid"},
	}
	for _, request := range requests {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Request":            request.Title,
			"Student":            request.StudentName,
			"Status":             string(request.Status),
			"Supervisor Invoice": strconv.FormatBool(request.InvoiceSupervisorCreated),
			"Supervisor Paid":    strconv.FormatBool(request.PaidSupervisor),
			"Reviewer Invoice":   strconv.FormatBool(request.InvoiceReviewerCreated),
			"Reviewer Paid":      strconv.FormatBool(request.PaidReviewer),
		})
	}

	switch format {
	case "pdf":
		payload, err := s.pdf.Render(dataset, "Invoice Ledger")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", nil
	case "", "csv":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format: %s", format))
	}
}

func (s *InvoiceService) load(ctx context.Context, id string) (*models.SupervisionRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load supervision request")
	}
	return request, nil
}

func (s *InvoiceService) authorizeLedger(request *models.SupervisionRequest, role models.InvoiceRole, actor *models.JWTClaims) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role != models.RoleTutor {
		return appErrors.ErrForbidden
	}
	if request.SupervisorID == actor.UserID {
		return nil
	}
	// the accepted reviewer manages their own ledger entry
	if role == models.InvoiceRoleReviewer && request.SecondReviewerID != nil && *request.SecondReviewerID == actor.UserID {
		return nil
	}
	return appErrors.ErrForbidden
}

func (s *InvoiceService) apply(ctx context.Context, request *models.SupervisionRequest, params repository.UpdateInvoiceParams) error {
	if err := s.repo.UpdateInvoice(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "request was modified concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update invoice flags")
	}
	request.Version++
	return nil
}

func (s *InvoiceService) emitAudit(ctx context.Context, userID, action, resourceID string, role models.InvoiceRole) {
	if s.audit == nil {
		return
	}
	values, _ := json.Marshal(map[string]string{"role": string(role)})
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "supervision_request",
		ResourceID: &resourceID,
		NewValues:  values,
		IPAddress:  "system",
		UserAgent:  "invoice-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
