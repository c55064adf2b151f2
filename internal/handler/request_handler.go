package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-desk-api/internal/dto"
	"github.com/noah-isme/thesis-desk-api/internal/models"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
	"github.com/noah-isme/thesis-desk-api/pkg/response"
)

type requestWorkflow interface {
	Create(ctx context.Context, req dto.CreateRequestPayload, actor *models.JWTClaims) (*models.SupervisionRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.SupervisionRequest, error)
	List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.SupervisionRequest, error)
	ListReviews(ctx context.Context, actor *models.JWTClaims) ([]models.SupervisionRequest, error)
	Transition(ctx context.Context, id string, payload dto.TransitionPayload, actor *models.JWTClaims) (*models.SupervisionRequest, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
}

type reviewerWorkflow interface {
	Assign(ctx context.Context, requestID string, payload dto.AssignReviewerPayload, actor *models.JWTClaims) (*models.SupervisionRequest, error)
	Decide(ctx context.Context, requestID string, payload dto.ReviewerDecisionPayload, actor *models.JWTClaims) (*models.SupervisionRequest, error)
}

type invoiceWorkflow interface {
	Create(ctx context.Context, requestID string, payload dto.InvoicePayload, actor *models.JWTClaims) (*models.SupervisionRequest, error)
	MarkPaid(ctx context.Context, requestID string, payload dto.InvoicePayload, actor *models.JWTClaims) (*models.SupervisionRequest, error)
	ExportLedger(ctx context.Context, format string, actor *models.JWTClaims) ([]byte, string, error)
}

// RequestHandler exposes the supervision request workflow.
type RequestHandler struct {
	requests  requestWorkflow
	reviewers reviewerWorkflow
	invoices  invoiceWorkflow
}

// NewRequestHandler builds a new handler.
func NewRequestHandler(requests requestWorkflow, reviewers reviewerWorkflow, invoices invoiceWorkflow) *RequestHandler {
	return &RequestHandler{requests: requests, reviewers: reviewers, invoices: invoices}
}

// Create godoc
// @Summary Open a new supervision request
// @Tags Requests
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestPayload true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.requests.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List supervision requests visible to the caller
// @Tags Requests
// @Security BearerAuth
// @Produce json
// @Param status query string false "Filter by status"
// @Param topic_id query string false "Filter by topic"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.RequestQuery{
		TopicID: c.Query("topic_id"),
		Limit:   intQuery(c, "limit"),
		Offset:  intQuery(c, "offset"),
	}
	if status := c.Query("status"); status != "" {
		query.Status = []models.RequestStatus{models.RequestStatus(status)}
	}
	requests, err := h.requests.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// ListReviews godoc
// @Summary List requests where the caller is the second reviewer
// @Tags Requests
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/reviews [get]
func (h *RequestHandler) ListReviews(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	requests, err := h.requests.ListReviews(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Fetch a single supervision request
// @Tags Requests
// @Security BearerAuth
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.requests.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Transition godoc
// @Summary Move a request to a new status
// @Tags Requests
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.TransitionPayload true "Target status"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/transition [post]
func (h *RequestHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.TransitionPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.requests.Transition(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Delete godoc
// @Summary Withdraw an open or rejected request
// @Tags Requests
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 204
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.requests.Delete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AssignReviewer godoc
// @Summary Nominate a second reviewer for an accepted request
// @Tags Reviewers
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.AssignReviewerPayload true "Reviewer payload"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/reviewer [post]
func (h *RequestHandler) AssignReviewer(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AssignReviewerPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.reviewers.Assign(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ReviewerDecision godoc
// @Summary Record the assigned reviewer's decision
// @Tags Reviewers
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewerDecisionPayload true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/reviewer/decision [post]
func (h *RequestHandler) ReviewerDecision(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReviewerDecisionPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.reviewers.Decide(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// CreateInvoice godoc
// @Summary Record an invoice for one of the two ledgers
// @Tags Invoices
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.InvoicePayload true "Ledger role"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/invoices [post]
func (h *RequestHandler) CreateInvoice(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.InvoicePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.invoices.Create(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// MarkInvoicePaid godoc
// @Summary Mark a recorded invoice as paid
// @Tags Invoices
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.InvoicePayload true "Ledger role"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/invoices/paid [post]
func (h *RequestHandler) MarkInvoicePaid(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.InvoicePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.invoices.MarkPaid(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ExportLedger godoc
// @Summary Export the invoice ledger as CSV or PDF
// @Tags Invoices
// @Security BearerAuth
// @Produce text/csv
// @Param format query string false "Export format (csv|pdf)"
// @Success 200 {file} byte
// @Router /requests/ledger/export [get]
func (h *RequestHandler) ExportLedger(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	data, contentType, err := h.invoices.ExportLedger(c.Request.Context(), c.Query("format"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	ext := "csv"
	if contentType == "application/pdf" {
		ext = "pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="invoice-ledger.`+ext+`"`)
	c.Data(http.StatusOK, contentType, data)
}
