package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-desk-api/internal/dto"
	"github.com/noah-isme/thesis-desk-api/internal/models"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
	"github.com/noah-isme/thesis-desk-api/pkg/response"
)

type topicService interface {
	Create(ctx context.Context, req dto.CreateTopicRequest, actor *models.JWTClaims) (*models.Topic, error)
	Get(ctx context.Context, id string) (*models.Topic, error)
	List(ctx context.Context, query dto.TopicQuery, actor *models.JWTClaims) ([]models.Topic, error)
	Update(ctx context.Context, id string, req dto.UpdateTopicRequest, actor *models.JWTClaims) (*models.Topic, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
}

// TopicHandler exposes the thesis topic board.
type TopicHandler struct {
	service topicService
}

// NewTopicHandler builds a new handler.
func NewTopicHandler(service topicService) *TopicHandler {
	return &TopicHandler{service: service}
}

// List godoc
// @Summary List thesis topics
// @Tags Topics
// @Security BearerAuth
// @Produce json
// @Param area query string false "Filter by area"
// @Param status query string false "Filter by status (available|taken|retired)"
// @Param search query string false "Full text search on title"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /topics [get]
func (h *TopicHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.TopicQuery{
		Area:    c.Query("area"),
		Search:  c.Query("search"),
		OwnerID: c.Query("owner_id"),
		Limit:   intQuery(c, "limit"),
		Offset:  intQuery(c, "offset"),
	}
	if status := c.Query("status"); status != "" {
		query.Status = []models.TopicStatus{models.TopicStatus(status)}
	}
	topics, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topics, nil)
}

// Get godoc
// @Summary Fetch a single topic
// @Tags Topics
// @Security BearerAuth
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Router /topics/{id} [get]
func (h *TopicHandler) Get(c *gin.Context) {
	topic, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topic, nil)
}

// Create godoc
// @Summary Post a new topic on the board
// @Tags Topics
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body dto.CreateTopicRequest true "Topic payload"
// @Success 201 {object} response.Envelope
// @Router /topics [post]
func (h *TopicHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	topic, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, topic)
}

// Update godoc
// @Summary Edit an available topic
// @Tags Topics
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Topic ID"
// @Param payload body dto.UpdateTopicRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /topics/{id} [put]
func (h *TopicHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	topic, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topic, nil)
}

// Delete godoc
// @Summary Retire an available topic
// @Tags Topics
// @Security BearerAuth
// @Param id path string true "Topic ID"
// @Success 204
// @Router /topics/{id} [delete]
func (h *TopicHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func intQuery(c *gin.Context, key string) int {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
