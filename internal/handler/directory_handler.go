package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-desk-api/internal/service"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
	"github.com/noah-isme/thesis-desk-api/pkg/response"
)

// DirectoryHandler exposes the tutor directory.
type DirectoryHandler struct {
	service *service.DirectoryService
}

// NewDirectoryHandler constructs a directory handler.
func NewDirectoryHandler(svc *service.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{service: svc}
}

// List godoc
// @Summary List active tutors, optionally filtered by area
// @Tags Directory
// @Security BearerAuth
// @Produce json
// @Param area query string false "Filter by area"
// @Success 200 {object} response.Envelope
// @Router /directory/tutors [get]
func (h *DirectoryHandler) List(c *gin.Context) {
	entries, err := h.service.List(c.Request.Context(), c.Query("area"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// ReviewerCandidates godoc
// @Summary List tutors eligible as second reviewer for the caller
// @Tags Directory
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /directory/reviewers [get]
func (h *DirectoryHandler) ReviewerCandidates(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entries, err := h.service.ReviewerCandidates(c.Request.Context(), claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
