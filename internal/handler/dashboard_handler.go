package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-desk-api/internal/models"
	appErrors "github.com/noah-isme/thesis-desk-api/pkg/errors"
	"github.com/noah-isme/thesis-desk-api/pkg/response"
)

type dashboardService interface {
	Counters(ctx context.Context, actor *models.JWTClaims) (*models.StatusCounts, error)
	System(actor *models.JWTClaims) (*models.SystemMetrics, error)
}

// DashboardHandler exposes workload counters and system metrics.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler builds a new handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Counters godoc
// @Summary Per-status request counts scoped to the caller
// @Tags Dashboard
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/counters [get]
func (h *DashboardHandler) Counters(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	counts, err := h.service.Counters(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, counts, nil)
}

// System godoc
// @Summary Runtime metrics snapshot for administrators
// @Tags Dashboard
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/system [get]
func (h *DashboardHandler) System(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	snapshot, err := h.service.System(claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}
