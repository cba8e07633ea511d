package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
	"github.com/noah-isme/clg-aas-api/pkg/response"
)

type advisorService interface {
	Reassign(ctx context.Context, req dto.ReassignAdvisorRequest, actor *models.JWTClaims) (*models.ReassignmentResult, error)
	History(ctx context.Context, assignmentID string, actor *models.JWTClaims) ([]models.AssignmentTransition, error)
}

// AdvisorHandler exposes the administrative advisor reassignment endpoint.
type AdvisorHandler struct {
	service advisorService
}

// NewAdvisorHandler constructs the handler.
func NewAdvisorHandler(service advisorService) *AdvisorHandler {
	return &AdvisorHandler{service: service}
}

// Reassign godoc
// @Summary Reassign a class advisor
// @Tags Advisors
// @Accept json
// @Produce json
// @Param payload body dto.ReassignAdvisorRequest true "Reassignment payload"
// @Success 200 {object} response.Envelope
// @Router /advisors/reassign [put]
func (h *AdvisorHandler) Reassign(c *gin.Context) {
	var req dto.ReassignAdvisorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid reassignment payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Reassign(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// History godoc
// @Summary Get an assignment's status transition history
// @Tags Advisors
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /advisors/assignments/{id}/history [get]
func (h *AdvisorHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	transitions, err := h.service.History(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transitions, nil)
}
