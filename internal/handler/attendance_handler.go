package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/clg-aas-api/internal/models"
	"github.com/noah-isme/clg-aas-api/internal/service"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
	"github.com/noah-isme/clg-aas-api/pkg/response"
)

type attendanceService interface {
	Ledger(ctx context.Context, classID, date string, actor *models.JWTClaims) (*service.AttendanceView, error)
}

// AttendanceHandler exposes read access to the attendance ledger.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(service attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// Ledger godoc
// @Summary Get a class ledger entry for a date
// @Tags Attendance
// @Produce json
// @Param classId path string true "Class ID"
// @Param date path string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/{classId}/{date} [get]
func (h *AttendanceHandler) Ledger(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, err := h.service.Ledger(c.Request.Context(), c.Param("classId"), c.Param("date"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}
