package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schoolcore/assessment-service/internal/services"
	"github.com/schoolcore/assessment-service/internal/utils"
)

type StudentHandler struct {
	BaseHandler
	studentService services.StudentService
}

func NewStudentHandler(studentService services.StudentService, logger utils.Logger) *StudentHandler {
	return &StudentHandler{
		BaseHandler:    NewBaseHandler(logger),
		studentService: studentService,
	}
}

// AvailableRuns lists the runs currently open to the authenticated student,
// through direct targeting or group membership, with their attempt state.
func (h *StudentHandler) AvailableRuns(c *gin.Context) {
	studentID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	runs, err := h.studentService.AvailableRuns(c.Request.Context(), studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// AttemptHistory lists the student's own finished and running attempts.
func (h *StudentHandler) AttemptHistory(c *gin.Context) {
	studentID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters := parseAttemptFilters(c)

	attempts, err := h.studentService.AttemptHistory(c.Request.Context(), studentID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}
