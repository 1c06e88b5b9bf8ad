package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schoolcore/assessment-service/internal/services"
	"github.com/schoolcore/assessment-service/internal/utils"
	"github.com/schoolcore/assessment-service/internal/validator"
)

type GradingHandler struct {
	BaseHandler
	gradingService services.GradingService
	validator      *validator.Validator
}

func NewGradingHandler(
	gradingService services.GradingService,
	validator *validator.Validator,
	logger utils.Logger,
) *GradingHandler {
	return &GradingHandler{
		BaseHandler:    NewBaseHandler(logger),
		gradingService: gradingService,
		validator:      validator,
	}
}

// Grade applies manual scores to a finished attempt and marks it checked.
// Situation tasks are scored by admissible fractions of the unit value.
func (h *GradingHandler) Grade(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Grading attempt", "attempt_id", id)

	var req services.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	graderID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.gradingService.GradeAttempt(c.Request.Context(), id, &req, graderID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Reopen withdraws a grade. The exam's publish flag is cleared so stale
// results are never shown to students.
func (h *GradingHandler) Reopen(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Reopening graded attempt", "attempt_id", id)

	graderID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.gradingService.Reopen(c.Request.Context(), id, graderID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Result returns the attempt result. Students get the pending placeholder
// until the teacher publishes checked results.
func (h *GradingHandler) Result(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.gradingService.ViewResult(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
