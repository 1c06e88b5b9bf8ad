package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schoolcore/assessment-service/internal/services"
	"github.com/schoolcore/assessment-service/internal/utils"
	"github.com/schoolcore/assessment-service/internal/validator"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	validator      *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		validator:      validator,
	}
}

// Start opens or resumes the student's attempt on a run. Starting twice
// returns the same attempt.
func (h *AttemptHandler) Start(c *gin.Context) {
	runID := h.parseIDParam(c, "id")
	if runID == 0 {
		return
	}

	h.LogRequest(c, "Starting attempt", "run_id", runID)

	studentID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), runID, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

func (h *AttemptHandler) Get(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// GetCurrent returns the student's live or latest finished attempt on a run.
func (h *AttemptHandler) GetCurrent(c *gin.Context) {
	runID := h.parseIDParam(c, "id")
	if runID == 0 {
		return
	}

	studentID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.GetCurrent(c.Request.Context(), runID, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// Submit finalizes the attempt with the student's answers. The automatic
// part is scored immediately; situation tasks stay pending for manual check.
func (h *AttemptHandler) Submit(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Submitting attempt", "attempt_id", id)

	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if verrs := h.validator.Validate(&req); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: verrs,
		})
		return
	}

	studentID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), id, &req, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SaveCanvas stores a hand drawn answer for one question or situation task.
// Re-saving the same target replaces the previous drawing.
func (h *AttemptHandler) SaveCanvas(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.CanvasSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	studentID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.attemptService.SaveCanvas(c.Request.Context(), id, &req, studentID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Reset retires the student's current attempt and opens a fresh window so
// they can take the run again. Teacher only.
func (h *AttemptHandler) Reset(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Resetting attempt", "attempt_id", id)

	var req services.TeacherResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	teacherID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.TeacherReset(c.Request.Context(), id, &req, teacherID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

func (h *AttemptHandler) ListByExam(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters := parseAttemptFilters(c)

	attempts, err := h.attemptService.ListByExam(c.Request.Context(), examID, filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}

func (h *AttemptHandler) ListByRun(c *gin.Context) {
	runID := h.parseIDParam(c, "id")
	if runID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters := parseAttemptFilters(c)

	attempts, err := h.attemptService.ListByRun(c.Request.Context(), runID, filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}
