package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schoolcore/assessment-service/internal/services"
	"github.com/schoolcore/assessment-service/internal/utils"
	"github.com/schoolcore/assessment-service/internal/validator"
)

type RunHandler struct {
	BaseHandler
	runService services.RunService
	validator  *validator.Validator
}

func NewRunHandler(
	runService services.RunService,
	validator *validator.Validator,
	logger utils.Logger,
) *RunHandler {
	return &RunHandler{
		BaseHandler: NewBaseHandler(logger),
		runService:  runService,
		validator:   validator,
	}
}

// Schedule creates a run for one audience with an explicit window. The
// target must name a group or a student, never both.
func (h *RunHandler) Schedule(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	h.LogRequest(c, "Scheduling run", "exam_id", examID)

	var req services.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	run, err := h.runService.Schedule(c.Request.Context(), examID, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, run)
}

// ActivateNow opens windows starting immediately for the listed audiences.
// Existing runs for those audiences are refreshed, not duplicated, and a
// draft exam passing the activation gate is activated in the same call.
func (h *RunHandler) ActivateNow(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	h.LogRequest(c, "Activating runs now", "exam_id", examID)

	var req services.ActivateNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	runs, err := h.runService.ActivateNow(c.Request.Context(), examID, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *RunHandler) GetByExam(c *gin.Context) {
	examID := h.parseIDParam(c, "id")
	if examID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	runs, err := h.runService.GetByExam(c.Request.Context(), examID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *RunHandler) Get(c *gin.Context) {
	runID := h.parseIDParam(c, "id")
	if runID == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	run, err := h.runService.GetByID(c.Request.Context(), runID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}
