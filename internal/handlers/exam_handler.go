package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schoolcore/assessment-service/internal/services"
	"github.com/schoolcore/assessment-service/internal/utils"
	"github.com/schoolcore/assessment-service/internal/validator"
)

type ExamHandler struct {
	BaseHandler
	examService         services.ExamService
	importExportService services.ImportExportService
	validator           *validator.Validator
}

func NewExamHandler(
	examService services.ExamService,
	importExportService services.ImportExportService,
	validator *validator.Validator,
	logger utils.Logger,
) *ExamHandler {
	return &ExamHandler{
		BaseHandler:         NewBaseHandler(logger),
		examService:         examService,
		importExportService: importExportService,
		validator:           validator,
	}
}

// Create creates a draft exam definition. External answer keys are
// normalized before storage; an unrecognized key format is rejected.
func (h *ExamHandler) Create(c *gin.Context) {
	h.LogRequest(c, "Creating exam")

	var req services.CreateExamRequest
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

	exam, err := h.examService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, exam)
}

func (h *ExamHandler) Get(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

func (h *ExamHandler) GetWithDetails(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	exam, err := h.examService.GetByIDWithDetails(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

func (h *ExamHandler) Update(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Updating exam", "exam_id", id)

	var req services.UpdateExamRequest
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

	exam, err := h.examService.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// Delete removes a draft exam. Active and finished exams cannot be deleted.
func (h *ExamHandler) Delete(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Deleting exam", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.examService.Delete(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ExamHandler) List(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters := parseExamFilters(c)

	exams, err := h.examService.List(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exams)
}

// ListMine lists the exams created by the authenticated teacher.
func (h *ExamHandler) ListMine(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters := parseExamFilters(c)

	exams, err := h.examService.GetByCreator(c.Request.Context(), userID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exams)
}

// ReplaceQuestions swaps the question bank links of a draft exam.
func (h *ExamHandler) ReplaceQuestions(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Replacing exam questions", "exam_id", id)

	var req struct {
		Questions []services.ExamQuestionRequest `json:"questions" validate:"required,dive"`
	}
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

	if err := h.examService.ReplaceQuestions(c.Request.Context(), id, req.Questions, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Activate moves a draft exam to active, provided the composition is valid,
// the duration is positive and at least one run is scheduled.
func (h *ExamHandler) Activate(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Activating exam", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.examService.Activate(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// Stop finishes the exam and closes every run window.
func (h *ExamHandler) Stop(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Stopping exam", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.examService.Stop(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "finished"})
}

func (h *ExamHandler) Archive(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Archiving exam", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.examService.Archive(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// PublishResults releases checked results to students.
func (h *ExamHandler) PublishResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Publishing exam results", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.examService.PublishResults(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results_published": true})
}

// ImportAnswerKey uploads an answer key workbook for a draft exam. The file
// arrives as a multipart form field named "file".
func (h *ExamHandler) ImportAnswerKey(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Importing answer key", "exam_id", id)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Missing answer key file",
			Details: err.Error(),
		})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Unreadable answer key file",
			Details: err.Error(),
		})
		return
	}
	defer file.Close()

	workbook, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Unreadable answer key file",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	exam, err := h.importExportService.ImportAnswerKey(c.Request.Context(), id, workbook, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// ExportResults streams the finished attempts of an exam as an xlsx workbook.
func (h *ExamHandler) ExportResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Exporting exam results", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	workbook, err := h.importExportService.ExportExamResults(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("exam-%d-results.xlsx", id)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		workbook)
}
