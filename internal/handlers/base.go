package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
	"github.com/schoolcore/assessment-service/internal/services"
	"github.com/schoolcore/assessment-service/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// BaseHandler carries shared helpers used by every handler type.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	utils.FromContext(c.Request.Context()).Info(msg, args...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	utils.FromContext(c.Request.Context()).Error(msg, append(args, "error", err)...)
}

// parseIDParam parses a positive uint path parameter. On failure it writes a
// 400 response and returns 0; callers must return when they get 0.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name + " parameter",
			Details: raw,
		})
		return 0
	}
	return uint(id)
}

// requireUserID pulls the authenticated user id set by the auth middleware.
func (h *BaseHandler) requireUserID(c *gin.Context) (string, bool) {
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	return userID, true
}

// handleServiceError maps service errors onto HTTP statuses. Expected
// student-flow outcomes such as an expired window are not logged as errors.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
			},
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrExamNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Exam not found"})
	case errors.Is(err, services.ErrRunNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Run not found"})
	case errors.Is(err, services.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Attempt not found"})
	case errors.Is(err, services.ErrQuestionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Question not found"})
	case errors.Is(err, services.ErrTopicNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Topic not found"})
	case errors.Is(err, services.ErrExamNotVisible):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Exam is not visible"})
	case errors.Is(err, services.ErrExamNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Exam is not active"})
	case errors.Is(err, services.ErrRunNotOpen):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Run window is not open"})
	case errors.Is(err, services.ErrAttemptNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Attempt is not active"})
	case errors.Is(err, services.ErrAttemptAlreadySubmitted):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Attempt already submitted"})
	case errors.Is(err, services.ErrAttemptNotFinished):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Attempt is not finished yet"})
	case errors.Is(err, services.ErrAttemptTimeExpired):
		c.JSON(http.StatusGone, ErrorResponse{Message: "Attempt time has expired"})
	case errors.Is(err, services.ErrQuestionInUse):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Question is referenced by an exam"})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}

// parsePagination reads page/size query parameters into limit/offset.
func parsePagination(c *gin.Context) (limit, offset int) {
	size, _ := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(defaultPageSize)))
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page <= 0 {
		page = 1
	}
	return size, (page - 1) * size
}

func parseExamFilters(c *gin.Context) repositories.ExamFilters {
	filters := repositories.ExamFilters{
		Query:     c.Query("q"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	filters.Limit, filters.Offset = parsePagination(c)

	if status := c.Query("status"); status != "" {
		s := models.ExamStatus(status)
		filters.Status = &s
	}
	if kind := c.Query("kind"); kind != "" {
		k := models.ExamKind(kind)
		filters.Kind = &k
	}
	if archived := c.Query("archived"); archived != "" {
		v := archived == "true"
		filters.Archived = &v
	}
	return filters
}

func parseQuestionFilters(c *gin.Context) repositories.QuestionFilters {
	filters := repositories.QuestionFilters{
		Query:     c.Query("q"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	filters.Limit, filters.Offset = parsePagination(c)

	if qt := c.Query("type"); qt != "" {
		t := models.QuestionType(qt)
		filters.Type = &t
	}
	if topic := c.Query("topic_id"); topic != "" {
		if id, err := strconv.ParseUint(topic, 10, 32); err == nil {
			topicID := uint(id)
			filters.TopicID = &topicID
		}
	}
	return filters
}

func parseAttemptFilters(c *gin.Context) repositories.AttemptFilters {
	filters := repositories.AttemptFilters{
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	filters.Limit, filters.Offset = parsePagination(c)

	if status := c.Query("status"); status != "" {
		s := models.AttemptStatus(status)
		filters.Status = &s
	}
	if student := c.Query("student_id"); student != "" {
		filters.StudentID = &student
	}
	if checked := c.Query("is_checked"); checked != "" {
		v := checked == "true"
		filters.IsChecked = &v
	}
	if from := c.Query("date_from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filters.DateFrom = &t
		}
	}
	if to := c.Query("date_to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filters.DateTo = &t
		}
	}
	return filters
}
