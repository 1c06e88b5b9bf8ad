package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/schoolcore/assessment-service/internal/config"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
	"github.com/schoolcore/assessment-service/internal/services"
	"github.com/schoolcore/assessment-service/internal/utils"
	"github.com/schoolcore/assessment-service/internal/validator"
)

type HandlerManager struct {
	examHandler         *ExamHandler
	questionBankHandler *QuestionBankHandler
	runHandler          *RunHandler
	attemptHandler      *AttemptHandler
	gradingHandler      *GradingHandler
	studentHandler      *StudentHandler
	userHandler         *UserHandler
	authMiddleware      *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		examHandler:         NewExamHandler(serviceManager.Exam(), serviceManager.ImportExport(), validator, logger),
		questionBankHandler: NewQuestionBankHandler(serviceManager.QuestionBank(), validator, logger),
		runHandler:          NewRunHandler(serviceManager.Run(), validator, logger),
		attemptHandler:      NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		gradingHandler:      NewGradingHandler(serviceManager.Grading(), validator, logger),
		studentHandler:      NewStudentHandler(serviceManager.Student(), logger),
		userHandler:         NewUserHandler(userRepo, logger),
		authMiddleware:      authMiddleware,
	}
}

// SetupRoutes registers all API routes.
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	teacherOnly := hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Exam definition routes
		exams := v1.Group("/exams")
		{
			exams.POST("", teacherOnly, hm.examHandler.Create)
			exams.GET("", teacherOnly, hm.examHandler.List)
			exams.GET("/mine", teacherOnly, hm.examHandler.ListMine)
			exams.GET("/:id", hm.examHandler.Get)
			exams.GET("/:id/details", teacherOnly, hm.examHandler.GetWithDetails)
			exams.PUT("/:id", teacherOnly, hm.examHandler.Update)
			exams.DELETE("/:id", teacherOnly, hm.examHandler.Delete)

			// Lifecycle
			exams.POST("/:id/activate", teacherOnly, hm.examHandler.Activate)
			exams.POST("/:id/stop", teacherOnly, hm.examHandler.Stop)
			exams.POST("/:id/archive", teacherOnly, hm.examHandler.Archive)
			exams.POST("/:id/publish-results", teacherOnly, hm.examHandler.PublishResults)

			// Question bank linkage
			exams.PUT("/:id/questions", teacherOnly, hm.examHandler.ReplaceQuestions)

			// Answer key import
			exams.POST("/:id/answer-key/import", teacherOnly, hm.examHandler.ImportAnswerKey)

			// Run scheduling
			exams.POST("/:id/runs", teacherOnly, hm.runHandler.Schedule)
			exams.POST("/:id/runs/activate-now", teacherOnly, hm.runHandler.ActivateNow)
			exams.GET("/:id/runs", teacherOnly, hm.runHandler.GetByExam)

			// Review
			exams.GET("/:id/attempts", teacherOnly, hm.attemptHandler.ListByExam)
			exams.GET("/:id/export", teacherOnly, hm.examHandler.ExportResults)
		}

		// Run routes
		runs := v1.Group("/runs")
		{
			runs.GET("/:id", hm.runHandler.Get)
			runs.GET("/:id/attempts", teacherOnly, hm.attemptHandler.ListByRun)

			// Student attempt entry points
			runs.POST("/:id/attempts", hm.attemptHandler.Start)
			runs.GET("/:id/attempts/current", hm.attemptHandler.GetCurrent)
		}

		// Attempt routes
		attempts := v1.Group("/attempts")
		{
			attempts.GET("/:id", hm.attemptHandler.Get)
			attempts.POST("/:id/submit", hm.attemptHandler.Submit)
			attempts.PUT("/:id/canvas", hm.attemptHandler.SaveCanvas)
			attempts.GET("/:id/result", hm.gradingHandler.Result)

			// Teacher interventions
			attempts.POST("/:id/reset", teacherOnly, hm.attemptHandler.Reset)
			attempts.POST("/:id/grade", teacherOnly, hm.gradingHandler.Grade)
			attempts.POST("/:id/reopen", teacherOnly, hm.gradingHandler.Reopen)
		}

		// Question bank routes - Teachers and Admins only
		questions := v1.Group("/questions")
		questions.Use(teacherOnly)
		{
			questions.POST("", hm.questionBankHandler.Create)
			questions.GET("", hm.questionBankHandler.List)
			questions.GET("/:id", hm.questionBankHandler.Get)
			questions.PUT("/:id", hm.questionBankHandler.Update)
			questions.DELETE("/:id", hm.questionBankHandler.Delete)
		}

		topics := v1.Group("/topics")
		topics.Use(teacherOnly)
		{
			topics.POST("", hm.questionBankHandler.CreateTopic)
			topics.GET("", hm.questionBankHandler.ListTopics)
		}

		// User lookups for audience selection - Teachers and Admins only
		users := v1.Group("/users")
		users.Use(teacherOnly)
		{
			users.GET("", hm.userHandler.List)
			users.GET("/:id", hm.userHandler.Get)
		}

		// Student routes - Students only
		students := v1.Group("/students")
		students.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent))
		{
			students.GET("/me/runs", hm.studentHandler.AvailableRuns)
			students.GET("/me/attempts", hm.studentHandler.AttemptHistory)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "assessment-service",
		})
	})
}
