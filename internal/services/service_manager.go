package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/events"
	"github.com/schoolcore/assessment-service/internal/repositories"
	"github.com/schoolcore/assessment-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	EnableDebugLogging bool
	LogLevel           slog.Level

	Exam         ServiceConfig
	QuestionBank ServiceConfig
	Run          ServiceConfig
	Attempt      ServiceConfig
	Grading      ServiceConfig

	DefaultTimeout time.Duration
}

type ServiceConfig struct {
	Enabled bool
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	db             *gorm.DB
	repo           repositories.Repository
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
	config         ServiceManagerConfig

	examService         ExamService
	questionBankService QuestionBankService
	runService          RunService
	attemptService      AttemptService
	gradingService      GradingService
	studentService      StudentService
	importExportService ImportExportService

	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		db:             db,
		repo:           repo,
		logger:         logger,
		validator:      validator,
		eventPublisher: eventPublisher,
		config:         config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		LogLevel:           slog.LevelInfo,

		Exam:         ServiceConfig{Enabled: true},
		QuestionBank: ServiceConfig{Enabled: true},
		Run:          ServiceConfig{Enabled: true},
		Attempt:      ServiceConfig{Enabled: true},
		Grading:      ServiceConfig{Enabled: true},

		DefaultTimeout: 30 * time.Second,
	}
	return NewServiceManager(db, repo, logger, validator, eventPublisher, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	if sm.config.Exam.Enabled {
		sm.examService = NewExamService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher)
		sm.logger.Info("Exam service initialized")
	}
	if sm.config.QuestionBank.Enabled {
		sm.questionBankService = NewQuestionBankService(sm.repo, sm.db, sm.logger, sm.validator)
		sm.logger.Info("QuestionBank service initialized")
	}
	if sm.config.Run.Enabled {
		sm.runService = NewRunService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher)
		sm.logger.Info("Run service initialized")
	}
	if sm.config.Attempt.Enabled {
		sm.attemptService = NewAttemptService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher)
		sm.logger.Info("Attempt service initialized")
	}
	if sm.config.Grading.Enabled {
		sm.gradingService = NewGradingService(sm.db, sm.repo, sm.logger, sm.validator, sm.eventPublisher)
		sm.logger.Info("Grading service initialized")
	}

	sm.studentService = NewStudentService(sm.repo, sm.db, sm.logger)
	sm.logger.Info("Student service initialized")

	sm.importExportService = NewImportExportService(sm.repo, sm.db, sm.logger)
	sm.logger.Info("Export service initialized")

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")
	return nil
}

// Service getters
func (sm *serviceManager) Exam() ExamService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.config.Exam.Enabled && sm.examService != nil {
		return sm.examService
	}
	panic("exam service not enabled or not initialized")
}

func (sm *serviceManager) QuestionBank() QuestionBankService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.config.QuestionBank.Enabled && sm.questionBankService != nil {
		return sm.questionBankService
	}
	panic("question bank service not enabled or not initialized")
}

func (sm *serviceManager) Run() RunService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.config.Run.Enabled && sm.runService != nil {
		return sm.runService
	}
	panic("run service not enabled or not initialized")
}

func (sm *serviceManager) Attempt() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.config.Attempt.Enabled && sm.attemptService != nil {
		return sm.attemptService
	}
	panic("attempt service not enabled or not initialized")
}

func (sm *serviceManager) Grading() GradingService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.config.Grading.Enabled && sm.gradingService != nil {
		return sm.gradingService
	}
	panic("grading service not enabled or not initialized")
}

func (sm *serviceManager) Student() StudentService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.studentService != nil {
		return sm.studentService
	}
	panic("student service not initialized")
}

func (sm *serviceManager) ImportExport() ImportExportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.importExportService != nil {
		return sm.importExportService
	}
	panic("import export service not initialized")
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.eventPublisher != nil {
		if err := sm.eventPublisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	sm.shutdown = true
	sm.initialized = false
	sm.logger.Info("Service manager shut down")
	return nil
}
