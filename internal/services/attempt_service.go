package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/events"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
	"github.com/schoolcore/assessment-service/internal/validator"
)

type attemptService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
}

func NewAttemptService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) AttemptService {
	return &attemptService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      validator,
		eventPublisher: eventPublisher,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) Start(ctx context.Context, runID uint, studentID string) (*AttemptResponse, error) {
	s.logger.Info("Starting attempt", "run_id", runID, "student_id", studentID)

	run, err := s.repo.Run().GetByIDWithExam(ctx, nil, runID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if err := s.checkVisibility(ctx, run, studentID); err != nil {
		return nil, err
	}

	// Starting is idempotent: a live attempt is returned as-is.
	current, err := s.repo.Attempt().GetCurrent(ctx, nil, runID, studentID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up current attempt: %w", err)
	}
	if current != nil {
		return s.resumeOrReject(ctx, current, run.Exam)
	}

	now := time.Now()
	attempt := &models.Attempt{
		RunID:           &run.ID,
		ExamID:          run.ExamID,
		StudentID:       studentID,
		Status:          models.AttemptInProgress,
		StartedAt:       now,
		ExpiresAt:       attemptDeadline(now, run),
		DurationMinutes: run.DurationMinutes,
	}

	err = s.repo.Attempt().CreateIfAbsent(ctx, nil, attempt)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateActiveAttempt) {
			// Lost the race: another request created the attempt first.
			// The winner's row is authoritative.
			winner, werr := s.repo.Attempt().GetCurrent(ctx, nil, runID, studentID)
			if werr != nil {
				return nil, fmt.Errorf("failed to read winning attempt: %w", werr)
			}
			return s.resumeOrReject(ctx, winner, run.Exam)
		}
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.publishEvent(ctx, events.EventAttemptStarted, map[string]interface{}{
		"attempt_id": attempt.ID,
		"run_id":     runID,
		"student_id": studentID,
	})

	s.logger.Info("Attempt started", "attempt_id", attempt.ID, "run_id", runID, "student_id", studentID)
	return s.buildAttemptResponse(ctx, attempt, run.Exam)
}

func (s *attemptService) GetByID(ctx context.Context, id uint, userID string) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.StudentID != userID {
		if err := s.checkTeacherAccess(ctx, attempt, userID, "read"); err != nil {
			return nil, err
		}
	}

	attempt, err = s.expireIfDue(ctx, attempt)
	if err != nil {
		return nil, err
	}
	return s.buildAttemptResponse(ctx, attempt, nil)
}

func (s *attemptService) GetCurrent(ctx context.Context, runID uint, studentID string) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetCurrent(ctx, nil, runID, studentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get current attempt: %w", err)
	}

	attempt, err = s.expireIfDue(ctx, attempt)
	if err != nil {
		return nil, err
	}
	return s.buildAttemptResponse(ctx, attempt, nil)
}

func (s *attemptService) Submit(ctx context.Context, attemptID uint, req *SubmitRequest, studentID string) (*SubmitResult, error) {
	s.logger.Info("Submitting attempt", "attempt_id", attemptID, "student_id", studentID, "answers", len(req.Answers))

	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, NewPermissionError(studentID, attemptID, "attempt", "submit", "not owned by student")
	}

	switch attempt.Status {
	case models.AttemptSubmitted:
		return nil, ErrAttemptAlreadySubmitted
	case models.AttemptExpired:
		return nil, ErrAttemptTimeExpired
	case models.AttemptInProgress:
		// fall through to the deadline check
	default:
		return nil, ErrAttemptNotActive
	}

	now := time.Now()
	if attempt.IsExpired(now) {
		if merr := s.repo.Attempt().MarkExpired(ctx, nil, attemptID); merr != nil {
			s.logger.Error("Failed to mark attempt expired", "attempt_id", attemptID, "error", merr)
		}
		return nil, ErrAttemptTimeExpired
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	var result *SubmitResult
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		// Re-read under the transaction: a concurrent submit must fail
		// here, not overwrite.
		fresh, err := txRepo.Attempt().GetByID(ctx, nil, attemptID)
		if err != nil {
			return fmt.Errorf("failed to re-read attempt: %w", err)
		}
		if fresh.Status != models.AttemptInProgress {
			if fresh.Status == models.AttemptSubmitted {
				return ErrAttemptAlreadySubmitted
			}
			return ErrAttemptTimeExpired
		}

		scored, err := s.scoreSubmission(ctx, txRepo, exam, fresh, req.Answers)
		if err != nil {
			return err
		}
		if err := txRepo.Answer().CreateBatch(ctx, nil, scored.answers); err != nil {
			return fmt.Errorf("failed to store answers: %w", err)
		}

		fresh.Status = models.AttemptSubmitted
		fresh.FinishedAt = timePtr(now)
		fresh.AutoScore = scored.autoScore
		if err := txRepo.Attempt().Update(ctx, nil, fresh); err != nil {
			return fmt.Errorf("failed to finalize attempt: %w", err)
		}

		result = &SubmitResult{
			AttemptID:          attemptID,
			AutoScore:          Round2(scored.autoScore),
			MaxScore:           exam.MaxScore,
			FinishedAt:         now,
			PendingManualCheck: scored.manualCount > 0,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventAttemptSubmitted, map[string]interface{}{
		"attempt_id": attemptID,
		"exam_id":    attempt.ExamID,
		"student_id": studentID,
		"auto_score": result.AutoScore,
	})

	s.logger.Info("Attempt submitted", "attempt_id", attemptID, "auto_score", result.AutoScore)
	return result, nil
}

func (s *attemptService) SaveCanvas(ctx context.Context, attemptID uint, req *CanvasSaveRequest, studentID string) error {
	if errs := s.validator.ValidateCanvasTarget(req); len(errs) > 0 {
		return errs
	}

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return NewPermissionError(studentID, attemptID, "attempt", "save_canvas", "not owned by student")
	}
	if attempt.Status != models.AttemptInProgress {
		return ErrAttemptNotActive
	}
	if attempt.IsExpired(time.Now()) {
		if merr := s.repo.Attempt().MarkExpired(ctx, nil, attemptID); merr != nil {
			s.logger.Error("Failed to mark attempt expired", "attempt_id", attemptID, "error", merr)
		}
		return ErrAttemptTimeExpired
	}

	canvas := &models.Canvas{
		AttemptID:      attemptID,
		QuestionID:     req.QuestionID,
		SituationIndex: req.SituationIndex,
		Image:          req.Image,
		Strokes:        []byte(req.Strokes),
	}
	if err := s.repo.Canvas().Upsert(ctx, nil, canvas); err != nil {
		return fmt.Errorf("failed to save canvas: %w", err)
	}
	return nil
}

func (s *attemptService) TeacherReset(ctx context.Context, attemptID uint, req *TeacherResetRequest, teacherID string) (*AttemptResponse, error) {
	s.logger.Info("Resetting attempt", "attempt_id", attemptID, "teacher_id", teacherID)

	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if err := s.checkTeacherAccess(ctx, attempt, teacherID, "reset"); err != nil {
		return nil, err
	}

	now := time.Now()
	var fresh *models.Attempt
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Attempt().MarkRestarted(ctx, nil, attemptID); err != nil {
			return fmt.Errorf("failed to retire attempt: %w", err)
		}

		// The student gets their own run window starting now, so a new
		// start succeeds even after the original window has closed.
		run, err := s.refreshStudentRun(ctx, txRepo, attempt, now, req.DurationMinutes, teacherID)
		if err != nil {
			return err
		}

		fresh = &models.Attempt{
			RunID:           &run.ID,
			ExamID:          attempt.ExamID,
			StudentID:       attempt.StudentID,
			Status:          models.AttemptInProgress,
			StartedAt:       now,
			ExpiresAt:       now.Add(time.Duration(req.DurationMinutes) * time.Minute),
			DurationMinutes: req.DurationMinutes,
		}
		if err := txRepo.Attempt().CreateIfAbsent(ctx, nil, fresh); err != nil {
			return fmt.Errorf("failed to create fresh attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Attempt reset", "old_attempt_id", attemptID, "new_attempt_id", fresh.ID)
	return s.buildAttemptResponse(ctx, fresh, nil)
}

// ===== LIST OPERATIONS =====

func (s *attemptService) ListByExam(ctx context.Context, examID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error) {
	if err := s.checkExamAccess(ctx, examID, userID, "list_attempts"); err != nil {
		return nil, err
	}

	attempts, total, err := s.repo.Attempt().ListByExam(ctx, nil, examID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return s.buildListResponse(attempts, total, filters), nil
}

func (s *attemptService) ListByRun(ctx context.Context, runID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error) {
	run, err := s.repo.Run().GetByID(ctx, nil, runID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if err := s.checkExamAccess(ctx, run.ExamID, userID, "list_attempts"); err != nil {
		return nil, err
	}

	attempts, total, err := s.repo.Attempt().ListByRun(ctx, nil, runID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return s.buildListResponse(attempts, total, filters), nil
}
