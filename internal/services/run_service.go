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

type runService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
}

func NewRunService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) RunService {
	return &runService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      validator,
		eventPublisher: eventPublisher,
	}
}

func (s *runService) Schedule(ctx context.Context, examID uint, req *CreateRunRequest, userID string) (*RunResponse, error) {
	s.logger.Info("Scheduling run", "exam_id", examID, "user_id", userID)

	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}
	if errs := s.validator.ValidateRunTarget(req.Target); len(errs) > 0 {
		return nil, errs
	}

	exam, err := s.getOwnedExam(ctx, examID, userID, "schedule_run")
	if err != nil {
		return nil, err
	}
	if exam.Status == models.ExamStatusFinished {
		return nil, NewBusinessRuleError("exam_finished", "finished exams cannot be scheduled")
	}
	if err := s.verifyTarget(ctx, req.Target); err != nil {
		return nil, err
	}

	startAt := time.Now()
	if req.StartAt != nil {
		startAt = *req.StartAt
	}

	run := &models.Run{
		ExamID:          examID,
		GroupID:         req.Target.GroupID,
		StudentID:       req.Target.StudentID,
		StartAt:         startAt,
		EndAt:           startAt.Add(time.Duration(req.DurationMinutes) * time.Minute),
		DurationMinutes: req.DurationMinutes,
		Status:          models.RunStatusScheduled,
		CreatedBy:       userID,
	}
	if err := s.repo.Run().Create(ctx, nil, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return s.buildRunResponse(run), nil
}

func (s *runService) ActivateNow(ctx context.Context, examID uint, req *ActivateNowRequest, userID string) ([]*RunResponse, error) {
	s.logger.Info("Activating exam now", "exam_id", examID, "targets", len(req.Targets), "user_id", userID)

	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}
	for _, target := range req.Targets {
		if errs := s.validator.ValidateRunTarget(target); len(errs) > 0 {
			return nil, errs
		}
		if err := s.verifyTarget(ctx, target); err != nil {
			return nil, err
		}
	}

	exam, err := s.getOwnedExam(ctx, examID, userID, "activate_now")
	if err != nil {
		return nil, err
	}
	if exam.Status == models.ExamStatusFinished {
		return nil, NewBusinessRuleError("exam_finished", "finished exams cannot be activated")
	}

	now := time.Now()
	var responses []*RunResponse

	// Additive semantics: each listed target gets a fresh window, existing
	// runs of unlisted targets are left untouched.
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		for _, target := range req.Targets {
			run, err := s.createOrRefreshRun(ctx, txRepo, examID, target, now, req.DurationMinutes, userID)
			if err != nil {
				return err
			}
			responses = append(responses, s.buildRunResponse(run))
		}

		if exam.Status == models.ExamStatusDraft {
			doc, err := compositionDocument(ctx, txRepo, nil, exam)
			if err != nil {
				return err
			}
			runCount, err := txRepo.Run().CountByExam(ctx, nil, examID)
			if err != nil {
				return fmt.Errorf("failed to count runs: %w", err)
			}
			if errs := s.validator.ValidateExamActivation(exam, doc, int(runCount)); len(errs) > 0 {
				return errs
			}
			if err := txRepo.Exam().UpdateStatus(ctx, nil, examID, models.ExamStatusActive); err != nil {
				return fmt.Errorf("failed to activate exam: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.eventPublisher != nil {
		event := events.NewEvent(events.EventExamActivated, map[string]interface{}{
			"exam_id":      examID,
			"targets":      len(req.Targets),
			"activated_by": userID,
		})
		if perr := s.eventPublisher.Publish(ctx, event); perr != nil {
			s.logger.Error("Failed to publish activation event", "exam_id", examID, "error", perr)
		}
	}
	return responses, nil
}

func (s *runService) GetByExam(ctx context.Context, examID uint, userID string) ([]*RunResponse, error) {
	if _, err := s.getOwnedExam(ctx, examID, userID, "list_runs"); err != nil {
		return nil, err
	}

	runs, err := s.repo.Run().GetByExam(ctx, nil, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	responses := make([]*RunResponse, 0, len(runs))
	for _, run := range runs {
		responses = append(responses, s.buildRunResponse(run))
	}
	return responses, nil
}

func (s *runService) GetByID(ctx context.Context, runID uint, userID string) (*RunResponse, error) {
	run, err := s.repo.Run().GetByIDWithExam(ctx, nil, runID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return s.buildRunResponse(run), nil
}

// createOrRefreshRun reuses the target's existing run when one exists,
// resetting its window to start now.
func (s *runService) createOrRefreshRun(ctx context.Context, repo repositories.Repository, examID uint, target RunTarget, now time.Time, durationMinutes int, userID string) (*models.Run, error) {
	run, err := repo.Run().GetByExamAndTarget(ctx, nil, examID, target.GroupID, target.StudentID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up run for target: %w", err)
	}

	if run == nil {
		run = &models.Run{
			ExamID:    examID,
			GroupID:   target.GroupID,
			StudentID: target.StudentID,
			CreatedBy: userID,
		}
	}
	run.StartAt = now
	run.EndAt = now.Add(time.Duration(durationMinutes) * time.Minute)
	run.DurationMinutes = durationMinutes
	run.Status = models.RunStatusActive

	if run.ID == 0 {
		if err := repo.Run().Create(ctx, nil, run); err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
	} else {
		if err := repo.Run().Update(ctx, nil, run); err != nil {
			return nil, fmt.Errorf("failed to refresh run: %w", err)
		}
	}
	return run, nil
}

// verifyTarget confirms the audience exists in the identity provider.
func (s *runService) verifyTarget(ctx context.Context, target RunTarget) error {
	if target.StudentID != nil && *target.StudentID != "" {
		exists, err := s.repo.User().ExistsByID(ctx, *target.StudentID)
		if err != nil {
			return fmt.Errorf("failed to verify student: %w", err)
		}
		if !exists {
			return ValidationErrors{{
				Field:   "target.student_id",
				Message: "student does not exist",
				Value:   *target.StudentID,
				Rule:    "business_logic",
			}}
		}
	}
	return nil
}

func (s *runService) getOwnedExam(ctx context.Context, examID uint, userID, action string) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.CreatedBy != userID {
		isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
		if err != nil || !isAdmin {
			return nil, NewPermissionError(userID, examID, "exam", action, "not the creator")
		}
	}
	return exam, nil
}

func (s *runService) buildRunResponse(run *models.Run) *RunResponse {
	return &RunResponse{
		Run:             run,
		EffectiveStatus: run.EffectiveStatus(time.Now()),
	}
}
