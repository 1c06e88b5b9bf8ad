package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/events"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
	"github.com/schoolcore/assessment-service/internal/validator"
)

// ResultPendingMessage is shown to students whose attempt is finished but
// not yet checked and published.
const ResultPendingMessage = "result is pending manual review"

type gradingService struct {
	db             *gorm.DB
	repo           repositories.Repository
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
}

func NewGradingService(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) GradingService {
	return &gradingService{
		db:             db,
		repo:           repo,
		logger:         logger,
		validator:      validator,
		eventPublisher: eventPublisher,
	}
}

// ===== MANUAL GRADING =====

func (s *gradingService) GradeAttempt(ctx context.Context, attemptID uint, req *GradeRequest, graderID string) (*GradeResult, error) {
	s.logger.Info("Grading attempt", "attempt_id", attemptID, "grader_id", graderID)

	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	attempt, exam, err := s.getGradableAttempt(ctx, attemptID, graderID, "grade")
	if err != nil {
		return nil, err
	}

	unit := unitWeight(exam)
	var result *GradeResult

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		manualAnswers, err := txRepo.Answer().GetManualCheckAnswers(ctx, nil, attemptID)
		if err != nil {
			return fmt.Errorf("failed to load manual-check answers: %w", err)
		}
		byID := make(map[uint]*models.Answer, len(manualAnswers))
		for _, a := range manualAnswers {
			byID[a.ID] = a
		}

		// Situation scores address slots by 1-based order among the
		// attempt's manual-check answers. A situation counts double, so
		// the awarded points are fraction x unit x 2.
		for _, sit := range req.SituationScores {
			if sit.Index < 1 || sit.Index > len(manualAnswers) {
				return ValidationErrors{{
					Field:   "situation_scores",
					Message: fmt.Sprintf("index %d is out of range, attempt has %d manual-check answers", sit.Index, len(manualAnswers)),
					Value:   sit.Index,
					Rule:    "business_logic",
				}}
			}
			points := sit.Fraction * unit * 2
			answer := manualAnswers[sit.Index-1]
			answer.ManualScore = &points
			if err := txRepo.Answer().UpdateManualScore(ctx, nil, answer.ID, points); err != nil {
				return fmt.Errorf("failed to store situation score: %w", err)
			}
		}

		// Direct per-answer scores, addressed by answer id.
		for answerID, points := range req.ManualScores {
			answer, ok := byID[answerID]
			if !ok {
				return ValidationErrors{{
					Field:   "manual_scores",
					Message: fmt.Sprintf("answer %d is not a manual-check answer of this attempt", answerID),
					Value:   answerID,
					Rule:    "business_logic",
				}}
			}
			score := points
			answer.ManualScore = &score
			if err := txRepo.Answer().UpdateManualScore(ctx, nil, answerID, points); err != nil {
				return fmt.Errorf("failed to store manual score: %w", err)
			}
		}

		// Recompute totals from the answers, never trust running sums.
		answers, err := txRepo.Answer().GetByAttempt(ctx, nil, attemptID)
		if err != nil {
			return fmt.Errorf("failed to load answers: %w", err)
		}
		autoScore := 0.0
		manualScore := 0.0
		for _, a := range answers {
			if a.RequiresManualCheck {
				if a.ManualScore != nil {
					manualScore += *a.ManualScore
				}
				continue
			}
			autoScore += a.AutoScore
		}

		attempt.AutoScore = autoScore
		attempt.ManualScore = &manualScore
		attempt.IsChecked = true
		if err := txRepo.Attempt().Update(ctx, nil, attempt); err != nil {
			return fmt.Errorf("failed to update attempt: %w", err)
		}

		if req.Publish {
			if err := txRepo.Exam().SetResultPublished(ctx, nil, exam.ID, true); err != nil {
				return fmt.Errorf("failed to publish results: %w", err)
			}
		}

		result = &GradeResult{
			AttemptID:   attemptID,
			AutoScore:   Round2(autoScore),
			ManualScore: Round2(manualScore),
			FinalScore:  Round2(attempt.FinalScore(exam.MaxScore)),
			IsChecked:   true,
			Published:   req.Publish || exam.ResultPublished,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventAttemptGraded, map[string]interface{}{
		"attempt_id":  attemptID,
		"exam_id":     exam.ID,
		"grader_id":   graderID,
		"final_score": result.FinalScore,
	})
	if req.Publish {
		s.publishEvent(ctx, events.EventResultsPublished, map[string]interface{}{
			"exam_id":      exam.ID,
			"published_by": graderID,
		})
	}

	s.logger.Info("Attempt graded", "attempt_id", attemptID, "final_score", result.FinalScore)
	return result, nil
}

func (s *gradingService) Reopen(ctx context.Context, attemptID uint, graderID string) error {
	s.logger.Info("Reopening attempt grade", "attempt_id", attemptID, "grader_id", graderID)

	attempt, exam, err := s.getGradableAttempt(ctx, attemptID, graderID, "reopen")
	if err != nil {
		return err
	}

	// Withdrawing a grade also unpublishes the exam's results so students
	// never see a score that is being revised.
	return s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		attempt.IsChecked = false
		if err := txRepo.Attempt().Update(ctx, nil, attempt); err != nil {
			return fmt.Errorf("failed to update attempt: %w", err)
		}
		if exam.ResultPublished {
			if err := txRepo.Exam().SetResultPublished(ctx, nil, exam.ID, false); err != nil {
				return fmt.Errorf("failed to unpublish results: %w", err)
			}
		}
		return nil
	})
}

// ===== RESULT VIEW =====

func (s *gradingService) ViewResult(ctx context.Context, attemptID uint, requesterID string) (*ResultView, error) {
	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	isOwner := attempt.StudentID == requesterID
	if !isOwner {
		if exam.CreatedBy != requesterID {
			isAdmin, aerr := s.repo.User().HasRole(ctx, requesterID, models.RoleAdmin)
			if aerr != nil || !isAdmin {
				return nil, NewPermissionError(requesterID, attemptID, "attempt", "view_result", "not the student or exam creator")
			}
		}
	}

	if attempt.FinishedAt == nil {
		return nil, ErrAttemptNotFinished
	}

	// Students only see scores once the attempt is checked and the exam's
	// results are published. Teachers see the current state regardless.
	if isOwner && (!exam.ResultPublished || !attempt.IsChecked) {
		return &ResultView{
			AttemptID: attemptID,
			Available: false,
			Message:   ResultPendingMessage,
			MaxScore:  exam.MaxScore,
		}, nil
	}

	autoScore := Round2(attempt.AutoScore)
	finalScore := Round2(attempt.FinalScore(exam.MaxScore))
	view := &ResultView{
		AttemptID:  attemptID,
		Available:  true,
		AutoScore:  &autoScore,
		FinalScore: &finalScore,
		MaxScore:   exam.MaxScore,
	}
	if attempt.ManualScore != nil {
		manual := Round2(*attempt.ManualScore)
		view.ManualScore = &manual
	}

	for _, a := range attempt.Answers {
		view.Answers = append(view.Answers, AnswerResult{
			QuestionID:     a.QuestionID,
			QuestionNumber: a.QuestionNumber,
			SelectedKey:    a.SelectedKey,
			TextValue:      a.TextValue,
			AutoScore:      Round2(a.AutoScore),
			ManualScore:    a.ManualScore,
			ManualCheck:    a.RequiresManualCheck,
		})
	}
	return view, nil
}

// ===== HELPERS =====

// getGradableAttempt loads the attempt and its exam, checks the grader's
// permission and requires the attempt to be finished. Grading an attempt
// that is still running would race its own submission.
func (s *gradingService) getGradableAttempt(ctx context.Context, attemptID uint, graderID, action string) (*models.Attempt, *models.Exam, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, attempt.ExamID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get exam: %w", err)
	}

	if exam.CreatedBy != graderID {
		isAdmin, aerr := s.repo.User().HasRole(ctx, graderID, models.RoleAdmin)
		if aerr != nil || !isAdmin {
			return nil, nil, NewPermissionError(graderID, attemptID, "attempt", action, "not the exam creator")
		}
	}

	if attempt.FinishedAt == nil {
		return nil, nil, ErrAttemptNotFinished
	}
	return attempt, exam, nil
}

func (s *gradingService) publishEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		s.logger.Error("Failed to publish event", "event_type", eventType, "error", err)
	}
}
