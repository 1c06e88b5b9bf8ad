package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
)

type studentService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewStudentService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) StudentService {
	return &studentService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

func (s *studentService) AvailableRuns(ctx context.Context, studentID string) ([]*AvailableRun, error) {
	groups, err := s.repo.User().GetGroups(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get student groups: %w", err)
	}

	runs, err := s.repo.Run().GetAccessibleRuns(ctx, nil, studentID, groups, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to get accessible runs: %w", err)
	}

	available := make([]*AvailableRun, 0, len(runs))
	for _, run := range runs {
		if run.Exam == nil {
			continue
		}
		entry := &AvailableRun{
			RunID:           run.ID,
			ExamID:          run.ExamID,
			Title:           run.Exam.Title,
			Kind:            run.Exam.Kind,
			DurationMinutes: run.DurationMinutes,
			StartAt:         run.StartAt,
			EndAt:           run.EndAt,
		}

		attempt, err := s.repo.Attempt().GetCurrent(ctx, nil, run.ID, studentID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("failed to get attempt state: %w", err)
		}
		if attempt != nil {
			status := attempt.Status
			if status == models.AttemptInProgress && attempt.IsExpired(time.Now()) {
				status = models.AttemptExpired
			}
			entry.AttemptID = &attempt.ID
			entry.AttemptStatus = &status
		}

		available = append(available, entry)
	}
	return available, nil
}

func (s *studentService) AttemptHistory(ctx context.Context, studentID string, filters repositories.AttemptFilters) (*AttemptListResponse, error) {
	attempts, total, err := s.repo.Attempt().ListByStudent(ctx, nil, studentID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	responses := make([]*AttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		responses = append(responses, &AttemptResponse{Attempt: attempt})
	}
	return &AttemptListResponse{
		Attempts: responses,
		Total:    total,
		Page:     pageOf(filters.Limit, filters.Offset),
		Size:     len(responses),
	}, nil
}
