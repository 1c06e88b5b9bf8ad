package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/answerkey"
	"github.com/schoolcore/assessment-service/internal/events"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
	"github.com/schoolcore/assessment-service/internal/validator"
)

type examService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
}

func NewExamService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) ExamService {
	return &examService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      validator,
		eventPublisher: eventPublisher,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *examService) Create(ctx context.Context, req *CreateExamRequest, creatorID string) (*ExamResponse, error) {
	s.logger.Info("Creating exam", "creator_id", creatorID, "title", req.Title, "kind", req.Kind)

	if errs := s.validator.ValidateExamCreate(req); len(errs) > 0 {
		return nil, errs
	}

	canCreate, err := s.repo.User().HasRole(ctx, creatorID, models.RoleTeacher)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !canCreate {
		if isAdmin, aerr := s.repo.User().HasRole(ctx, creatorID, models.RoleAdmin); aerr != nil || !isAdmin {
			return nil, NewPermissionError(creatorID, 0, "exam", "create", "insufficient role permissions")
		}
	}

	exam := &models.Exam{
		Title:           req.Title,
		Description:     req.Description,
		Kind:            req.Kind,
		SourceType:      req.SourceType,
		Status:          models.ExamStatusDraft,
		DurationMinutes: req.DurationMinutes,
		MaxScore:        req.MaxScore,
		DocumentURL:     req.DocumentURL,
		CreatedBy:       creatorID,
	}

	if req.AnswerKey != nil {
		stored, err := s.normalizeAnswerKey(req.AnswerKey)
		if err != nil {
			return nil, err
		}
		exam.AnswerKey = stored
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Exam().Create(ctx, nil, exam); err != nil {
			return fmt.Errorf("failed to create exam: %w", err)
		}
		if len(req.Questions) > 0 {
			links := buildQuestionLinks(exam.ID, req.Questions)
			if err := txRepo.Exam().ReplaceQuestionLinks(ctx, nil, exam.ID, links); err != nil {
				return fmt.Errorf("failed to link questions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exam created successfully", "exam_id", exam.ID)
	return s.GetByIDWithDetails(ctx, exam.ID, creatorID)
}

func (s *examService) GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	return s.buildExamResponse(ctx, exam, userID)
}

func (s *examService) GetByIDWithDetails(ctx context.Context, id uint, userID string) (*ExamResponse, error) {
	exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam with details: %w", err)
	}
	return s.buildExamResponse(ctx, exam, userID)
}

func (s *examService) Update(ctx context.Context, id uint, req *UpdateExamRequest, userID string) (*ExamResponse, error) {
	s.logger.Info("Updating exam", "exam_id", id, "user_id", userID)

	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	exam, err := s.getOwnedExam(ctx, id, userID, "update")
	if err != nil {
		return nil, err
	}
	if exam.Status == models.ExamStatusFinished {
		return nil, NewBusinessRuleError("exam_finished", "finished exams cannot be edited")
	}

	if req.Title != nil {
		exam.Title = *req.Title
	}
	if req.Description != nil {
		exam.Description = req.Description
	}
	if req.DurationMinutes != nil {
		exam.DurationMinutes = *req.DurationMinutes
	}
	if req.MaxScore != nil {
		exam.MaxScore = *req.MaxScore
	}
	if req.DocumentURL != nil {
		exam.DocumentURL = req.DocumentURL
	}
	if req.AnswerKey != nil {
		stored, err := s.normalizeAnswerKey(req.AnswerKey)
		if err != nil {
			return nil, err
		}
		exam.AnswerKey = stored
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Exam().Update(ctx, nil, exam); err != nil {
			return fmt.Errorf("failed to update exam: %w", err)
		}
		if req.Questions != nil {
			links := buildQuestionLinks(exam.ID, req.Questions)
			if err := txRepo.Exam().ReplaceQuestionLinks(ctx, nil, exam.ID, links); err != nil {
				return fmt.Errorf("failed to relink questions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetByIDWithDetails(ctx, id, userID)
}

func (s *examService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting exam", "exam_id", id, "user_id", userID)

	exam, err := s.getOwnedExam(ctx, id, userID, "delete")
	if err != nil {
		return err
	}
	if exam.Status != models.ExamStatusDraft {
		return NewBusinessRuleError("exam_not_draft", "only draft exams can be deleted")
	}

	if err := s.repo.Exam().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete exam: %w", err)
	}
	return nil
}

// ===== LIST OPERATIONS =====

func (s *examService) List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error) {
	exams, total, err := s.repo.Exam().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", err)
	}
	return s.buildListResponse(ctx, exams, total, filters, userID)
}

func (s *examService) GetByCreator(ctx context.Context, creatorID string, filters repositories.ExamFilters) (*ExamListResponse, error) {
	exams, total, err := s.repo.Exam().GetByCreator(ctx, nil, creatorID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exams by creator: %w", err)
	}
	return s.buildListResponse(ctx, exams, total, filters, creatorID)
}

// ===== QUESTION MANAGEMENT =====

func (s *examService) ReplaceQuestions(ctx context.Context, id uint, questions []ExamQuestionRequest, userID string) error {
	s.logger.Info("Replacing exam questions", "exam_id", id, "count", len(questions))

	exam, err := s.getOwnedExam(ctx, id, userID, "replace_questions")
	if err != nil {
		return err
	}
	if exam.SourceType != models.SourceQuestionBank {
		return NewBusinessRuleError("external_source", "externally sourced exams do not reference bank questions")
	}
	if exam.Status != models.ExamStatusDraft {
		return NewBusinessRuleError("exam_not_draft", "question links can only change while the exam is a draft")
	}

	ids := make([]uint, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.QuestionID)
	}
	items, err := s.repo.QuestionBank().GetByIDs(ctx, nil, ids)
	if err != nil {
		return fmt.Errorf("failed to verify questions: %w", err)
	}
	if len(items) != len(ids) {
		return ErrQuestionNotFound
	}

	links := buildQuestionLinks(id, questions)
	if err := s.repo.Exam().ReplaceQuestionLinks(ctx, nil, id, links); err != nil {
		return fmt.Errorf("failed to replace question links: %w", err)
	}
	return nil
}

// ===== STATUS MANAGEMENT =====

func (s *examService) Activate(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Activating exam", "exam_id", id, "user_id", userID)

	exam, err := s.getOwnedExam(ctx, id, userID, "activate")
	if err != nil {
		return err
	}

	doc, err := compositionDocument(ctx, s.repo, nil, exam)
	if err != nil {
		return err
	}
	runCount, err := s.repo.Run().CountByExam(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}

	if errs := s.validator.ValidateExamActivation(exam, doc, int(runCount)); len(errs) > 0 {
		return errs
	}

	if err := s.repo.Exam().UpdateStatus(ctx, nil, id, models.ExamStatusActive); err != nil {
		return fmt.Errorf("failed to activate exam: %w", err)
	}

	s.publishEvent(ctx, events.EventExamActivated, map[string]interface{}{
		"exam_id":      id,
		"activated_by": userID,
	})
	return nil
}

func (s *examService) Stop(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Stopping exam", "exam_id", id, "user_id", userID)

	exam, err := s.getOwnedExam(ctx, id, userID, "stop")
	if err != nil {
		return err
	}
	if !exam.Status.CanTransitionTo(models.ExamStatusFinished) {
		return NewBusinessRuleError("status_transition",
			fmt.Sprintf("cannot stop an exam in status %s", exam.Status))
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Exam().UpdateStatus(ctx, nil, id, models.ExamStatusFinished); err != nil {
			return fmt.Errorf("failed to finish exam: %w", err)
		}
		runs, err := txRepo.Run().GetByExam(ctx, nil, id)
		if err != nil {
			return fmt.Errorf("failed to load runs: %w", err)
		}
		for _, run := range runs {
			if run.Status == models.RunStatusFinished {
				continue
			}
			if err := txRepo.Run().UpdateStatus(ctx, nil, run.ID, models.RunStatusFinished); err != nil {
				return fmt.Errorf("failed to finish run %d: %w", run.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, events.EventExamStopped, map[string]interface{}{
		"exam_id":    id,
		"stopped_by": userID,
	})
	return nil
}

func (s *examService) Archive(ctx context.Context, id uint, userID string) error {
	if _, err := s.getOwnedExam(ctx, id, userID, "archive"); err != nil {
		return err
	}
	if err := s.repo.Exam().SetArchived(ctx, nil, id, true); err != nil {
		return fmt.Errorf("failed to archive exam: %w", err)
	}
	return nil
}

func (s *examService) PublishResults(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Publishing exam results", "exam_id", id, "user_id", userID)

	if _, err := s.getOwnedExam(ctx, id, userID, "publish_results"); err != nil {
		return err
	}
	if err := s.repo.Exam().SetResultPublished(ctx, nil, id, true); err != nil {
		return fmt.Errorf("failed to publish results: %w", err)
	}

	s.publishEvent(ctx, events.EventResultsPublished, map[string]interface{}{
		"exam_id":      id,
		"published_by": userID,
	})
	return nil
}

// ===== HELPERS =====

// normalizeAnswerKey converts an authored answer key into the canonical
// schema and rejects shapes no detector recognizes.
func (s *examService) normalizeAnswerKey(raw map[string]any) ([]byte, error) {
	doc := answerkey.NormalizeOrCanonical(raw)
	if doc == nil {
		return nil, ValidationErrors{{
			Field:   "answer_key",
			Message: "document does not match any known answer key format",
			Rule:    "format",
		}}
	}
	stored, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer key: %w", err)
	}
	return stored, nil
}

func (s *examService) getOwnedExam(ctx context.Context, id uint, userID, action string) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.CreatedBy != userID {
		isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
		if err != nil || !isAdmin {
			return nil, NewPermissionError(userID, id, "exam", action, "not the creator")
		}
	}
	return exam, nil
}

func (s *examService) buildExamResponse(ctx context.Context, exam *models.Exam, userID string) (*ExamResponse, error) {
	doc, err := compositionDocument(ctx, s.repo, nil, exam)
	if err != nil {
		// An unreadable composition should not hide the exam itself.
		s.logger.Warn("Failed to resolve exam composition", "exam_id", exam.ID, "error", err)
		doc = nil
	}
	return &ExamResponse{
		Exam:        exam,
		Composition: answerkey.CountQuestions(doc),
		CanEdit:     exam.CreatedBy == userID && exam.Status != models.ExamStatusFinished,
		CanActivate: exam.CreatedBy == userID && exam.Status == models.ExamStatusDraft,
	}, nil
}

func (s *examService) buildListResponse(ctx context.Context, exams []*models.Exam, total int64, filters repositories.ExamFilters, userID string) (*ExamListResponse, error) {
	responses := make([]*ExamResponse, 0, len(exams))
	for _, exam := range exams {
		responses = append(responses, &ExamResponse{
			Exam:        exam,
			CanEdit:     exam.CreatedBy == userID && exam.Status != models.ExamStatusFinished,
			CanActivate: exam.CreatedBy == userID && exam.Status == models.ExamStatusDraft,
		})
	}
	return &ExamListResponse{
		Exams: responses,
		Total: total,
		Page:  pageOf(filters.Limit, filters.Offset),
		Size:  len(responses),
	}, nil
}

func (s *examService) publishEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		s.logger.Error("Failed to publish event", "event_type", eventType, "error", err)
	}
}

func buildQuestionLinks(examID uint, questions []ExamQuestionRequest) []models.ExamQuestion {
	links := make([]models.ExamQuestion, 0, len(questions))
	for _, q := range questions {
		links = append(links, models.ExamQuestion{
			ExamID:       examID,
			QuestionID:   q.QuestionID,
			DisplayOrder: q.Order,
		})
	}
	return links
}
