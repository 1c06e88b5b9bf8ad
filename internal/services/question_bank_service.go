package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
	"github.com/schoolcore/assessment-service/internal/validator"
)

type questionBankService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewQuestionBankService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) QuestionBankService {
	return &questionBankService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

func (s *questionBankService) Create(ctx context.Context, req *CreateQuestionRequest, creatorID string) (*QuestionResponse, error) {
	s.logger.Info("Creating question", "creator_id", creatorID, "type", req.Type)

	if errs := s.validator.ValidateQuestionCreate(req); len(errs) > 0 {
		return nil, errs
	}

	item := &models.QuestionBankItem{
		TopicID:   req.TopicID,
		Type:      req.Type,
		Prompt:    req.Prompt,
		Answer:    req.Answer,
		Rule:      req.Rule,
		CreatedBy: creatorID,
	}
	if len(req.Options) > 0 {
		encoded, err := json.Marshal(req.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to encode options: %w", err)
		}
		item.Options = encoded
	}

	if err := s.repo.QuestionBank().Create(ctx, nil, item); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}
	return &QuestionResponse{QuestionBankItem: item}, nil
}

func (s *questionBankService) GetByID(ctx context.Context, id uint, userID string) (*QuestionResponse, error) {
	item, err := s.repo.QuestionBank().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	used, err := s.repo.QuestionBank().IsUsedInExams(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check question usage: %w", err)
	}
	return &QuestionResponse{QuestionBankItem: item, UsedInExams: used}, nil
}

func (s *questionBankService) Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*QuestionResponse, error) {
	s.logger.Info("Updating question", "question_id", id, "user_id", userID)

	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	item, err := s.getOwnedQuestion(ctx, id, userID, "update")
	if err != nil {
		return nil, err
	}

	if req.TopicID != nil {
		item.TopicID = req.TopicID
	}
	if req.Type != nil {
		item.Type = *req.Type
	}
	if req.Prompt != nil {
		item.Prompt = *req.Prompt
	}
	if req.Answer != nil {
		item.Answer = req.Answer
	}
	if req.Rule != nil {
		item.Rule = req.Rule
	}
	if req.Options != nil {
		encoded, err := json.Marshal(req.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to encode options: %w", err)
		}
		item.Options = encoded
	}

	if err := s.repo.QuestionBank().Update(ctx, nil, item); err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}
	return &QuestionResponse{QuestionBankItem: item}, nil
}

func (s *questionBankService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting question", "question_id", id, "user_id", userID)

	if _, err := s.getOwnedQuestion(ctx, id, userID, "delete"); err != nil {
		return err
	}

	used, err := s.repo.QuestionBank().IsUsedInExams(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to check question usage: %w", err)
	}
	if used {
		return ErrQuestionInUse
	}

	if err := s.repo.QuestionBank().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}
	return nil
}

func (s *questionBankService) List(ctx context.Context, filters repositories.QuestionFilters, userID string) (*QuestionListResponse, error) {
	items, total, err := s.repo.QuestionBank().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}

	responses := make([]*QuestionResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, &QuestionResponse{QuestionBankItem: item})
	}
	return &QuestionListResponse{
		Questions: responses,
		Total:     total,
		Page:      pageOf(filters.Limit, filters.Offset),
		Size:      len(responses),
	}, nil
}

func (s *questionBankService) CreateTopic(ctx context.Context, req *CreateTopicRequest, creatorID string) (*models.Topic, error) {
	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	topic := &models.Topic{Name: req.Name, CreatedBy: creatorID}
	if err := s.repo.QuestionBank().CreateTopic(ctx, nil, topic); err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	return topic, nil
}

func (s *questionBankService) GetTopics(ctx context.Context, creatorID string) ([]*models.Topic, error) {
	topics, err := s.repo.QuestionBank().GetTopics(ctx, nil, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	return topics, nil
}

func (s *questionBankService) getOwnedQuestion(ctx context.Context, id uint, userID, action string) (*models.QuestionBankItem, error) {
	item, err := s.repo.QuestionBank().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if item.CreatedBy != userID {
		isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
		if err != nil || !isAdmin {
			return nil, NewPermissionError(userID, id, "question", action, "not the creator")
		}
	}
	return item, nil
}
