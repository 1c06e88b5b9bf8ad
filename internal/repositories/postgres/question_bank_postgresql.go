package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/cache"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
)

// QuestionBankPostgreSQL implements QuestionBankRepository.
type QuestionBankPostgreSQL struct {
	db          *gorm.DB
	cacheHelper *cache.CacheHelper
}

func NewQuestionBankPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuestionBankRepository {
	return &QuestionBankPostgreSQL{
		db:          db,
		cacheHelper: cache.NewCacheHelper(redisClient, cache.QuestionCacheConfig.Prefix),
	}
}

func (r *QuestionBankPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *QuestionBankPostgreSQL) Create(ctx context.Context, tx *gorm.DB, item *models.QuestionBankItem) error {
	if err := r.getDB(tx).WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	cache.SafeInvalidatePattern(ctx, r.cacheHelper, "list:*")
	return nil
}

func (r *QuestionBankPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionBankItem, error) {
	if tx != nil {
		return r.fetchByID(ctx, tx, id)
	}

	var item models.QuestionBankItem
	cacheKey := fmt.Sprintf("id:%d", id)
	err := r.cacheHelper.CacheOrExecute(ctx, cacheKey, &item, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		return r.fetchByID(ctx, nil, id)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *QuestionBankPostgreSQL) fetchByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionBankItem, error) {
	var item models.QuestionBankItem
	if err := r.getDB(tx).WithContext(ctx).Preload("Topic").First(&item, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &item, nil
}

func (r *QuestionBankPostgreSQL) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.QuestionBankItem, error) {
	if len(ids) == 0 {
		return []*models.QuestionBankItem{}, nil
	}

	var items []*models.QuestionBankItem
	err := r.getDB(tx).WithContext(ctx).Where("id IN ?", ids).Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get questions by ids: %w", err)
	}
	return items, nil
}

func (r *QuestionBankPostgreSQL) Update(ctx context.Context, tx *gorm.DB, item *models.QuestionBankItem) error {
	if err := r.getDB(tx).WithContext(ctx).Save(item).Error; err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}
	cache.SafeDelete(ctx, r.cacheHelper, fmt.Sprintf("id:%d", item.ID))
	cache.SafeInvalidatePattern(ctx, r.cacheHelper, fmt.Sprintf("creator:%s:*", item.CreatedBy))
	cache.SafeInvalidatePattern(ctx, r.cacheHelper, "list:*")
	return nil
}

func (r *QuestionBankPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	result := r.getDB(tx).WithContext(ctx).Delete(&models.QuestionBankItem{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete question: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	cache.SafeDelete(ctx, r.cacheHelper, fmt.Sprintf("id:%d", id))
	cache.SafeInvalidatePattern(ctx, r.cacheHelper, "list:*")
	return nil
}

func (r *QuestionBankPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]*models.QuestionBankItem, int64, error) {
	query := applyQuestionFilters(r.getDB(tx).WithContext(ctx).Model(&models.QuestionBankItem{}), filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count questions: %w", err)
	}

	var items []*models.QuestionBankItem
	query = applyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Preload("Topic").Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list questions: %w", err)
	}
	return items, total, nil
}

func (r *QuestionBankPostgreSQL) IsUsedInExams(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	var count int64
	err := r.getDB(tx).WithContext(ctx).
		Model(&models.ExamQuestion{}).
		Where("question_id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check question usage: %w", err)
	}
	return count > 0, nil
}

func (r *QuestionBankPostgreSQL) CreateTopic(ctx context.Context, tx *gorm.DB, topic *models.Topic) error {
	if err := r.getDB(tx).WithContext(ctx).Create(topic).Error; err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	return nil
}

func (r *QuestionBankPostgreSQL) GetTopics(ctx context.Context, tx *gorm.DB, creatorID string) ([]*models.Topic, error) {
	var topics []*models.Topic
	query := r.getDB(tx).WithContext(ctx).Order("name ASC")
	if creatorID != "" {
		query = query.Where("created_by = ?", creatorID)
	}
	if err := query.Find(&topics).Error; err != nil {
		return nil, fmt.Errorf("failed to get topics: %w", err)
	}
	return topics, nil
}
