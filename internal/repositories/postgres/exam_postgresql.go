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

// ExamPostgreSQL implements ExamRepository with cache-aside reads.
type ExamPostgreSQL struct {
	db          *gorm.DB
	cacheHelper *cache.CacheHelper
}

func NewExamPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ExamRepository {
	return &ExamPostgreSQL{
		db:          db,
		cacheHelper: cache.NewCacheHelper(redisClient, cache.ExamCacheConfig.Prefix),
	}
}

func (r *ExamPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *ExamPostgreSQL) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	if err := r.getDB(tx).WithContext(ctx).Create(exam).Error; err != nil {
		return fmt.Errorf("failed to create exam: %w", err)
	}
	r.invalidateListCaches(ctx, exam.CreatedBy)
	return nil
}

func (r *ExamPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	// Bypass cache inside transactions so reads see uncommitted writes.
	if tx != nil {
		return r.fetchByID(ctx, tx, id, false)
	}

	var exam models.Exam
	cacheKey := fmt.Sprintf("id:%d", id)
	err := r.cacheHelper.CacheOrExecute(ctx, cacheKey, &exam, cache.ExamCacheConfig.TTL, func() (interface{}, error) {
		return r.fetchByID(ctx, nil, id, false)
	})
	if err != nil {
		return nil, err
	}
	return &exam, nil
}

func (r *ExamPostgreSQL) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	if tx != nil {
		return r.fetchByID(ctx, tx, id, true)
	}

	var exam models.Exam
	cacheKey := fmt.Sprintf("details:%d", id)
	err := r.cacheHelper.CacheOrExecute(ctx, cacheKey, &exam, cache.ExamCacheConfig.TTL, func() (interface{}, error) {
		return r.fetchByID(ctx, nil, id, true)
	})
	if err != nil {
		return nil, err
	}
	return &exam, nil
}

func (r *ExamPostgreSQL) fetchByID(ctx context.Context, tx *gorm.DB, id uint, withQuestions bool) (*models.Exam, error) {
	query := r.getDB(tx).WithContext(ctx)
	if withQuestions {
		query = query.Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).Preload("Questions.Question").Preload("Runs")
	}

	var exam models.Exam
	if err := query.First(&exam, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &exam, nil
}

func (r *ExamPostgreSQL) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	if err := r.getDB(tx).WithContext(ctx).Save(exam).Error; err != nil {
		return fmt.Errorf("failed to update exam: %w", err)
	}
	r.invalidateExamCaches(ctx, exam.ID, exam.CreatedBy)
	return nil
}

func (r *ExamPostgreSQL) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error {
	result := r.getDB(tx).WithContext(ctx).
		Model(&models.Exam{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update exam status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	r.invalidateExamCaches(ctx, id, "")
	return nil
}

func (r *ExamPostgreSQL) SetResultPublished(ctx context.Context, tx *gorm.DB, id uint, published bool) error {
	result := r.getDB(tx).WithContext(ctx).
		Model(&models.Exam{}).
		Where("id = ?", id).
		Update("result_published", published)
	if result.Error != nil {
		return fmt.Errorf("failed to update publish flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	r.invalidateExamCaches(ctx, id, "")
	return nil
}

func (r *ExamPostgreSQL) SetArchived(ctx context.Context, tx *gorm.DB, id uint, archived bool) error {
	result := r.getDB(tx).WithContext(ctx).
		Model(&models.Exam{}).
		Where("id = ?", id).
		Update("archived", archived)
	if result.Error != nil {
		return fmt.Errorf("failed to update archived flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	r.invalidateExamCaches(ctx, id, "")
	return nil
}

func (r *ExamPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	result := r.getDB(tx).WithContext(ctx).Delete(&models.Exam{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete exam: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	r.invalidateExamCaches(ctx, id, "")
	return nil
}

func (r *ExamPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	query := applyExamFilters(r.getDB(tx).WithContext(ctx).Model(&models.Exam{}), filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count exams: %w", err)
	}

	var exams []*models.Exam
	query = applyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&exams).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list exams: %w", err)
	}
	return exams, total, nil
}

func (r *ExamPostgreSQL) GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	filters.CreatedBy = &creatorID
	return r.List(ctx, tx, filters)
}

// ReplaceQuestionLinks swaps the exam's question references atomically.
func (r *ExamPostgreSQL) ReplaceQuestionLinks(ctx context.Context, tx *gorm.DB, examID uint, links []models.ExamQuestion) error {
	db := r.getDB(tx).WithContext(ctx)

	apply := func(db *gorm.DB) error {
		if err := db.Where("exam_id = ?", examID).Delete(&models.ExamQuestion{}).Error; err != nil {
			return fmt.Errorf("failed to clear question links: %w", err)
		}
		if len(links) == 0 {
			return nil
		}
		for i := range links {
			links[i].ExamID = examID
		}
		if err := db.Create(&links).Error; err != nil {
			return fmt.Errorf("failed to create question links: %w", err)
		}
		return nil
	}

	var err error
	if tx != nil {
		err = apply(db)
	} else {
		err = db.Transaction(apply)
	}
	if err != nil {
		return err
	}
	r.invalidateExamCaches(ctx, examID, "")
	return nil
}

func (r *ExamPostgreSQL) GetQuestionLinks(ctx context.Context, tx *gorm.DB, examID uint) ([]models.ExamQuestion, error) {
	var links []models.ExamQuestion
	err := r.getDB(tx).WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("display_order ASC").
		Preload("Question").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get question links: %w", err)
	}
	return links, nil
}

func (r *ExamPostgreSQL) invalidateExamCaches(ctx context.Context, examID uint, creatorID string) {
	cache.SafeDelete(ctx, r.cacheHelper,
		fmt.Sprintf("id:%d", examID),
		fmt.Sprintf("details:%d", examID))
	r.invalidateListCaches(ctx, creatorID)
}

func (r *ExamPostgreSQL) invalidateListCaches(ctx context.Context, creatorID string) {
	cache.SafeInvalidatePattern(ctx, r.cacheHelper, "list:*")
	if creatorID != "" {
		cache.SafeInvalidatePattern(ctx, r.cacheHelper, fmt.Sprintf("creator:%s:*", creatorID))
	}
}
