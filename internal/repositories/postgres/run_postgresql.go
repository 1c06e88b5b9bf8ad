package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/cache"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
)

// RunPostgreSQL implements RunRepository.
type RunPostgreSQL struct {
	db          *gorm.DB
	cacheHelper *cache.CacheHelper
}

func NewRunPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.RunRepository {
	return &RunPostgreSQL{
		db:          db,
		cacheHelper: cache.NewCacheHelper(redisClient, cache.RunCacheConfig.Prefix),
	}
}

func (r *RunPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *RunPostgreSQL) Create(ctx context.Context, tx *gorm.DB, run *models.Run) error {
	if err := r.getDB(tx).WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	r.invalidateRunCaches(ctx, run.ExamID)
	return nil
}

func (r *RunPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error) {
	var run models.Run
	if err := r.getDB(tx).WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &run, nil
}

func (r *RunPostgreSQL) GetByIDWithExam(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error) {
	var run models.Run
	if err := r.getDB(tx).WithContext(ctx).Preload("Exam").First(&run, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &run, nil
}

func (r *RunPostgreSQL) Update(ctx context.Context, tx *gorm.DB, run *models.Run) error {
	if err := r.getDB(tx).WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	r.invalidateRunCaches(ctx, run.ExamID)
	return nil
}

func (r *RunPostgreSQL) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.RunStatus) error {
	result := r.getDB(tx).WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update run status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	cache.SafeInvalidatePattern(ctx, r.cacheHelper, "*")
	return nil
}

func (r *RunPostgreSQL) GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Run, error) {
	var runs []*models.Run
	err := r.getDB(tx).WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("start_at ASC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get runs by exam: %w", err)
	}
	return runs, nil
}

func (r *RunPostgreSQL) GetByExamAndTarget(ctx context.Context, tx *gorm.DB, examID uint, groupID, studentID *string) (*models.Run, error) {
	query := r.getDB(tx).WithContext(ctx).Where("exam_id = ?", examID)
	switch {
	case groupID != nil:
		query = query.Where("group_id = ?", *groupID)
	case studentID != nil:
		query = query.Where("student_id = ?", *studentID)
	default:
		return nil, fmt.Errorf("run target requires a group or student id")
	}

	var run models.Run
	if err := query.First(&run).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &run, nil
}

func (r *RunPostgreSQL) CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error) {
	var count int64
	err := r.getDB(tx).WithContext(ctx).
		Model(&models.Run{}).
		Where("exam_id = ?", examID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// GetAccessibleRuns resolves the student visibility rule in one query: the
// exam must be active, the window must contain now, and the audience must be
// the student directly or one of the student's groups.
func (r *RunPostgreSQL) GetAccessibleRuns(ctx context.Context, tx *gorm.DB, studentID string, groupIDs []string, now time.Time) ([]*models.Run, error) {
	query := r.getDB(tx).WithContext(ctx).
		Joins("JOIN exams ON exams.id = exam_runs.exam_id").
		Where("exams.status = ?", models.ExamStatusActive).
		Where("exams.archived = false").
		Where("exam_runs.start_at <= ? AND exam_runs.end_at >= ?", now, now)

	if len(groupIDs) > 0 {
		query = query.Where("exam_runs.student_id = ? OR exam_runs.group_id IN ?", studentID, groupIDs)
	} else {
		query = query.Where("exam_runs.student_id = ?", studentID)
	}

	var runs []*models.Run
	if err := query.Preload("Exam").Order("exam_runs.end_at ASC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to get accessible runs: %w", err)
	}
	return runs, nil
}

func (r *RunPostgreSQL) invalidateRunCaches(ctx context.Context, examID uint) {
	cache.SafeInvalidatePattern(ctx, r.cacheHelper, fmt.Sprintf("exam:%d:*", examID))
	cache.SafeInvalidatePattern(ctx, r.cacheHelper, "student:*")
}
