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

// AttemptPostgreSQL implements AttemptRepository. The live-attempt
// uniqueness contract lives here: the active_key column carries a unique
// index, so concurrent starts resolve at insert time instead of by
// check-then-create.
type AttemptPostgreSQL struct {
	db          *gorm.DB
	cacheHelper *cache.CacheHelper
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:          db,
		cacheHelper: cache.NewCacheHelper(redisClient, cache.AttemptCacheConfig.Prefix),
	}
}

func (r *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// ActiveKeyFor builds the uniqueness token for a live attempt.
func ActiveKeyFor(studentID string, runID uint) string {
	return fmt.Sprintf("%s:%d", studentID, runID)
}

func (r *AttemptPostgreSQL) CreateIfAbsent(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	if attempt.ActiveKey == nil && attempt.RunID != nil {
		key := ActiveKeyFor(attempt.StudentID, *attempt.RunID)
		attempt.ActiveKey = &key
	}

	if err := r.getDB(tx).WithContext(ctx).Create(attempt).Error; err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrDuplicateActiveAttempt
		}
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	r.invalidateAttemptCaches(ctx, attempt.ID, attempt.StudentID)
	return nil
}

func (r *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := r.getDB(tx).WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &attempt, nil
}

func (r *AttemptPostgreSQL) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	err := r.getDB(tx).WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Preload("Canvases").
		Preload("Run").
		Preload("Exam").
		First(&attempt, id).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &attempt, nil
}

// GetCurrent returns the latest attempt for the pair, skipping restarted
// markers so a teacher reset opens the slot for a fresh start.
func (r *AttemptPostgreSQL) GetCurrent(ctx context.Context, tx *gorm.DB, runID uint, studentID string) (*models.Attempt, error) {
	var attempt models.Attempt
	err := r.getDB(tx).WithContext(ctx).
		Where("run_id = ? AND student_id = ? AND status <> ?", runID, studentID, models.AttemptRestarted).
		Order("created_at DESC").
		First(&attempt).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &attempt, nil
}

func (r *AttemptPostgreSQL) Update(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	// Terminal attempts release the uniqueness slot.
	if attempt.Status.IsTerminal() {
		attempt.ActiveKey = nil
	}

	if err := r.getDB(tx).WithContext(ctx).Save(attempt).Error; err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	r.invalidateAttemptCaches(ctx, attempt.ID, attempt.StudentID)
	return nil
}

func (r *AttemptPostgreSQL) MarkExpired(ctx context.Context, tx *gorm.DB, id uint) error {
	// Expiry closes the attempt, so finished_at is set alongside the status.
	return r.markTerminal(ctx, tx, id, models.AttemptExpired, map[string]interface{}{
		"finished_at": time.Now(),
	})
}

func (r *AttemptPostgreSQL) MarkRestarted(ctx context.Context, tx *gorm.DB, id uint) error {
	return r.markTerminal(ctx, tx, id, models.AttemptRestarted, nil)
}

func (r *AttemptPostgreSQL) markTerminal(ctx context.Context, tx *gorm.DB, id uint, status models.AttemptStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":     status,
		"active_key": nil,
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := r.getDB(tx).WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark attempt %s: %w", status, result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	r.invalidateAttemptCaches(ctx, id, "")
	return nil
}

func (r *AttemptPostgreSQL) ListByRun(ctx context.Context, tx *gorm.DB, runID uint, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	query := r.getDB(tx).WithContext(ctx).Model(&models.Attempt{}).Where("run_id = ?", runID)
	return r.list(ctx, query, filters)
}

func (r *AttemptPostgreSQL) ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	query := r.getDB(tx).WithContext(ctx).Model(&models.Attempt{}).Where("exam_id = ?", examID)
	return r.list(ctx, query, filters)
}

func (r *AttemptPostgreSQL) ListByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	query := r.getDB(tx).WithContext(ctx).Model(&models.Attempt{}).Where("student_id = ?", studentID)
	return r.list(ctx, query, filters)
}

func (r *AttemptPostgreSQL) list(ctx context.Context, query *gorm.DB, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	// Restarted markers are history, not attempts.
	query = applyAttemptFilters(query.Where("status <> ?", models.AttemptRestarted), filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count attempts: %w", err)
	}

	var attempts []*models.Attempt
	query = applyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Preload("Run").Find(&attempts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, total, nil
}

func (r *AttemptPostgreSQL) invalidateAttemptCaches(ctx context.Context, attemptID uint, studentID string) {
	cache.SafeDelete(ctx, r.cacheHelper,
		fmt.Sprintf("id:%d", attemptID),
		fmt.Sprintf("details:%d", attemptID))
	if studentID != "" {
		cache.SafeInvalidatePattern(ctx, r.cacheHelper, fmt.Sprintf("student:%s:*", studentID))
	}
}
