package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
)

// AnswerPostgreSQL implements AnswerRepository. Answers are written in
// batches inside the submission transaction, so no per-row caching.
type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB, _ *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

func (r *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *AnswerPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	if err := r.getDB(tx).WithContext(ctx).Create(&answers).Error; err != nil {
		return fmt.Errorf("failed to create answers: %w", err)
	}
	return nil
}

func (r *AnswerPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error) {
	var answer models.Answer
	if err := r.getDB(tx).WithContext(ctx).First(&answer, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &answer, nil
}

func (r *AnswerPostgreSQL) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Answer, error) {
	var answers []*models.Answer
	err := r.getDB(tx).WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("id ASC").
		Find(&answers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}
	return answers, nil
}

func (r *AnswerPostgreSQL) GetManualCheckAnswers(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Answer, error) {
	var answers []*models.Answer
	err := r.getDB(tx).WithContext(ctx).
		Where("attempt_id = ? AND requires_manual_check = true", attemptID).
		Order("id ASC").
		Find(&answers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get manual check answers: %w", err)
	}
	return answers, nil
}

func (r *AnswerPostgreSQL) UpdateManualScore(ctx context.Context, tx *gorm.DB, answerID uint, score float64) error {
	result := r.getDB(tx).WithContext(ctx).
		Model(&models.Answer{}).
		Where("id = ?", answerID).
		Update("manual_score", score)
	if result.Error != nil {
		return fmt.Errorf("failed to update manual score: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// CanvasPostgreSQL implements CanvasRepository.
type CanvasPostgreSQL struct {
	db *gorm.DB
}

func NewCanvasPostgreSQL(db *gorm.DB) repositories.CanvasRepository {
	return &CanvasPostgreSQL{db: db}
}

func (r *CanvasPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Upsert replaces the canvas for the same (attempt, question/situation)
// target, creating it on first save.
func (r *CanvasPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, canvas *models.Canvas) error {
	db := r.getDB(tx).WithContext(ctx)

	query := db.Where("attempt_id = ?", canvas.AttemptID)
	switch {
	case canvas.QuestionID != nil:
		query = query.Where("question_id = ?", *canvas.QuestionID)
	case canvas.SituationIndex != nil:
		query = query.Where("situation_index = ?", *canvas.SituationIndex)
	default:
		return fmt.Errorf("canvas requires a question id or situation index")
	}

	var existing models.Canvas
	err := query.First(&existing).Error
	switch {
	case err == nil:
		canvas.ID = existing.ID
		canvas.CreatedAt = existing.CreatedAt
		if err := db.Save(canvas).Error; err != nil {
			return fmt.Errorf("failed to update canvas: %w", err)
		}
		return nil
	case translateNotFound(err) == repositories.ErrNotFound:
		if err := db.Create(canvas).Error; err != nil {
			return fmt.Errorf("failed to create canvas: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("failed to look up canvas: %w", err)
	}
}

func (r *CanvasPostgreSQL) GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Canvas, error) {
	var canvases []*models.Canvas
	err := r.getDB(tx).WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("id ASC").
		Find(&canvases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get canvases: %w", err)
	}
	return canvases, nil
}
