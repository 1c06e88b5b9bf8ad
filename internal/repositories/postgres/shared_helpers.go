package postgres

import (
	"errors"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/repositories"
)

// allowedSortColumns whitelists ORDER BY inputs. Anything else falls back to
// created_at so user supplied sort fields cannot inject SQL.
var allowedSortColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"id":         true,
	"title":      true,
	"status":     true,
	"kind":       true,
	"start_at":   true,
	"end_at":     true,
}

// applyPaginationAndSort applies validated ordering, limit and offset.
func applyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "created_at"
	}
	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}

func applyExamFilters(query *gorm.DB, filters repositories.ExamFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.Kind != nil {
		query = query.Where("kind = ?", *filters.Kind)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.Archived != nil {
		query = query.Where("archived = ?", *filters.Archived)
	}
	if filters.Query != "" {
		query = query.Where("title ILIKE ?", "%"+filters.Query+"%")
	}
	return query
}

func applyQuestionFilters(query *gorm.DB, filters repositories.QuestionFilters) *gorm.DB {
	if filters.Type != nil {
		query = query.Where("type = ?", *filters.Type)
	}
	if filters.TopicID != nil {
		query = query.Where("topic_id = ?", *filters.TopicID)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.Query != "" {
		query = query.Where("prompt ILIKE ?", "%"+filters.Query+"%")
	}
	return query
}

func applyAttemptFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.IsChecked != nil {
		query = query.Where("is_checked = ?", *filters.IsChecked)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// translateNotFound maps gorm's record-not-found onto the repository
// sentinel so callers never import gorm to classify errors.
func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repositories.ErrNotFound
	}
	return err
}

// isUniqueViolation detects a unique constraint conflict from the driver.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// pgx surfaces SQLSTATE 23505 for unique violations; gorm does not
	// always translate it.
	type sqlStater interface{ SQLState() string }
	var stater sqlStater
	return errors.As(err, &stater) && stater.SQLState() == "23505"
}
