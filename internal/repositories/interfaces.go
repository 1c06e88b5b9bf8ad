package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/models"
)

// ExamFilters narrows exam listings.
type ExamFilters struct {
	Status    *models.ExamStatus `json:"status"`
	Kind      *models.ExamKind   `json:"kind"`
	CreatedBy *string            `json:"created_by"`
	Archived  *bool              `json:"archived"`
	Query     string             `json:"query"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	SortBy    string             `json:"sort_by"`
	SortOrder string             `json:"sort_order"`
}

// QuestionFilters narrows question bank listings.
type QuestionFilters struct {
	Type      *models.QuestionType `json:"type"`
	TopicID   *uint                `json:"topic_id"`
	CreatedBy *string              `json:"created_by"`
	Query     string               `json:"query"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
	SortBy    string               `json:"sort_by"`
	SortOrder string               `json:"sort_order"`
}

// AttemptFilters narrows attempt listings.
type AttemptFilters struct {
	Status    *models.AttemptStatus `json:"status"`
	StudentID *string               `json:"student_id"`
	IsChecked *bool                 `json:"is_checked"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// UserFilters narrows identity provider listings.
type UserFilters struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ExamRepository persists exam definitions and their question links.
// The tx parameter routes the call through an open transaction; nil uses the
// repository's own connection.
type ExamRepository interface {
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error
	SetResultPublished(ctx context.Context, tx *gorm.DB, id uint, published bool) error
	SetArchived(ctx context.Context, tx *gorm.DB, id uint, archived bool) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)
	GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters ExamFilters) ([]*models.Exam, int64, error)

	ReplaceQuestionLinks(ctx context.Context, tx *gorm.DB, examID uint, links []models.ExamQuestion) error
	GetQuestionLinks(ctx context.Context, tx *gorm.DB, examID uint) ([]models.ExamQuestion, error)
}

// QuestionBankRepository persists reusable authored questions and topics.
type QuestionBankRepository interface {
	Create(ctx context.Context, tx *gorm.DB, item *models.QuestionBankItem) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionBankItem, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.QuestionBankItem, error)
	Update(ctx context.Context, tx *gorm.DB, item *models.QuestionBankItem) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, filters QuestionFilters) ([]*models.QuestionBankItem, int64, error)

	IsUsedInExams(ctx context.Context, tx *gorm.DB, id uint) (bool, error)

	CreateTopic(ctx context.Context, tx *gorm.DB, topic *models.Topic) error
	GetTopics(ctx context.Context, tx *gorm.DB, creatorID string) ([]*models.Topic, error)
}

// RunRepository persists scheduled exam windows.
type RunRepository interface {
	Create(ctx context.Context, tx *gorm.DB, run *models.Run) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error)
	GetByIDWithExam(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error)
	Update(ctx context.Context, tx *gorm.DB, run *models.Run) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.RunStatus) error

	GetByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Run, error)
	GetByExamAndTarget(ctx context.Context, tx *gorm.DB, examID uint, groupID, studentID *string) (*models.Run, error)
	CountByExam(ctx context.Context, tx *gorm.DB, examID uint) (int64, error)

	// GetAccessibleRuns returns runs of active exams whose window contains
	// now and whose audience is the student directly or one of the groups.
	GetAccessibleRuns(ctx context.Context, tx *gorm.DB, studentID string, groupIDs []string, now time.Time) ([]*models.Run, error)
}

// AttemptRepository persists attempts. Uniqueness of the live attempt per
// (student, run) is enforced by the storage schema, not by callers.
type AttemptRepository interface {
	// CreateIfAbsent inserts the attempt, returning
	// ErrDuplicateActiveAttempt when another non-terminal attempt for the
	// same (student, run) already holds the unique slot.
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error

	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)

	// GetCurrent returns the most recent non-restarted attempt for the
	// (student, run) pair, or ErrNotFound.
	GetCurrent(ctx context.Context, tx *gorm.DB, runID uint, studentID string) (*models.Attempt, error)

	Update(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error
	MarkExpired(ctx context.Context, tx *gorm.DB, id uint) error
	MarkRestarted(ctx context.Context, tx *gorm.DB, id uint) error

	ListByRun(ctx context.Context, tx *gorm.DB, runID uint, filters AttemptFilters) ([]*models.Attempt, int64, error)
	ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters AttemptFilters) ([]*models.Attempt, int64, error)
	ListByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters AttemptFilters) ([]*models.Attempt, int64, error)
}

// AnswerRepository persists the answers belonging to attempts.
type AnswerRepository interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.Answer) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Answer, error)
	GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Answer, error)

	// GetManualCheckAnswers returns the attempt's answers flagged for manual
	// grading, in stable creation order.
	GetManualCheckAnswers(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Answer, error)

	UpdateManualScore(ctx context.Context, tx *gorm.DB, answerID uint, score float64) error
}

// CanvasRepository persists hand drawn situational answers.
type CanvasRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, canvas *models.Canvas) error
	GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Canvas, error)
}

// UserRepository reads identity data and answers audience membership
// questions. Backed by the identity provider, not local storage.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	HasRole(ctx context.Context, id string, role models.UserRole) (bool, error)
	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)

	// GetGroups returns the group ids the student currently belongs to.
	GetGroups(ctx context.Context, studentID string) ([]string, error)

	// IsStudentInGroup answers the audience membership oracle for group
	// targeted runs.
	IsStudentInGroup(ctx context.Context, studentID, groupID string) (bool, error)
}
