package services

import (
	"context"
	"time"

	"github.com/schoolcore/assessment-service/internal/answerkey"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
	"github.com/schoolcore/assessment-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type CreateExamRequest = validator.ExamCreateRequest
type UpdateExamRequest = validator.ExamUpdateRequest
type ExamQuestionRequest = validator.ExamQuestionRequest
type CreateQuestionRequest = validator.QuestionCreateRequest
type UpdateQuestionRequest = validator.QuestionUpdateRequest
type CreateTopicRequest = validator.TopicCreateRequest
type RunTarget = validator.RunTarget
type CreateRunRequest = validator.RunCreateRequest
type ActivateNowRequest = validator.ActivateNowRequest
type SubmitRequest = validator.SubmitRequest
type SubmittedAnswer = validator.SubmittedAnswer
type CanvasSaveRequest = validator.CanvasSaveRequest
type GradeRequest = validator.GradeRequest
type TeacherResetRequest = validator.TeacherResetRequest

type ExamResponse struct {
	*models.Exam
	Composition answerkey.Counts `json:"composition"`
	CanEdit     bool             `json:"can_edit"`
	CanActivate bool             `json:"can_activate"`
}

type ExamListResponse struct {
	Exams []*ExamResponse `json:"exams"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

type QuestionResponse struct {
	*models.QuestionBankItem
	UsedInExams bool `json:"used_in_exams"`
}

type QuestionListResponse struct {
	Questions []*QuestionResponse `json:"questions"`
	Total     int64               `json:"total"`
	Page      int                 `json:"page"`
	Size      int                 `json:"size"`
}

type RunResponse struct {
	*models.Run
	EffectiveStatus models.RunStatus `json:"effective_status"`
}

// QuestionView is a question as presented to the student taking an attempt.
// It never carries correct answers. Options appear in the per-response
// shuffled order; keys stay stable for answer matching.
type QuestionView struct {
	Number         int                    `json:"number"`
	QuestionID     *uint                  `json:"question_id,omitempty"`
	Kind           answerkey.QuestionKind `json:"kind"`
	Prompt         string                 `json:"prompt,omitempty"`
	Options        []answerkey.Option     `json:"options,omitempty"`
	SituationIndex *int                   `json:"situation_index,omitempty"`
	Pages          string                 `json:"pages,omitempty"`
}

type AttemptResponse struct {
	*models.Attempt
	Questions            []QuestionView `json:"questions,omitempty"`
	DocumentURL          *string        `json:"document_url,omitempty"`
	TimeRemainingSeconds int            `json:"time_remaining_seconds"`
}

type SubmitResult struct {
	AttemptID          uint      `json:"attempt_id"`
	AutoScore          float64   `json:"auto_score"`
	MaxScore           float64   `json:"max_score"`
	FinishedAt         time.Time `json:"finished_at"`
	PendingManualCheck bool      `json:"pending_manual_check"`
}

type GradeResult struct {
	AttemptID   uint    `json:"attempt_id"`
	AutoScore   float64 `json:"auto_score"`
	ManualScore float64 `json:"manual_score"`
	FinalScore  float64 `json:"final_score"`
	IsChecked   bool    `json:"is_checked"`
	Published   bool    `json:"published"`
}

// AnswerResult is one graded answer in a published result view.
type AnswerResult struct {
	QuestionID     *uint    `json:"question_id,omitempty"`
	QuestionNumber *int     `json:"question_number,omitempty"`
	SelectedKey    *string  `json:"selected_key,omitempty"`
	TextValue      *string  `json:"text_value,omitempty"`
	AutoScore      float64  `json:"auto_score"`
	ManualScore    *float64 `json:"manual_score,omitempty"`
	ManualCheck    bool     `json:"manual_check"`
}

// ResultView is what a student sees for a finished attempt. Before the
// teacher publishes checked results it carries only the pending message.
type ResultView struct {
	AttemptID   uint           `json:"attempt_id"`
	Available   bool           `json:"available"`
	Message     string         `json:"message,omitempty"`
	AutoScore   *float64       `json:"auto_score,omitempty"`
	ManualScore *float64       `json:"manual_score,omitempty"`
	FinalScore  *float64       `json:"final_score,omitempty"`
	MaxScore    float64        `json:"max_score"`
	Answers     []AnswerResult `json:"answers,omitempty"`
}

// AvailableRun is a run currently open to a student, joined with the exam
// summary and the student's own attempt state.
type AvailableRun struct {
	RunID           uint                  `json:"run_id"`
	ExamID          uint                  `json:"exam_id"`
	Title           string                `json:"title"`
	Kind            models.ExamKind       `json:"kind"`
	DurationMinutes int                   `json:"duration_minutes"`
	StartAt         time.Time             `json:"start_at"`
	EndAt           time.Time             `json:"end_at"`
	AttemptID       *uint                 `json:"attempt_id,omitempty"`
	AttemptStatus   *models.AttemptStatus `json:"attempt_status,omitempty"`
}

type AttemptListResponse struct {
	Attempts []*AttemptResponse `json:"attempts"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	Size     int                `json:"size"`
}

// ===== SERVICE INTERFACES =====

type ExamService interface {
	Create(ctx context.Context, req *CreateExamRequest, creatorID string) (*ExamResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*ExamResponse, error)
	GetByIDWithDetails(ctx context.Context, id uint, userID string) (*ExamResponse, error)
	Update(ctx context.Context, id uint, req *UpdateExamRequest, userID string) (*ExamResponse, error)
	Delete(ctx context.Context, id uint, userID string) error

	List(ctx context.Context, filters repositories.ExamFilters, userID string) (*ExamListResponse, error)
	GetByCreator(ctx context.Context, creatorID string, filters repositories.ExamFilters) (*ExamListResponse, error)

	ReplaceQuestions(ctx context.Context, id uint, questions []ExamQuestionRequest, userID string) error

	// Activate moves a draft exam to active. The gate requires a valid
	// composition, a positive duration and at least one scheduled run.
	Activate(ctx context.Context, id uint, userID string) error

	// Stop finishes the exam and all of its runs.
	Stop(ctx context.Context, id uint, userID string) error

	Archive(ctx context.Context, id uint, userID string) error
	PublishResults(ctx context.Context, id uint, userID string) error
}

type QuestionBankService interface {
	Create(ctx context.Context, req *CreateQuestionRequest, creatorID string) (*QuestionResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*QuestionResponse, error)
	Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*QuestionResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.QuestionFilters, userID string) (*QuestionListResponse, error)

	CreateTopic(ctx context.Context, req *CreateTopicRequest, creatorID string) (*models.Topic, error)
	GetTopics(ctx context.Context, creatorID string) ([]*models.Topic, error)
}

type RunService interface {
	// Schedule creates a run for one audience with an explicit window.
	Schedule(ctx context.Context, examID uint, req *CreateRunRequest, userID string) (*RunResponse, error)

	// ActivateNow opens windows starting immediately for the listed
	// audiences, creating or refreshing one run per target. Targets not
	// listed keep their existing windows. A draft exam passing the
	// activation gate is activated in the same call.
	ActivateNow(ctx context.Context, examID uint, req *ActivateNowRequest, userID string) ([]*RunResponse, error)

	GetByExam(ctx context.Context, examID uint, userID string) ([]*RunResponse, error)
	GetByID(ctx context.Context, runID uint, userID string) (*RunResponse, error)
}

type AttemptService interface {
	// Start opens or resumes the student's attempt on a run. Starting is
	// idempotent: an existing live attempt is returned, never duplicated.
	Start(ctx context.Context, runID uint, studentID string) (*AttemptResponse, error)

	GetByID(ctx context.Context, id uint, userID string) (*AttemptResponse, error)
	GetCurrent(ctx context.Context, runID uint, studentID string) (*AttemptResponse, error)

	// Submit finalizes the attempt with the student's answers, scores the
	// automatic part and closes the attempt, all atomically.
	Submit(ctx context.Context, attemptID uint, req *SubmitRequest, studentID string) (*SubmitResult, error)

	SaveCanvas(ctx context.Context, attemptID uint, req *CanvasSaveRequest, studentID string) error

	// TeacherReset retires the student's current attempt and opens a fresh
	// window so they can take the run again.
	TeacherReset(ctx context.Context, attemptID uint, req *TeacherResetRequest, teacherID string) (*AttemptResponse, error)

	ListByExam(ctx context.Context, examID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error)
	ListByRun(ctx context.Context, runID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error)
}

type GradingService interface {
	// GradeAttempt applies manual scores to a finished attempt, recomputes
	// the totals and marks the attempt checked.
	GradeAttempt(ctx context.Context, attemptID uint, req *GradeRequest, graderID string) (*GradeResult, error)

	// Reopen withdraws a grade: the attempt loses its checked mark and the
	// exam's publish flag is cleared so stale results are never shown.
	Reopen(ctx context.Context, attemptID uint, graderID string) error

	// ViewResult returns the student-facing result, gated on the exam's
	// publish flag and the attempt's checked mark.
	ViewResult(ctx context.Context, attemptID uint, requesterID string) (*ResultView, error)
}

type StudentService interface {
	// AvailableRuns lists runs currently open to the student, through
	// direct targeting or group membership.
	AvailableRuns(ctx context.Context, studentID string) ([]*AvailableRun, error)

	AttemptHistory(ctx context.Context, studentID string, filters repositories.AttemptFilters) (*AttemptListResponse, error)
}

type ImportExportService interface {
	// ImportAnswerKey reads an answer key workbook, normalizes it into the
	// canonical document and stores it on the exam.
	ImportAnswerKey(ctx context.Context, examID uint, workbook []byte, userID string) (*ExamResponse, error)

	// ExportExamResults renders all finished attempts of an exam as an
	// xlsx workbook.
	ExportExamResults(ctx context.Context, examID uint, userID string) ([]byte, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Exam() ExamService
	QuestionBank() QuestionBankService
	Run() RunService
	Attempt() AttemptService
	Grading() GradingService
	Student() StudentService
	ImportExport() ImportExportService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
