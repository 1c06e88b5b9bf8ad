package validator

import (
	"encoding/json"
	"time"

	"github.com/schoolcore/assessment-service/internal/evaluator"
	"github.com/schoolcore/assessment-service/internal/models"
)

// ExamCreateRequest creates a draft exam definition.
type ExamCreateRequest struct {
	Title           string                `json:"title" validate:"required,min=1,max=255"`
	Description     *string               `json:"description" validate:"omitempty,max=2000"`
	Kind            models.ExamKind       `json:"kind" validate:"required,exam_kind"`
	SourceType      models.ExamSourceType `json:"source_type" validate:"required,source_type"`
	DurationMinutes int                   `json:"duration_minutes" validate:"omitempty,run_duration"`
	MaxScore        float64               `json:"max_score" validate:"required,gt=0"`

	// AnswerKey is the raw authored document for externally sourced exams.
	// It is normalized before storage.
	AnswerKey   map[string]any `json:"answer_key,omitempty"`
	DocumentURL *string        `json:"document_url,omitempty" validate:"omitempty,url"`

	Questions []ExamQuestionRequest `json:"questions,omitempty" validate:"omitempty,dive"`
}

// ExamUpdateRequest updates a draft exam. Nil fields stay unchanged.
type ExamUpdateRequest struct {
	Title           *string        `json:"title" validate:"omitempty,min=1,max=255"`
	Description     *string        `json:"description" validate:"omitempty,max=2000"`
	DurationMinutes *int           `json:"duration_minutes" validate:"omitempty,run_duration"`
	MaxScore        *float64       `json:"max_score" validate:"omitempty,gt=0"`
	AnswerKey       map[string]any `json:"answer_key,omitempty"`
	DocumentURL     *string        `json:"document_url,omitempty" validate:"omitempty,url"`

	Questions []ExamQuestionRequest `json:"questions,omitempty" validate:"omitempty,dive"`
}

// ExamQuestionRequest links one question bank item into an exam.
type ExamQuestionRequest struct {
	QuestionID uint `json:"question_id" validate:"required"`
	Order      int  `json:"order" validate:"required,min=1"`
}

// OptionRequest is one multiple choice option in authoring requests.
type OptionRequest struct {
	Key  string `json:"key" validate:"required,max=50"`
	Text string `json:"text" validate:"required,max=1000"`
}

// QuestionCreateRequest creates a question bank item.
type QuestionCreateRequest struct {
	TopicID *uint               `json:"topic_id"`
	Type    models.QuestionType `json:"type" validate:"required,question_type"`
	Prompt  string              `json:"prompt" validate:"required,min=1,max=4000"`
	Options []OptionRequest     `json:"options" validate:"omitempty,dive"`
	Answer  *string             `json:"answer" validate:"omitempty,max=2000"`
	Rule    *evaluator.Rule     `json:"rule" validate:"omitempty,comparison_rule"`
}

// QuestionUpdateRequest updates a question bank item.
type QuestionUpdateRequest struct {
	TopicID *uint                `json:"topic_id"`
	Type    *models.QuestionType `json:"type" validate:"omitempty,question_type"`
	Prompt  *string              `json:"prompt" validate:"omitempty,min=1,max=4000"`
	Options []OptionRequest      `json:"options" validate:"omitempty,dive"`
	Answer  *string              `json:"answer" validate:"omitempty,max=2000"`
	Rule    *evaluator.Rule      `json:"rule" validate:"omitempty,comparison_rule"`
}

// RunTarget addresses one audience: a group or a single student.
type RunTarget struct {
	GroupID   *string `json:"group_id" validate:"omitempty,max=100"`
	StudentID *string `json:"student_id" validate:"omitempty,max=100"`
}

// RunCreateRequest schedules a run for one audience.
type RunCreateRequest struct {
	Target          RunTarget  `json:"target" validate:"required"`
	StartAt         *time.Time `json:"start_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes" validate:"required,run_duration"`
}

// ActivateNowRequest opens windows for several audiences at once, starting
// immediately. Targets not listed keep their existing windows.
type ActivateNowRequest struct {
	Targets         []RunTarget `json:"targets" validate:"required,min=1,dive"`
	DurationMinutes int         `json:"duration_minutes" validate:"required,run_duration"`
}

// SubmittedAnswer is one answer inside a submission. Exactly one of
// QuestionID and QuestionNumber addresses the question.
type SubmittedAnswer struct {
	QuestionID     *uint   `json:"question_id"`
	QuestionNumber *int    `json:"question_number"`
	SelectedKey    *string `json:"selected_key" validate:"omitempty,max=50"`
	TextValue      *string `json:"text_value" validate:"omitempty,max=4000"`
}

// SubmitRequest finalizes an attempt with the student's answers.
type SubmitRequest struct {
	Answers []SubmittedAnswer `json:"answers" validate:"dive"`
}

// CanvasSaveRequest stores a hand drawn answer for one question or
// situation task.
type CanvasSaveRequest struct {
	QuestionID     *uint           `json:"question_id"`
	SituationIndex *int            `json:"situation_index" validate:"omitempty,min=1"`
	Image          []byte          `json:"image,omitempty"`
	Strokes        json.RawMessage `json:"strokes,omitempty"`
}

// SituationScoreRequest grades one situation task by fraction, assigned by
// 1-based order among the attempt's manual check answers.
type SituationScoreRequest struct {
	Index    int     `json:"index" validate:"required,min=1"`
	Fraction float64 `json:"fraction" validate:"score_fraction"`
}

// GradeRequest applies manual scores to an attempt.
type GradeRequest struct {
	ManualScores    map[uint]float64        `json:"manual_scores,omitempty"`
	SituationScores []SituationScoreRequest `json:"situation_scores,omitempty" validate:"omitempty,dive"`
	Publish         bool                    `json:"publish"`
}

// TeacherResetRequest reopens attempting for one student with a fresh window.
type TeacherResetRequest struct {
	DurationMinutes int `json:"duration_minutes" validate:"required,run_duration"`
}

// TopicCreateRequest creates a question bank topic.
type TopicCreateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}
