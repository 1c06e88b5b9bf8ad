package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ExamKind string

const (
	ExamKindQuiz ExamKind = "quiz"
	ExamKindExam ExamKind = "exam"
)

type ExamSourceType string

const (
	SourceQuestionBank       ExamSourceType = "question_bank"
	SourceExternalDocument   ExamSourceType = "external_document"
	SourceExternalStructured ExamSourceType = "external_structured"
)

type ExamStatus string

const (
	ExamStatusDraft    ExamStatus = "draft"
	ExamStatusActive   ExamStatus = "active"
	ExamStatusFinished ExamStatus = "finished"
)

// examStatusTransitions is the single source of truth for legal exam status
// changes. Illegal transitions are rejected here rather than at call sites.
var examStatusTransitions = map[ExamStatus][]ExamStatus{
	ExamStatusDraft:    {ExamStatusActive},
	ExamStatusActive:   {ExamStatusFinished},
	ExamStatusFinished: {},
}

// CanTransitionTo reports whether the exam status may change to target.
func (s ExamStatus) CanTransitionTo(target ExamStatus) bool {
	for _, allowed := range examStatusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Exam is a quiz or exam definition authored by a teacher. Question content
// comes either from the question bank or from an external answer key
// document, depending on SourceType.
type Exam struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	Title           string         `json:"title" gorm:"size:255;not null"`
	Description     *string        `json:"description,omitempty" gorm:"type:text"`
	Kind            ExamKind       `json:"kind" gorm:"size:10;not null;index"`
	SourceType      ExamSourceType `json:"source_type" gorm:"size:30;not null"`
	Status          ExamStatus     `json:"status" gorm:"size:20;not null;default:draft;index"`
	DurationMinutes int            `json:"duration_minutes" gorm:"not null;default:0"`
	MaxScore        float64        `json:"max_score" gorm:"type:decimal(10,2);not null;default:100"`
	ResultPublished bool           `json:"result_published" gorm:"not null;default:false"`

	// AnswerKey holds the canonical answer key document for externally
	// sourced exams. Empty for question bank exams.
	AnswerKey   datatypes.JSON `json:"answer_key,omitempty" gorm:"type:jsonb"`
	DocumentURL *string        `json:"document_url,omitempty" gorm:"size:1024"`

	Archived  bool   `json:"archived" gorm:"not null;default:false;index"`
	CreatedBy string `json:"created_by" gorm:"size:100;not null;index"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Questions []ExamQuestion `json:"questions,omitempty" gorm:"foreignKey:ExamID"`
	Runs      []Run          `json:"runs,omitempty" gorm:"foreignKey:ExamID"`
}

func (Exam) TableName() string {
	return "exams"
}

func (e *Exam) IsExternallySourced() bool {
	return e.SourceType == SourceExternalDocument || e.SourceType == SourceExternalStructured
}

// ExamQuestion links a question bank item to an exam with its authored
// position. Items are referenced, never copied.
type ExamQuestion struct {
	ID           uint `json:"id" gorm:"primaryKey"`
	ExamID       uint `json:"exam_id" gorm:"not null;index;uniqueIndex:idx_exam_question"`
	QuestionID   uint `json:"question_id" gorm:"not null;uniqueIndex:idx_exam_question"`
	DisplayOrder int  `json:"display_order" gorm:"not null"`

	Question *QuestionBankItem `json:"question,omitempty" gorm:"foreignKey:QuestionID"`

	CreatedAt time.Time `json:"created_at"`
}

func (ExamQuestion) TableName() string {
	return "exam_questions"
}
