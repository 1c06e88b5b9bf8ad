package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/evaluator"
)

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionOpenExact      QuestionType = "open_exact"
	QuestionOpenOrdered    QuestionType = "open_ordered"
	QuestionOpenUnordered  QuestionType = "open_unordered"
	QuestionSituation      QuestionType = "situation"
)

// IsOpen reports whether the question is answered with free text and scored
// by the evaluator.
func (t QuestionType) IsOpen() bool {
	switch t {
	case QuestionOpenExact, QuestionOpenOrdered, QuestionOpenUnordered:
		return true
	}
	return false
}

// Topic groups question bank items by subject area.
type Topic struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	CreatedBy string    `json:"created_by" gorm:"size:100;not null;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Topic) TableName() string {
	return "topics"
}

// QuestionBankItem is one reusable authored question. Options is a JSON array
// of {key, text} pairs for multiple choice items.
type QuestionBankItem struct {
	ID      uint         `json:"id" gorm:"primaryKey"`
	TopicID *uint        `json:"topic_id,omitempty" gorm:"index"`
	Type    QuestionType `json:"type" gorm:"size:30;not null;index"`
	Prompt  string       `json:"prompt" gorm:"type:text;not null"`

	Options datatypes.JSON  `json:"options,omitempty" gorm:"type:jsonb"`
	Answer  *string         `json:"answer,omitempty" gorm:"type:text"`
	Rule    *evaluator.Rule `json:"rule,omitempty" gorm:"size:30"`

	CreatedBy string `json:"created_by" gorm:"size:100;not null;index"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Topic *Topic `json:"topic,omitempty" gorm:"foreignKey:TopicID"`
}

func (QuestionBankItem) TableName() string {
	return "question_bank_items"
}
