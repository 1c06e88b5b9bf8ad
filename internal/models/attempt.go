package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptExpired    AttemptStatus = "expired"
	AttemptRestarted  AttemptStatus = "restarted"
)

// IsTerminal reports whether the attempt can no longer accept answers.
// Restarted attempts stay in history but are excluded from lookups.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptSubmitted || s == AttemptExpired || s == AttemptRestarted
}

var attemptStatusTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptInProgress: {AttemptSubmitted, AttemptExpired, AttemptRestarted},
	AttemptExpired:    {AttemptRestarted},
	AttemptSubmitted:  {},
	AttemptRestarted:  {},
}

// CanTransitionTo reports whether the attempt status may change to target.
func (s AttemptStatus) CanTransitionTo(target AttemptStatus) bool {
	for _, allowed := range attemptStatusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Attempt is one student's try at a run. At most one attempt per (student,
// run) is in a non-terminal status at any time; the partial unique index on
// active_key enforces that at the storage boundary.
type Attempt struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	RunID     *uint  `json:"run_id,omitempty" gorm:"index"`
	ExamID    uint   `json:"exam_id" gorm:"not null;index"`
	StudentID string `json:"student_id" gorm:"size:100;not null;index"`

	Status AttemptStatus `json:"status" gorm:"size:20;not null;default:in_progress;index"`

	// ActiveKey is "<student_id>:<run_id>" while the attempt is non-terminal
	// and NULL afterwards, so the unique index only guards live attempts.
	ActiveKey *string `json:"-" gorm:"size:150;uniqueIndex:idx_attempts_active_key"`

	StartedAt       time.Time  `json:"started_at" gorm:"not null"`
	ExpiresAt       time.Time  `json:"expires_at" gorm:"not null"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes" gorm:"not null"`

	AutoScore   float64  `json:"auto_score" gorm:"type:decimal(10,2);not null;default:0"`
	ManualScore *float64 `json:"manual_score,omitempty" gorm:"type:decimal(10,2)"`
	IsChecked   bool     `json:"is_checked" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Run      *Run     `json:"run,omitempty" gorm:"foreignKey:RunID"`
	Exam     *Exam    `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
	Answers  []Answer `json:"answers,omitempty" gorm:"foreignKey:AttemptID"`
	Canvases []Canvas `json:"canvases,omitempty" gorm:"foreignKey:AttemptID"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// IsExpired reports whether the attempt's window has passed. Expiry is
// evaluated lazily, only when the attempt is read or acted on.
func (a *Attempt) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// FinalScore is the capped combination of automatic and manual scores.
func (a *Attempt) FinalScore(maxScore float64) float64 {
	total := a.AutoScore
	if a.ManualScore != nil {
		total += *a.ManualScore
	}
	if total > maxScore {
		return maxScore
	}
	return total
}

// Answer is one persisted response inside an attempt. QuestionID references
// a bank item; QuestionNumber addresses an external answer key entry.
type Answer struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	AttemptID uint `json:"attempt_id" gorm:"not null;index"`

	QuestionID     *uint `json:"question_id,omitempty" gorm:"index"`
	QuestionNumber *int  `json:"question_number,omitempty"`

	SelectedKey *string `json:"selected_key,omitempty" gorm:"size:50"`
	TextValue   *string `json:"text_value,omitempty" gorm:"type:text"`

	AutoScore           float64  `json:"auto_score" gorm:"type:decimal(10,2);not null;default:0"`
	RequiresManualCheck bool     `json:"requires_manual_check" gorm:"not null;default:false"`
	ManualScore         *float64 `json:"manual_score,omitempty" gorm:"type:decimal(10,2)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Answer) TableName() string {
	return "attempt_answers"
}

// Canvas stores a hand drawn situational answer, as a raster image and/or a
// stroke trace. Writable only while the owning attempt is non-terminal.
type Canvas struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	AttemptID uint `json:"attempt_id" gorm:"not null;index"`

	QuestionID     *uint `json:"question_id,omitempty"`
	SituationIndex *int  `json:"situation_index,omitempty"`

	Image   []byte         `json:"image,omitempty" gorm:"type:bytea"`
	Strokes datatypes.JSON `json:"strokes,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Canvas) TableName() string {
	return "attempt_canvases"
}
