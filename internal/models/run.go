package models

import (
	"time"
)

type RunStatus string

const (
	RunStatusScheduled RunStatus = "scheduled"
	RunStatusActive    RunStatus = "active"
	RunStatusFinished  RunStatus = "finished"
)

// Run binds an exam to one audience for a time window. Exactly one of GroupID
// and StudentID is set. Scheduling is additive: creating a run for one
// audience never shortens another audience's window.
type Run struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	ExamID uint `json:"exam_id" gorm:"not null;index"`

	GroupID   *string `json:"group_id,omitempty" gorm:"size:100;index"`
	StudentID *string `json:"student_id,omitempty" gorm:"size:100;index"`

	StartAt         time.Time `json:"start_at" gorm:"not null"`
	EndAt           time.Time `json:"end_at" gorm:"not null"`
	DurationMinutes int       `json:"duration_minutes" gorm:"not null"`
	Status          RunStatus `json:"status" gorm:"size:20;not null;default:scheduled"`

	CreatedBy string `json:"created_by" gorm:"size:100;not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Exam *Exam `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
}

func (Run) TableName() string {
	return "exam_runs"
}

// WindowOpen reports whether now falls inside the run's scheduled window.
func (r *Run) WindowOpen(now time.Time) bool {
	return !now.Before(r.StartAt) && !now.After(r.EndAt)
}

// EffectiveStatus resolves the run status lazily against the clock. A run
// past its end is finished even if no writer has updated the row yet.
func (r *Run) EffectiveStatus(now time.Time) RunStatus {
	if r.Status == RunStatusFinished || now.After(r.EndAt) {
		return RunStatusFinished
	}
	if now.Before(r.StartAt) {
		return RunStatusScheduled
	}
	return RunStatusActive
}
