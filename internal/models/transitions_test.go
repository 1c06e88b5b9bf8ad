package models

import (
	"testing"
	"time"
)

func TestAttemptStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to AttemptStatus
		want     bool
	}{
		{AttemptInProgress, AttemptSubmitted, true},
		{AttemptInProgress, AttemptExpired, true},
		{AttemptInProgress, AttemptRestarted, true},
		{AttemptExpired, AttemptRestarted, true},
		{AttemptSubmitted, AttemptRestarted, false},
		{AttemptSubmitted, AttemptInProgress, false},
		{AttemptExpired, AttemptSubmitted, false},
		{AttemptRestarted, AttemptInProgress, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestExamStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to ExamStatus
		want     bool
	}{
		{ExamStatusDraft, ExamStatusActive, true},
		{ExamStatusActive, ExamStatusFinished, true},
		{ExamStatusDraft, ExamStatusFinished, false},
		{ExamStatusFinished, ExamStatusActive, false},
		{ExamStatusActive, ExamStatusDraft, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRunEffectiveStatus(t *testing.T) {
	now := time.Now()
	run := &Run{
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
		Status:  RunStatusScheduled,
	}

	if got := run.EffectiveStatus(now); got != RunStatusActive {
		t.Errorf("open window = %s, want active", got)
	}
	if got := run.EffectiveStatus(now.Add(2 * time.Hour)); got != RunStatusFinished {
		t.Errorf("past window = %s, want finished", got)
	}
	if got := run.EffectiveStatus(now.Add(-2 * time.Hour)); got != RunStatusScheduled {
		t.Errorf("future window = %s, want scheduled", got)
	}
}

func TestAttemptFinalScoreCapped(t *testing.T) {
	manual := 40.0
	a := &Attempt{AutoScore: 80, ManualScore: &manual}
	if got := a.FinalScore(100); got != 100 {
		t.Errorf("final score = %v, want capped at 100", got)
	}
	if got := a.FinalScore(150); got != 120 {
		t.Errorf("final score = %v, want 120", got)
	}
}
