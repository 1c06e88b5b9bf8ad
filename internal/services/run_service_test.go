package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/validator"
)

func TestRunService_ScheduleTargetExclusivity(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	ctx := context.Background()
	student := testStudentID
	group := "group-7"

	tests := []struct {
		name   string
		target RunTarget
		ok     bool
	}{
		{name: "student target", target: RunTarget{StudentID: &student}, ok: true},
		{name: "group target", target: RunTarget{GroupID: &group}, ok: true},
		{name: "both set", target: RunTarget{StudentID: &student, GroupID: &group}, ok: false},
		{name: "neither set", target: RunTarget{}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.runs.Schedule(ctx, env.exam.ID, &CreateRunRequest{
				Target:          tt.target,
				DurationMinutes: 60,
			}, testTeacherID)
			if tt.ok && err != nil {
				t.Fatalf("schedule failed: %v", err)
			}
			if !tt.ok {
				var verrs ValidationErrors
				if !errors.As(err, &verrs) {
					t.Fatalf("expected validation errors, got %v", err)
				}
			}
		})
	}
}

func TestRunService_ScheduleUnknownStudent(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	ghost := "student-unknown"

	_, err := env.runs.Schedule(context.Background(), env.exam.ID, &CreateRunRequest{
		Target:          RunTarget{StudentID: &ghost},
		DurationMinutes: 60,
	}, testTeacherID)

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
}

func TestRunService_ScheduleWindow(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	student := testStudentID
	startAt := time.Now().Add(2 * time.Hour)

	resp, err := env.runs.Schedule(context.Background(), env.exam.ID, &CreateRunRequest{
		Target:          RunTarget{StudentID: &student},
		StartAt:         &startAt,
		DurationMinutes: 90,
	}, testTeacherID)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	if !resp.EndAt.Equal(startAt.Add(90 * time.Minute)) {
		t.Errorf("expected end at start+90m, got %v", resp.EndAt)
	}
	if resp.EffectiveStatus != models.RunStatusScheduled {
		t.Errorf("expected scheduled, got %s", resp.EffectiveStatus)
	}
}

func TestRunService_ActivateNowIsAdditive(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	ctx := context.Background()
	group := "group-7"

	groupRun := &models.Run{
		ExamID:          env.exam.ID,
		GroupID:         &group,
		StartAt:         time.Now().Add(-30 * time.Minute),
		EndAt:           time.Now().Add(30 * time.Minute),
		DurationMinutes: 60,
		Status:          models.RunStatusActive,
		CreatedBy:       testTeacherID,
	}
	if err := env.repo.Run().Create(ctx, nil, groupRun); err != nil {
		t.Fatalf("failed to seed group run: %v", err)
	}
	groupEnd := groupRun.EndAt

	student := testStudentID
	responses, err := env.runs.ActivateNow(ctx, env.exam.ID, &ActivateNowRequest{
		Targets:         []RunTarget{{StudentID: &student}},
		DurationMinutes: 45,
	}, testTeacherID)
	if err != nil {
		t.Fatalf("activate now failed: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("expected 1 run, got %d", len(responses))
	}

	// The student's existing run is refreshed in place, not duplicated.
	if responses[0].ID != env.run.ID {
		t.Errorf("expected run %d to be reused, got %d", env.run.ID, responses[0].ID)
	}
	if responses[0].DurationMinutes != 45 {
		t.Errorf("expected refreshed duration 45, got %d", responses[0].DurationMinutes)
	}
	if responses[0].EffectiveStatus != models.RunStatusActive {
		t.Errorf("expected active, got %s", responses[0].EffectiveStatus)
	}

	// The unlisted group audience keeps its window.
	if !env.repo.runs[groupRun.ID].EndAt.Equal(groupEnd) {
		t.Error("unlisted target's window must not change")
	}
}

func TestRunService_ActivateNowActivatesDraft(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	ctx := context.Background()

	draft := createDraftExam(t, env, quizDocument())
	student := testStudentID

	if _, err := env.runs.ActivateNow(ctx, draft.Exam.ID, &ActivateNowRequest{
		Targets:         []RunTarget{{StudentID: &student}},
		DurationMinutes: 40,
	}, testTeacherID); err != nil {
		t.Fatalf("activate now failed: %v", err)
	}

	if env.repo.exams[draft.Exam.ID].Status != models.ExamStatusActive {
		t.Errorf("expected draft to be activated, got %s", env.repo.exams[draft.Exam.ID].Status)
	}

	// The student can start right away.
	runs, err := env.repo.Run().GetByExam(ctx, nil, draft.Exam.ID)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d (%v)", len(runs), err)
	}
	if _, err := env.attempts.Start(ctx, runs[0].ID, testStudentID); err != nil {
		t.Errorf("start after activate now failed: %v", err)
	}
}

func TestRunService_ActivateNowRejectsBadDraft(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	ctx := context.Background()

	short := quizDocument()
	short.Questions = short.Questions[:5]
	draft := createDraftExam(t, env, short)
	student := testStudentID

	_, err := env.runs.ActivateNow(ctx, draft.Exam.ID, &ActivateNowRequest{
		Targets:         []RunTarget{{StudentID: &student}},
		DurationMinutes: 40,
	}, testTeacherID)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected composition errors, got %v", err)
	}
	if env.repo.exams[draft.Exam.ID].Status != models.ExamStatusDraft {
		t.Error("failed activation must leave the exam a draft")
	}
}

func TestRunService_GetByExamOwnership(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	ctx := context.Background()

	runs, err := env.runs.GetByExam(ctx, env.exam.ID, testTeacherID)
	if err != nil {
		t.Fatalf("get by exam failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	_, err = env.runs.GetByExam(ctx, env.exam.ID, testStudentID)
	var perr *PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestNewRunService(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewRunService(newMockRepository(), nil, logger, validator.New(), nil)
	if svc == nil {
		t.Fatal("expected service instance")
	}
}
