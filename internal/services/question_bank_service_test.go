package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/schoolcore/assessment-service/internal/evaluator"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/validator"
)

func newQuestionBankEnv(t *testing.T) (*mockRepository, QuestionBankService) {
	t.Helper()
	repo := newMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo.users[testTeacherID] = &models.User{ID: testTeacherID, Role: models.RoleTeacher}
	repo.users[testAdminID] = &models.User{ID: testAdminID, Role: models.RoleAdmin}
	return repo, NewQuestionBankService(repo, nil, logger, validator.New())
}

func TestQuestionBankService_Create(t *testing.T) {
	answer := "B"
	openAnswer := "cavab"
	rule := evaluator.RuleExactMatch

	tests := []struct {
		name    string
		req     *CreateQuestionRequest
		wantErr bool
	}{
		{
			name: "multiple choice",
			req: &CreateQuestionRequest{
				Type:   models.QuestionMultipleChoice,
				Prompt: "Pick the even number",
				Options: []validator.OptionRequest{
					{Key: "A", Text: "3"},
					{Key: "B", Text: "4"},
				},
				Answer: &answer,
			},
		},
		{
			name: "open with rule",
			req: &CreateQuestionRequest{
				Type:   models.QuestionOpenExact,
				Prompt: "Name the capital",
				Answer: &openAnswer,
				Rule:   &rule,
			},
		},
		{
			name: "multiple choice with one option",
			req: &CreateQuestionRequest{
				Type:    models.QuestionMultipleChoice,
				Prompt:  "Broken",
				Options: []validator.OptionRequest{{Key: "A", Text: "only"}},
				Answer:  &answer,
			},
			wantErr: true,
		},
		{
			name: "open without reference answer",
			req: &CreateQuestionRequest{
				Type:   models.QuestionOpenExact,
				Prompt: "Broken",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svc := newQuestionBankEnv(t)
			resp, err := svc.Create(context.Background(), tt.req, testTeacherID)
			if tt.wantErr {
				var verrs ValidationErrors
				if !errors.As(err, &verrs) {
					t.Fatalf("expected validation errors, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("create failed: %v", err)
			}
			if resp.CreatedBy != testTeacherID {
				t.Errorf("expected creator %s, got %s", testTeacherID, resp.CreatedBy)
			}
		})
	}
}

func TestQuestionBankService_DeleteRefusesUsedQuestions(t *testing.T) {
	repo, svc := newQuestionBankEnv(t)
	ctx := context.Background()
	answer := "A"

	resp, err := svc.Create(ctx, &CreateQuestionRequest{
		Type:   models.QuestionMultipleChoice,
		Prompt: "Pick one",
		Options: []validator.OptionRequest{
			{Key: "A", Text: "first"},
			{Key: "B", Text: "second"},
		},
		Answer: &answer,
	}, testTeacherID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Link the question into an exam; deletion must now refuse.
	repo.examLinks[1] = []models.ExamQuestion{{ExamID: 1, QuestionID: resp.ID, DisplayOrder: 1}}
	if err := svc.Delete(ctx, resp.ID, testTeacherID); !errors.Is(err, ErrQuestionInUse) {
		t.Fatalf("expected ErrQuestionInUse, got %v", err)
	}

	repo.examLinks = map[uint][]models.ExamQuestion{}
	if err := svc.Delete(ctx, resp.ID, testTeacherID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

func TestQuestionBankService_OwnershipChecks(t *testing.T) {
	repo, svc := newQuestionBankEnv(t)
	ctx := context.Background()
	answer := "first"
	rule := evaluator.RuleExactMatch

	resp, err := svc.Create(ctx, &CreateQuestionRequest{
		Type:   models.QuestionOpenExact,
		Prompt: "Owned",
		Answer: &answer,
		Rule:   &rule,
	}, testTeacherID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	repo.users["teacher-2"] = &models.User{ID: "teacher-2", Role: models.RoleTeacher}
	var perr *PermissionError
	if err := svc.Delete(ctx, resp.ID, "teacher-2"); !errors.As(err, &perr) {
		t.Errorf("expected permission error, got %v", err)
	}
	if err := svc.Delete(ctx, resp.ID, testAdminID); err != nil {
		t.Errorf("admin delete failed: %v", err)
	}
}

func TestQuestionBankService_Topics(t *testing.T) {
	_, svc := newQuestionBankEnv(t)
	ctx := context.Background()

	topic, err := svc.CreateTopic(ctx, &CreateTopicRequest{Name: "Cəbr"}, testTeacherID)
	if err != nil {
		t.Fatalf("create topic failed: %v", err)
	}
	if topic.ID == 0 {
		t.Error("expected topic id to be assigned")
	}

	topics, err := svc.GetTopics(ctx, testTeacherID)
	if err != nil {
		t.Fatalf("get topics failed: %v", err)
	}
	if len(topics) != 1 || topics[0].Name != "Cəbr" {
		t.Errorf("unexpected topics: %+v", topics)
	}
}
