package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/schoolcore/assessment-service/internal/answerkey"
	"github.com/schoolcore/assessment-service/internal/models"
)

func newImportExport(env *serviceEnv) ImportExportService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewImportExportService(env.repo, nil, logger)
}

// answerKeyWorkbook renders rows under the import header into an xlsx
// workbook, one question per row.
func answerKeyWorkbook(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	all := append([][]interface{}{
		{"Number", "Kind", "Prompt", "Options", "Correct", "Answer", "Rule", "Pages"},
	}, rows...)
	for r, row := range all {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue("Sheet1", cell, v); err != nil {
				t.Fatalf("failed to write cell: %v", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("failed to render workbook: %v", err)
	}
	return buf.Bytes()
}

func quizWorkbookRows() [][]interface{} {
	var rows [][]interface{}
	for i := 1; i <= 12; i++ {
		rows = append(rows, []interface{}{i, "mc", "pick one", "A=first|B=second|C=third|D=fourth", "A", "", ""})
	}
	for i := 13; i <= 15; i++ {
		rows = append(rows, []interface{}{i, "open", "write the value", "", "", "42", "EXACT_MATCH"})
	}
	return rows
}

func TestImportExportService_ImportAnswerKey(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	env.exam.Status = models.ExamStatusDraft
	env.exam.AnswerKey = nil
	svc := newImportExport(env)

	resp, err := svc.ImportAnswerKey(context.Background(), env.exam.ID, answerKeyWorkbook(t, quizWorkbookRows()), testTeacherID)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if resp.Composition.Total != 15 {
		t.Errorf("expected 15 questions, got %d", resp.Composition.Total)
	}

	var doc answerkey.Document
	if err := json.Unmarshal(env.repo.exams[env.exam.ID].AnswerKey, &doc); err != nil {
		t.Fatalf("stored key is not canonical json: %v", err)
	}
	if len(doc.Questions) != 15 {
		t.Errorf("expected 15 stored questions, got %d", len(doc.Questions))
	}
	q, found := doc.QuestionByNumber(1)
	if !found {
		t.Fatal("question 1 missing from stored key")
	}
	if q.Kind != answerkey.KindMultipleChoice || q.CorrectKey == nil || *q.CorrectKey != "A" {
		t.Errorf("question 1 stored wrong: %+v", q)
	}
}

func TestImportExportService_ImportInvalidComposition(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	env.exam.Status = models.ExamStatusDraft
	svc := newImportExport(env)

	workbook := answerKeyWorkbook(t, [][]interface{}{
		{1, "mc", "only one", "A=first|B=second", "A", "", ""},
	})
	_, err := svc.ImportAnswerKey(context.Background(), env.exam.ID, workbook, testTeacherID)

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if len(env.repo.exams[env.exam.ID].AnswerKey) == 0 {
		t.Error("rejected import must not clear the existing key")
	}
}

func TestImportExportService_ImportRules(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(env *serviceEnv)
		userID  string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "active exam rejected",
			prepare: func(env *serviceEnv) {},
			userID:  testTeacherID,
			check: func(t *testing.T, err error) {
				var berr *BusinessRuleError
				if !errors.As(err, &berr) {
					t.Fatalf("expected business rule error, got %v", err)
				}
			},
		},
		{
			name: "bank sourced exam rejected",
			prepare: func(env *serviceEnv) {
				env.exam.Status = models.ExamStatusDraft
				env.exam.SourceType = models.SourceQuestionBank
			},
			userID: testTeacherID,
			check: func(t *testing.T, err error) {
				var berr *BusinessRuleError
				if !errors.As(err, &berr) {
					t.Fatalf("expected business rule error, got %v", err)
				}
			},
		},
		{
			name: "foreign teacher rejected",
			prepare: func(env *serviceEnv) {
				env.exam.Status = models.ExamStatusDraft
				env.repo.users["teacher-2"] = &models.User{ID: "teacher-2", Role: models.RoleTeacher}
			},
			userID: "teacher-2",
			check: func(t *testing.T, err error) {
				var perr *PermissionError
				if !errors.As(err, &perr) {
					t.Fatalf("expected permission error, got %v", err)
				}
			},
		},
		{
			name: "garbage bytes rejected",
			prepare: func(env *serviceEnv) {
				env.exam.Status = models.ExamStatusDraft
			},
			userID: testTeacherID,
			check: func(t *testing.T, err error) {
				var verrs ValidationErrors
				if !errors.As(err, &verrs) {
					t.Fatalf("expected validation errors, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
			tt.prepare(env)
			svc := newImportExport(env)

			workbook := answerKeyWorkbook(t, quizWorkbookRows())
			if tt.name == "garbage bytes rejected" {
				workbook = []byte("not an xlsx file")
			}
			_, err := svc.ImportAnswerKey(context.Background(), env.exam.ID, workbook, tt.userID)
			tt.check(t, err)
		})
	}
}

func TestImportExportService_ExportExamResults(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	ctx := context.Background()
	svc := newImportExport(env)

	attempt, err := env.attempts.Start(ctx, env.run.ID, testStudentID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := env.attempts.Submit(ctx, attempt.ID, fullQuizSubmission(), testStudentID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	data, err := svc.ExportExamResults(ctx, env.exam.ID, testTeacherID)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("export is not a readable workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Results")
	if err != nil {
		t.Fatalf("failed to read sheet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus 1 row, got %d", len(rows))
	}
	if rows[0][0] != "Student" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][1] != testStudentID {
		t.Errorf("expected student id %s, got %s", testStudentID, rows[1][1])
	}
	if rows[1][0] != "Murad Həsənov" {
		t.Errorf("expected resolved name, got %q", rows[1][0])
	}
}

func TestImportExportService_SkipsUnfinishedAttempts(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	ctx := context.Background()
	svc := newImportExport(env)

	if _, err := env.attempts.Start(ctx, env.run.ID, testStudentID); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	data, err := svc.ExportExamResults(ctx, env.exam.ID, testTeacherID)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("export is not a readable workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Results")
	if err != nil {
		t.Fatalf("failed to read sheet: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("running attempts must not be exported, got %d rows", len(rows))
	}
}

func TestImportExportService_ExportPermission(t *testing.T) {
	env := newServiceEnv(t, models.ExamKindQuiz, quizDocument(), 100)
	svc := newImportExport(env)

	_, err := svc.ExportExamResults(context.Background(), env.exam.ID, testStudentID)
	var perr *PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected permission error, got %v", err)
	}
}
