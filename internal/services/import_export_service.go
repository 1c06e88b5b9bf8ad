package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/answerkey"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
)

type importExportService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewImportExportService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) ImportExportService {
	return &importExportService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

// ImportAnswerKey reads an authoring workbook, converts its rows into a raw
// answer key document and runs it through the same normalize-validate-store
// pipeline as JSON keys. Only draft exams with an external source accept
// imports.
//
// The workbook's first sheet carries one question per row under the header
// Number | Kind | Prompt | Options | Correct | Answer | Rule | Pages, with
// options written as "A=text|B=text". Rows of kind "situation" become
// situation entries addressed by their number.
func (s *importExportService) ImportAnswerKey(ctx context.Context, examID uint, workbook []byte, userID string) (*ExamResponse, error) {
	s.logger.Info("Importing answer key", "exam_id", examID, "user_id", userID)

	exam, err := s.ownedExam(ctx, examID, userID, "import_answer_key")
	if err != nil {
		return nil, err
	}
	if exam.Status != models.ExamStatusDraft {
		return nil, NewBusinessRuleError("exam_not_draft", "answer keys can only be imported while the exam is a draft")
	}
	if !exam.IsExternallySourced() {
		return nil, NewBusinessRuleError("bank_source", "bank sourced exams derive their key from question links")
	}

	raw, err := parseAnswerKeyWorkbook(workbook, exam.Kind)
	if err != nil {
		return nil, err
	}

	doc := answerkey.NormalizeOrCanonical(raw)
	if doc == nil {
		return nil, ValidationErrors{{
			Field:   "answer_key",
			Message: "workbook does not match any known answer key format",
			Rule:    "format",
		}}
	}
	if ok, problems := answerkey.Validate(doc); !ok {
		errs := make(ValidationErrors, 0, len(problems))
		for _, p := range problems {
			errs = append(errs, ValidationError{Field: "answer_key", Message: p, Rule: "answer_key"})
		}
		return nil, errs
	}

	stored, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer key: %w", err)
	}
	exam.AnswerKey = stored
	if err := s.repo.Exam().Update(ctx, nil, exam); err != nil {
		return nil, fmt.Errorf("failed to store answer key: %w", err)
	}

	s.logger.Info("Answer key imported", "exam_id", examID, "questions", len(doc.Questions))
	return &ExamResponse{
		Exam:        exam,
		Composition: answerkey.CountQuestions(doc),
		CanEdit:     exam.CreatedBy == userID && exam.Status != models.ExamStatusFinished,
		CanActivate: exam.CreatedBy == userID && exam.Status == models.ExamStatusDraft,
	}, nil
}

// parseAnswerKeyWorkbook turns the sheet rows into the loose map form the
// normalizer understands. Cell-level problems are collected per row so the
// author sees every broken line at once.
func parseAnswerKeyWorkbook(workbook []byte, kind models.ExamKind) (map[string]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(workbook))
	if err != nil {
		return nil, ValidationErrors{{
			Field:   "file",
			Message: "file is not a readable xlsx workbook",
			Rule:    "format",
		}}
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, ValidationErrors{{
			Field:   "file",
			Message: "workbook has no question rows",
			Rule:    "required",
		}}
	}

	var errs ValidationErrors
	var questions []any
	var situations []any

	// Row 1 is the header; data starts at row 2.
	for i, row := range rows[1:] {
		line := i + 2
		if len(row) == 0 || strings.TrimSpace(cellAt(row, 0)) == "" {
			continue
		}

		number, err := strconv.Atoi(strings.TrimSpace(cellAt(row, 0)))
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "file",
				Message: fmt.Sprintf("row %d: number %q is not an integer", line, cellAt(row, 0)),
				Rule:    "format",
			})
			continue
		}

		rowKind := strings.ToLower(strings.TrimSpace(cellAt(row, 1)))
		if rowKind == "situation" {
			situations = append(situations, map[string]any{
				"index": float64(number),
				"pages": strings.TrimSpace(cellAt(row, 7)),
			})
			continue
		}

		question := map[string]any{
			"number": float64(number),
			"kind":   rowKind,
			"prompt": strings.TrimSpace(cellAt(row, 2)),
		}
		if options := parseOptionsCell(cellAt(row, 3)); len(options) > 0 {
			question["options"] = options
		}
		if correct := strings.TrimSpace(cellAt(row, 4)); correct != "" {
			question["correctKey"] = correct
		}
		if answer := strings.TrimSpace(cellAt(row, 5)); answer != "" {
			question["openAnswer"] = answer
		}
		if rule := strings.TrimSpace(cellAt(row, 6)); rule != "" {
			question["openRule"] = strings.ToUpper(rule)
		}
		questions = append(questions, question)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	raw := map[string]any{
		"kind":      string(kind),
		"questions": questions,
	}
	if len(situations) > 0 {
		raw["situations"] = situations
	}
	return raw, nil
}

// parseOptionsCell splits "A=first|B=second" into option maps. Entries
// without an explicit key fall back to positional keys A, B, C.
func parseOptionsCell(cell string) []any {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	parts := strings.Split(cell, "|")
	options := make([]any, 0, len(parts))
	for i, part := range parts {
		key, text, found := strings.Cut(part, "=")
		if !found {
			key = string(rune('A' + i))
			text = part
		}
		options = append(options, map[string]any{
			"key":  strings.TrimSpace(key),
			"text": strings.TrimSpace(text),
		})
	}
	return options
}

func cellAt(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}

// ExportExamResults renders every finished attempt of the exam as one row of
// an xlsx workbook, one attempt per student under the flat attempt model.
func (s *importExportService) ExportExamResults(ctx context.Context, examID uint, userID string) ([]byte, error) {
	s.logger.Info("Exporting exam results", "exam_id", examID, "user_id", userID)

	exam, err := s.ownedExam(ctx, examID, userID, "export_results")
	if err != nil {
		return nil, err
	}

	attempts, _, err := s.repo.Attempt().ListByExam(ctx, nil, examID, repositories.AttemptFilters{
		SortBy:    "created_at",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	names, err := s.studentNames(ctx, attempts)
	if err != nil {
		s.logger.Warn("Failed to resolve student names for export", "exam_id", examID, "error", err)
		names = map[string]string{}
	}

	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("Failed to close workbook", "error", cerr)
		}
	}()

	const sheet = "Results"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	headers := []string{"Student", "Student ID", "Status", "Started At", "Finished At", "Auto Score", "Manual Score", "Final Score", "Checked"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	row := 2
	for _, attempt := range attempts {
		if attempt.FinishedAt == nil {
			continue
		}

		manual := 0.0
		if attempt.ManualScore != nil {
			manual = *attempt.ManualScore
		}
		values := []interface{}{
			names[attempt.StudentID],
			attempt.StudentID,
			string(attempt.Status),
			attempt.StartedAt.Format("2006-01-02 15:04:05"),
			attempt.FinishedAt.Format("2006-01-02 15:04:05"),
			Round2(attempt.AutoScore),
			Round2(manual),
			Round2(attempt.FinalScore(exam.MaxScore)),
			attempt.IsChecked,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row, err)
			}
		}
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *importExportService) ownedExam(ctx context.Context, examID uint, userID, action string) (*models.Exam, error) {
	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.CreatedBy != userID {
		isAdmin, aerr := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
		if aerr != nil || !isAdmin {
			return nil, NewPermissionError(userID, examID, "exam", action, "not the creator")
		}
	}
	return exam, nil
}

func (s *importExportService) studentNames(ctx context.Context, attempts []*models.Attempt) (map[string]string, error) {
	seen := make(map[string]struct{}, len(attempts))
	ids := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		if _, ok := seen[attempt.StudentID]; ok {
			continue
		}
		seen[attempt.StudentID] = struct{}{}
		ids = append(ids, attempt.StudentID)
	}
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(users))
	for _, user := range users {
		names[user.ID] = user.FullName
	}
	return names, nil
}
