package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/schoolcore/assessment-service/internal/answerkey"
	"github.com/schoolcore/assessment-service/internal/evaluator"
	"github.com/schoolcore/assessment-service/internal/models"
	"github.com/schoolcore/assessment-service/internal/repositories"
)

// Scoring unit denominators. A quiz distributes its max score over 15 units,
// an exam over 33: one unit per regular question, two per situation task.
const (
	quizScoreUnits = 15
	examScoreUnits = 33
)

// unitWeight is the point value of one scoring unit for the exam.
func unitWeight(exam *models.Exam) float64 {
	if exam.Kind == models.ExamKindQuiz {
		return exam.MaxScore / quizScoreUnits
	}
	return exam.MaxScore / examScoreUnits
}

// Round2 rounds for display. Internal arithmetic keeps full precision;
// rounding happens only at the response boundary.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// compositionDocument resolves the exam's canonical answer key document.
// Externally sourced exams store it directly; question bank exams get one
// synthesized from their linked bank items so composition and scoring go
// through a single representation.
func compositionDocument(ctx context.Context, repo repositories.Repository, tx *gorm.DB, exam *models.Exam) (*answerkey.Document, error) {
	if exam.IsExternallySourced() {
		if len(exam.AnswerKey) == 0 {
			return nil, NewBusinessRuleError("answer_key_missing", "externally sourced exam has no answer key document")
		}
		doc, err := answerkey.Parse(exam.AnswerKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored answer key: %w", err)
		}
		return doc, nil
	}

	links, err := repo.Exam().GetQuestionLinks(ctx, tx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam questions: %w", err)
	}
	if len(links) == 0 {
		return documentSkeleton(exam.Kind), nil
	}

	ids := make([]uint, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.QuestionID)
	}
	items, err := repo.QuestionBank().GetByIDs(ctx, tx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank questions: %w", err)
	}
	byID := make(map[uint]*models.QuestionBankItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	doc := documentSkeleton(exam.Kind)
	situationIndex := 0
	for i, link := range links {
		item, ok := byID[link.QuestionID]
		if !ok {
			return nil, NewBusinessRuleError("question_missing", "exam references a deleted question").
				WithContext("question_id", link.QuestionID)
		}

		number := i + 1
		switch {
		case item.Type == models.QuestionMultipleChoice:
			options, err := decodeOptions(item.Options)
			if err != nil {
				return nil, fmt.Errorf("failed to decode options for question %d: %w", item.ID, err)
			}
			doc.Questions = append(doc.Questions, answerkey.Question{
				Number:     number,
				Kind:       answerkey.KindMultipleChoice,
				Prompt:     item.Prompt,
				Options:    options,
				CorrectKey: item.Answer,
			})
		case item.Type.IsOpen():
			doc.Questions = append(doc.Questions, answerkey.Question{
				Number:     number,
				Kind:       answerkey.KindOpen,
				Prompt:     item.Prompt,
				OpenAnswer: item.Answer,
				OpenRule:   openRuleFor(item),
			})
		case item.Type == models.QuestionSituation:
			situationIndex++
			doc.Situations = append(doc.Situations, answerkey.Situation{Index: situationIndex})
		}
	}
	return doc, nil
}

func documentSkeleton(kind models.ExamKind) *answerkey.Document {
	docKind := answerkey.DocumentExam
	if kind == models.ExamKindQuiz {
		docKind = answerkey.DocumentQuiz
	}
	return &answerkey.Document{Kind: docKind}
}

// openRuleFor picks the comparison rule of an open bank item, deriving one
// from the question type when none was authored explicitly.
func openRuleFor(item *models.QuestionBankItem) *evaluator.Rule {
	if item.Rule != nil {
		return item.Rule
	}
	var rule evaluator.Rule
	switch item.Type {
	case models.QuestionOpenOrdered:
		rule = evaluator.RuleOrderedDigits
	case models.QuestionOpenUnordered:
		rule = evaluator.RuleUnorderedDigits
	default:
		rule = evaluator.RuleExactMatch
	}
	return &rule
}

func decodeOptions(raw []byte) ([]answerkey.Option, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var options []answerkey.Option
	if err := json.Unmarshal(raw, &options); err != nil {
		return nil, err
	}
	return options, nil
}

// pageOf converts a limit/offset pair to a 1-based page number for list
// responses.
func pageOf(limit, offset int) int {
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}
