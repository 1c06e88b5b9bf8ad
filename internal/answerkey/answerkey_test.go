package answerkey

import (
	"strings"
	"testing"

	"github.com/schoolcore/assessment-service/internal/evaluator"
)

func buildQuizDocument() *Document {
	doc := &Document{Kind: DocumentQuiz}
	correct := "A"
	for i := 1; i <= 12; i++ {
		doc.Questions = append(doc.Questions, Question{
			Number:     i,
			Kind:       KindMultipleChoice,
			Options:    []Option{{Key: "A", Text: "first"}, {Key: "B", Text: "second"}},
			CorrectKey: &correct,
		})
	}
	answer := "cavab"
	rule := evaluator.RuleExactMatch
	for i := 13; i <= 15; i++ {
		doc.Questions = append(doc.Questions, Question{
			Number:     i,
			Kind:       KindOpen,
			OpenAnswer: &answer,
			OpenRule:   &rule,
		})
	}
	return doc
}

func buildExamDocument() *Document {
	doc := &Document{Kind: DocumentExam}
	correct := "A"
	for i := 1; i <= 22; i++ {
		doc.Questions = append(doc.Questions, Question{
			Number:     i,
			Kind:       KindMultipleChoice,
			Options:    []Option{{Key: "A", Text: "first"}, {Key: "B", Text: "second"}},
			CorrectKey: &correct,
		})
	}
	answer := "15"
	rule := evaluator.RuleNumericEqual
	for i := 23; i <= 27; i++ {
		doc.Questions = append(doc.Questions, Question{
			Number:     i,
			Kind:       KindOpen,
			OpenAnswer: &answer,
			OpenRule:   &rule,
		})
	}
	for i := 1; i <= 3; i++ {
		doc.Situations = append(doc.Situations, Situation{Index: i, Pages: "4-5"})
	}
	return doc
}

func TestValidate_QuizComposition(t *testing.T) {
	ok, errs := Validate(buildQuizDocument())
	if !ok {
		t.Fatalf("expected valid quiz document, got errors: %v", errs)
	}
}

func TestValidate_ExamComposition(t *testing.T) {
	ok, errs := Validate(buildExamDocument())
	if !ok {
		t.Fatalf("expected valid exam document, got errors: %v", errs)
	}
}

func TestValidate_ReportsCategoryShortfall(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Document)
		keyword string
	}{
		{
			"one mc missing",
			func(d *Document) { d.Questions = d.Questions[1:] },
			"multiple choice",
		},
		{
			"one open missing",
			func(d *Document) { d.Questions = d.Questions[:len(d.Questions)-1] },
			"open",
		},
		{
			"unexpected situation",
			func(d *Document) { d.Situations = append(d.Situations, Situation{Index: 1}) },
			"situation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := buildQuizDocument()
			tt.mutate(doc)

			ok, errs := Validate(doc)
			if ok {
				t.Fatal("expected validation to fail")
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.keyword) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected an error naming %q, got %v", tt.keyword, errs)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	doc := buildQuizDocument()
	doc.Questions[0].Number = 2 // duplicate with question 2
	badKey := "Z"
	doc.Questions[3].CorrectKey = &badKey
	badRule := evaluator.Rule("FUZZY")
	doc.Questions[12].OpenRule = &badRule

	ok, errs := Validate(doc)
	if ok {
		t.Fatal("expected validation to fail")
	}
	if len(errs) < 3 {
		t.Errorf("expected every violation to be reported, got %d: %v", len(errs), errs)
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	doc := buildQuizDocument()
	doc.Kind = "homework"

	ok, errs := Validate(doc)
	if ok {
		t.Fatal("expected validation to fail for unknown document kind")
	}
	if len(errs) == 0 || !strings.Contains(errs[0], "kind") {
		t.Errorf("expected a kind error, got %v", errs)
	}
}

func TestNormalize_LegacyShapes(t *testing.T) {
	raw := map[string]any{
		"kind": "quiz",
		"questions": []any{
			map[string]any{
				"no":      float64(1),
				"type":    "closed",
				"options": []any{"Baku", "Ganja", "Sumgait"},
				"correct": float64(0),
			},
			map[string]any{
				"no":     float64(2),
				"type":   "open",
				"answer": "cavab",
				"rule":   "exact_match",
			},
		},
	}

	doc := Normalize(raw)
	if doc == nil {
		t.Fatal("expected legacy shape to be recognized")
	}

	q1 := doc.Questions[0]
	if q1.Number != 1 || q1.Kind != KindMultipleChoice {
		t.Errorf("question 1 converted wrong: %+v", q1)
	}
	if len(q1.Options) != 3 || q1.Options[0].Key != "A" || q1.Options[2].Key != "C" {
		t.Errorf("string options should receive letter keys, got %+v", q1.Options)
	}
	if q1.CorrectKey == nil || *q1.CorrectKey != "A" {
		t.Errorf("zero-based correct index should map to key A, got %v", q1.CorrectKey)
	}

	q2 := doc.Questions[1]
	if q2.Kind != KindOpen || q2.OpenAnswer == nil || *q2.OpenAnswer != "cavab" {
		t.Errorf("question 2 converted wrong: %+v", q2)
	}
	if q2.OpenRule == nil || *q2.OpenRule != evaluator.RuleExactMatch {
		t.Errorf("rule should be uppercased to EXACT_MATCH, got %v", q2.OpenRule)
	}
}

func TestNormalize_CanonicalInputReturnsNil(t *testing.T) {
	raw := map[string]any{
		"kind": "quiz",
		"questions": []any{
			map[string]any{
				"number":     float64(1),
				"kind":       "mc",
				"options":    []any{map[string]any{"key": "A", "text": "first"}},
				"correctKey": "A",
			},
		},
	}
	if doc := Normalize(raw); doc != nil {
		t.Errorf("canonical input should not match any legacy shape, got %+v", doc)
	}
}

func TestNormalizeOrCanonical_UnrecognizedReturnsNil(t *testing.T) {
	for _, raw := range []map[string]any{
		{"foo": "bar"},
		{"kind": "quiz", "questions": "not a list"},
		{},
	} {
		if doc := NormalizeOrCanonical(raw); doc != nil {
			t.Errorf("input %v should match no format, got %+v", raw, doc)
		}
	}
}

func TestNormalize_ThenValidateMatchesCanonical(t *testing.T) {
	raw := map[string]any{"kind": "quiz", "questions": []any{}}
	mcOptions := []any{"a", "b", "c"}
	for i := 1; i <= 12; i++ {
		raw["questions"] = append(raw["questions"].([]any), map[string]any{
			"no": float64(i), "type": "closed", "options": mcOptions, "correct": float64(1),
		})
	}
	for i := 13; i <= 15; i++ {
		raw["questions"] = append(raw["questions"].([]any), map[string]any{
			"no": float64(i), "type": "open", "answer": "x", "rule": "EXACT_MATCH",
		})
	}

	doc := Normalize(raw)
	if doc == nil {
		t.Fatal("expected legacy shape to be recognized")
	}

	gotOK, gotErrs := Validate(doc)
	wantOK, wantErrs := Validate(buildQuizDocument())
	if gotOK != wantOK {
		t.Errorf("normalized validation = %v (%v), canonical = %v (%v)", gotOK, gotErrs, wantOK, wantErrs)
	}
}

func TestOrderQuestions(t *testing.T) {
	questions := []Question{
		{Number: 1, Kind: KindOpen},
		{Number: 2, Kind: KindSituation},
		{Number: 3, Kind: KindMultipleChoice},
		{Number: 4, Kind: KindOpen},
		{Number: 5, Kind: KindMultipleChoice},
	}

	ordered := OrderQuestions(questions)
	wantNumbers := []int{3, 5, 1, 4, 2}
	for i, q := range ordered {
		if q.Number != wantNumbers[i] {
			t.Fatalf("position %d = question %d, want %d (full order %v)", i, q.Number, wantNumbers[i], ordered)
		}
	}
}

func TestCountQuestions(t *testing.T) {
	doc := buildExamDocument()
	counts := CountQuestions(doc)
	if counts.Closed != 22 || counts.Open != 5 || counts.Situation != 3 || counts.Total != 30 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}
