package answerkey

import (
	"fmt"
)

// Composition is the required question count per kind for one document kind.
type Composition struct {
	MultipleChoice int
	Open           int
	Situation      int
}

func (c Composition) Total() int {
	return c.MultipleChoice + c.Open + c.Situation
}

var (
	QuizComposition = Composition{MultipleChoice: 12, Open: 3, Situation: 0}
	ExamComposition = Composition{MultipleChoice: 22, Open: 5, Situation: 3}
)

// CompositionFor returns the required composition for a document kind.
func CompositionFor(kind DocumentKind) (Composition, bool) {
	switch kind {
	case DocumentQuiz:
		return QuizComposition, true
	case DocumentExam:
		return ExamComposition, true
	}
	return Composition{}, false
}

// Validate checks a canonical document against the structural and composition
// rules. It always collects every violation instead of stopping at the first
// one, so authoring tools can display the full list.
func Validate(doc *Document) (bool, []string) {
	var errs []string

	if doc == nil {
		return false, []string{"answer key document is missing"}
	}

	composition, knownKind := CompositionFor(doc.Kind)
	if !knownKind {
		errs = append(errs, fmt.Sprintf("document kind must be %q or %q, got %q", DocumentQuiz, DocumentExam, doc.Kind))
	}

	if len(doc.Questions) == 0 {
		errs = append(errs, "question list is missing or empty")
	}

	seen := make(map[int]bool, len(doc.Questions))
	for _, q := range doc.Questions {
		if seen[q.Number] {
			errs = append(errs, fmt.Sprintf("question number %d appears more than once", q.Number))
		}
		seen[q.Number] = true

		errs = append(errs, validateQuestion(q)...)
	}

	for _, s := range doc.Situations {
		if s.Index <= 0 {
			errs = append(errs, "situation entry is missing its index reference")
		}
	}

	if knownKind && len(doc.Questions) > 0 {
		errs = append(errs, validateComposition(doc, composition)...)
	}

	return len(errs) == 0, errs
}

func validateQuestion(q Question) []string {
	var errs []string

	switch q.Kind {
	case KindMultipleChoice:
		if len(q.Options) == 0 {
			errs = append(errs, fmt.Sprintf("question %d: multiple choice question has no options", q.Number))
		}
		if q.CorrectKey != nil {
			found := false
			for _, opt := range q.Options {
				if opt.Key == *q.CorrectKey {
					found = true
					break
				}
			}
			if !found {
				errs = append(errs, fmt.Sprintf("question %d: correct key %q is not among option keys", q.Number, *q.CorrectKey))
			}
		}
	case KindOpen:
		if q.OpenRule != nil && !q.OpenRule.IsValid() {
			errs = append(errs, fmt.Sprintf("question %d: unknown comparison rule %q", q.Number, *q.OpenRule))
		}
	case KindSituation:
		// Situational entries inside the question list need no extra fields.
	default:
		errs = append(errs, fmt.Sprintf("question %d: kind must be %q, %q or %q, got %q",
			q.Number, KindMultipleChoice, KindOpen, KindSituation, q.Kind))
	}

	return errs
}

func validateComposition(doc *Document, want Composition) []string {
	var errs []string
	got := CountQuestions(doc)

	if got.Closed != want.MultipleChoice {
		errs = append(errs, fmt.Sprintf("%s must contain %d multiple choice questions, found %d",
			doc.Kind, want.MultipleChoice, got.Closed))
	}
	if got.Open != want.Open {
		errs = append(errs, fmt.Sprintf("%s must contain %d open questions, found %d",
			doc.Kind, want.Open, got.Open))
	}
	if got.Situation != want.Situation {
		errs = append(errs, fmt.Sprintf("%s must contain %d situation questions, found %d",
			doc.Kind, want.Situation, got.Situation))
	}
	if got.Total != want.Total() {
		errs = append(errs, fmt.Sprintf("%s must contain %d questions in total, found %d",
			doc.Kind, want.Total(), got.Total))
	}
	return errs
}
