package answerkey

import (
	"encoding/json"
	"sort"

	"github.com/schoolcore/assessment-service/internal/evaluator"
)

// DocumentKind is the declared assessment kind of an answer key document.
type DocumentKind string

const (
	DocumentQuiz DocumentKind = "quiz"
	DocumentExam DocumentKind = "exam"
)

// QuestionKind classifies a single answer key entry.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "mc"
	KindOpen           QuestionKind = "open"
	KindSituation      QuestionKind = "situation"
)

// Option is one selectable choice of a multiple choice question. Keys are the
// stable identifiers answers are matched by; display position is never used.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question is a single canonical answer key entry.
type Question struct {
	Number     int             `json:"number"`
	Kind       QuestionKind    `json:"kind"`
	Prompt     string          `json:"prompt,omitempty"`
	Options    []Option        `json:"options,omitempty"`
	CorrectKey *string         `json:"correctKey,omitempty"`
	OpenAnswer *string         `json:"openAnswer,omitempty"`
	OpenRule   *evaluator.Rule `json:"openRule,omitempty"`
}

// Situation is a separately listed situational task, referenced by index.
type Situation struct {
	Index int    `json:"index"`
	Pages string `json:"pages,omitempty"`
}

// Document is the canonical answer key schema. All authoring format variants
// are converted into this shape before validation or scoring.
type Document struct {
	Kind       DocumentKind `json:"kind"`
	Questions  []Question   `json:"questions"`
	Situations []Situation  `json:"situations,omitempty"`
}

// Counts aggregates question kinds of a document.
type Counts struct {
	Closed    int `json:"closed"`
	Open      int `json:"open"`
	Situation int `json:"situation"`
	Total     int `json:"total"`
}

// CountQuestions tallies the document's questions by kind. Situations listed
// in the separate collection count toward the situation total.
func CountQuestions(doc *Document) Counts {
	c := Counts{}
	if doc == nil {
		return c
	}
	for _, q := range doc.Questions {
		switch q.Kind {
		case KindMultipleChoice:
			c.Closed++
		case KindOpen:
			c.Open++
		case KindSituation:
			c.Situation++
		}
	}
	c.Situation += len(doc.Situations)
	c.Total = len(doc.Questions) + len(doc.Situations)
	return c
}

// OrderQuestions returns the document's questions in display order: multiple
// choice first, then open, then situation, each block keeping its authored
// order. The input slice is not modified.
func OrderQuestions(questions []Question) []Question {
	ordered := make([]Question, len(questions))
	copy(ordered, questions)

	rank := func(k QuestionKind) int {
		switch k {
		case KindMultipleChoice:
			return 0
		case KindOpen:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i].Kind) < rank(ordered[j].Kind)
	})
	return ordered
}

// QuestionByNumber finds a question by its authored number.
func (d *Document) QuestionByNumber(number int) (*Question, bool) {
	for i := range d.Questions {
		if d.Questions[i].Number == number {
			return &d.Questions[i], true
		}
	}
	return nil, false
}

// Parse decodes a stored canonical document. Callers that accept authoring
// input should run Normalize first.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
