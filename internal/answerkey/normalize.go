package answerkey

import (
	"fmt"
	"strings"

	"github.com/schoolcore/assessment-service/internal/evaluator"
)

// shapeDetector pairs a recognizer for one non-canonical authoring shape with
// its converter. Detectors run in order; the first match wins. New legacy
// formats are added here without touching validation.
type shapeDetector struct {
	name    string
	detect  func(raw map[string]any) bool
	convert func(raw map[string]any) *Document
}

var shapeDetectors = []shapeDetector{
	{
		name:    "aliased-number-fields",
		detect:  hasAliasedNumbers,
		convert: convertLegacyDocument,
	},
	{
		name:    "legacy-kind-labels",
		detect:  hasLegacyKinds,
		convert: convertLegacyDocument,
	},
	{
		name:    "indexed-string-options",
		detect:  hasIndexedOptions,
		convert: convertLegacyDocument,
	},
}

// Normalize converts a loosely structured authoring document into the
// canonical schema. It returns nil when the input does not resemble any known
// non-canonical shape; the caller then treats the input as already canonical.
func Normalize(raw map[string]any) *Document {
	if raw == nil {
		return nil
	}
	for _, d := range shapeDetectors {
		if d.detect(raw) {
			return d.convert(raw)
		}
	}
	return nil
}

// NormalizeOrCanonical normalizes legacy input, or decodes the input as an
// already canonical document when no legacy shape matches. It returns nil
// when the input matches no known format at all.
func NormalizeOrCanonical(raw map[string]any) *Document {
	if doc := Normalize(raw); doc != nil {
		return doc
	}
	return decodeCanonical(raw)
}

func rawQuestions(raw map[string]any) []map[string]any {
	list, ok := raw["questions"].([]any)
	if !ok {
		return nil
	}
	questions := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			questions = append(questions, m)
		}
	}
	return questions
}

func hasAliasedNumbers(raw map[string]any) bool {
	for _, q := range rawQuestions(raw) {
		if _, ok := q["number"]; ok {
			continue
		}
		for _, alias := range []string{"no", "num", "questionNumber", "question_number"} {
			if _, ok := q[alias]; ok {
				return true
			}
		}
	}
	return false
}

func hasLegacyKinds(raw map[string]any) bool {
	for _, q := range rawQuestions(raw) {
		kind := strings.ToLower(stringValue(q, "kind", "type"))
		switch kind {
		case "closed", "multiple_choice", "choice", "situational", "free", "text":
			return true
		}
	}
	return false
}

func hasIndexedOptions(raw map[string]any) bool {
	for _, q := range rawQuestions(raw) {
		options, ok := q["options"].([]any)
		if !ok {
			continue
		}
		for _, opt := range options {
			if _, isString := opt.(string); isString {
				return true
			}
		}
		if _, isNumber := q["correct"].(float64); isNumber {
			return true
		}
	}
	return false
}

// convertLegacyDocument rewrites any combination of the known legacy traits
// into the canonical shape. Converters share this because legacy documents
// routinely mix several traits at once.
func convertLegacyDocument(raw map[string]any) *Document {
	doc := &Document{Kind: documentKind(raw)}

	for _, q := range rawQuestions(raw) {
		question := Question{
			Number: intValue(q, "number", "no", "num", "questionNumber", "question_number"),
			Kind:   questionKind(q),
			Prompt: stringValue(q, "prompt", "text", "question"),
		}

		question.Options, question.CorrectKey = convertOptions(q)

		if question.Kind == KindOpen {
			if answer := stringValue(q, "openAnswer", "open_answer", "answer"); answer != "" {
				question.OpenAnswer = &answer
			}
			if rule := stringValue(q, "openRule", "open_rule", "rule"); rule != "" {
				r := evaluator.Rule(strings.ToUpper(rule))
				question.OpenRule = &r
			}
		}

		doc.Questions = append(doc.Questions, question)
	}

	doc.Situations = convertSituations(raw)
	return doc
}

func convertOptions(q map[string]any) ([]Option, *string) {
	list, ok := q["options"].([]any)
	if !ok {
		return nil, correctKeyValue(q, nil)
	}

	options := make([]Option, 0, len(list))
	for i, item := range list {
		switch opt := item.(type) {
		case string:
			options = append(options, Option{Key: optionKeyForIndex(i), Text: opt})
		case map[string]any:
			key := stringValue(opt, "key", "id")
			if key == "" {
				key = optionKeyForIndex(i)
			}
			options = append(options, Option{Key: key, Text: stringValue(opt, "text", "label", "value")})
		}
	}
	return options, correctKeyValue(q, options)
}

// correctKeyValue resolves the correct answer, accepting both a key string
// and a legacy zero-based option index.
func correctKeyValue(q map[string]any, options []Option) *string {
	for _, field := range []string{"correctKey", "correct_key", "correct"} {
		switch v := q[field].(type) {
		case string:
			if v != "" {
				key := v
				return &key
			}
		case float64:
			idx := int(v)
			if idx >= 0 && idx < len(options) {
				key := options[idx].Key
				return &key
			}
		}
	}
	return nil
}

func convertSituations(raw map[string]any) []Situation {
	list, ok := raw["situations"].([]any)
	if !ok {
		return nil
	}
	situations := make([]Situation, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := Situation{
			Index: intValue(m, "index", "no", "num"),
			Pages: stringValue(m, "pages", "page"),
		}
		if s.Index == 0 {
			s.Index = i + 1
		}
		situations = append(situations, s)
	}
	return situations
}

func documentKind(raw map[string]any) DocumentKind {
	switch strings.ToLower(stringValue(raw, "kind", "type")) {
	case "exam":
		return DocumentExam
	default:
		return DocumentQuiz
	}
}

func questionKind(q map[string]any) QuestionKind {
	switch strings.ToLower(stringValue(q, "kind", "type")) {
	case "mc", "closed", "multiple_choice", "choice":
		return KindMultipleChoice
	case "situation", "situational":
		return KindSituation
	default:
		return KindOpen
	}
}

func decodeCanonical(raw map[string]any) *Document {
	if _, ok := raw["questions"].([]any); !ok {
		// Not canonical either; the document matches no known format.
		return nil
	}

	doc := &Document{Kind: DocumentKind(stringValue(raw, "kind"))}
	for _, q := range rawQuestions(raw) {
		question := Question{
			Number: intValue(q, "number"),
			Kind:   QuestionKind(stringValue(q, "kind")),
			Prompt: stringValue(q, "prompt"),
		}
		if list, ok := q["options"].([]any); ok {
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					question.Options = append(question.Options, Option{
						Key:  stringValue(m, "key"),
						Text: stringValue(m, "text"),
					})
				}
			}
		}
		if v, ok := q["correctKey"].(string); ok && v != "" {
			question.CorrectKey = &v
		}
		if v, ok := q["openAnswer"].(string); ok && v != "" {
			question.OpenAnswer = &v
		}
		if v, ok := q["openRule"].(string); ok && v != "" {
			r := evaluator.Rule(v)
			question.OpenRule = &r
		}
		doc.Questions = append(doc.Questions, question)
	}
	doc.Situations = convertSituations(raw)
	return doc
}

func optionKeyForIndex(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return fmt.Sprintf("O%d", i+1)
}

func stringValue(m map[string]any, fields ...string) string {
	for _, field := range fields {
		if v, ok := m[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intValue(m map[string]any, fields ...string) int {
	for _, field := range fields {
		switch v := m[field].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}
