package evaluator

import (
	"strconv"
	"strings"
)

// Rule identifies how a free-text answer is compared against its reference.
type Rule string

const (
	RuleExactMatch      Rule = "EXACT_MATCH"
	RuleOrderedMatch    Rule = "ORDERED_MATCH"
	RuleUnorderedMatch  Rule = "UNORDERED_MATCH"
	RuleNumericEqual    Rule = "NUMERIC_EQUAL"
	RuleOrderedDigits   Rule = "ORDERED_DIGITS"
	RuleUnorderedDigits Rule = "UNORDERED_DIGITS"
)

// IsValid reports whether r is one of the known comparison rules.
func (r Rule) IsValid() bool {
	switch r {
	case RuleExactMatch, RuleOrderedMatch, RuleUnorderedMatch,
		RuleNumericEqual, RuleOrderedDigits, RuleUnorderedDigits:
		return true
	}
	return false
}

// Evaluate compares a student's free-text answer against the reference answer
// under the given rule. A nil reference never matches. Unknown rules fall back
// to exact matching.
func Evaluate(student string, reference *string, rule Rule) bool {
	if reference == nil {
		return false
	}

	switch rule {
	case RuleOrderedMatch:
		return matchSequences(student, *reference, true)
	case RuleUnorderedMatch:
		return matchSequences(student, *reference, false)
	case RuleNumericEqual:
		return numericEqual(student, *reference)
	case RuleOrderedDigits:
		return sequenceEqual(extractDigits(student), extractDigits(*reference), true)
	case RuleUnorderedDigits:
		return sequenceEqual(extractDigits(student), extractDigits(*reference), false)
	default:
		return normalize(student) == normalize(*reference)
	}
}

// normalize lowercases, trims and collapses internal whitespace runs to a
// single space.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// extractDigits splits on whitespace, commas, semicolons and hyphens, then
// keeps every digit character of every fragment in order. "135" and "1, 3-5"
// both yield ["1" "3" "5"].
func extractDigits(s string) []string {
	var digits []string
	for _, fragment := range splitSeparators(s) {
		for _, r := range fragment {
			if r >= '0' && r <= '9' {
				digits = append(digits, string(r))
			}
		}
	}
	return digits
}

// matchSequences compares both sides under the *_MATCH rules. When either
// side contains a digit anywhere, only the digit characters of both sides are
// compared, so "answer: 1 2" matches "1 2". Fully non-numeric inputs compare
// as lowercased token sequences instead.
func matchSequences(student, reference string, ordered bool) bool {
	if containsDigit(student) || containsDigit(reference) {
		return sequenceEqual(extractDigits(student), extractDigits(reference), ordered)
	}
	return sequenceEqual(tokenize(student), tokenize(reference), ordered)
}

func containsDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

func tokenize(s string) []string {
	fragments := splitSeparators(s)
	tokens := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		tokens = append(tokens, strings.ToLower(fragment))
	}
	return tokens
}

func splitSeparators(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', ';', '-':
			return true
		}
		return false
	})
}

func sequenceEqual(a, b []string, ordered bool) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}

	if ordered {
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	counts := make(map[string]int, len(a))
	for _, tok := range a {
		counts[tok]++
	}
	for _, tok := range b {
		counts[tok]--
		if counts[tok] < 0 {
			return false
		}
	}
	return true
}

// numericEqual parses both sides as single decimal numbers and compares their
// values. Spaces are stripped and commas act as decimal separators, so
// "15,00" equals "15" while "1,5" does not. Inputs that are not a single
// number never match.
func numericEqual(student, reference string) bool {
	sv, ok := parseNumber(student)
	if !ok {
		return false
	}
	rv, ok := parseNumber(reference)
	if !ok {
		return false
	}
	return sv == rv
}

func parseNumber(s string) (float64, bool) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
