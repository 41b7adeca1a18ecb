// Package anticheat scores interview answers for integrity problems.
package anticheat

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text, replaces every character outside [a-z0-9] and
// space, tab or newline with a space, and splits on whitespace runs.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '\t', r == '\n':
			return r
		default:
			return ' '
		}
	}, lowered)
	return strings.FieldsFunc(cleaned, unicode.IsSpace)
}

// WordCount returns the number of tokens produced by Tokenize.
func WordCount(text string) int {
	return len(Tokenize(text))
}

func tokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Similarity returns the set-overlap ratio of the token sets of a and b:
// intersection size over union size. Two texts without tokens are identical.
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	return overlap(setA, setB)
}

func overlap(setA, setB map[string]struct{}) float64 {
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	small, large := setA, setB
	if len(small) > len(large) {
		small, large = large, small
	}

	intersection := 0
	for t := range small {
		if _, ok := large[t]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
