// Package novelty implements the novelty gate: the predicate that rejects a
// new answer too similar to the same agent's previous answer.
//
// Text is normalized (lowercased, stop words dropped, tokenized) before
// comparison, the same "process free text into a comparable normalized form"
// shape as other text-processing helpers in this codebase, just tokenize-
// and-compare instead of truncate-and-forward.
package novelty

import (
	"strings"
	"unicode"
)

// Level is the configurable novelty gate strictness.
type Level string

const (
	Lenient  Level = "lenient"
	Balanced Level = "balanced"
	Strict   Level = "strict"
)

// thresholds maps each Level to the maximum allowed Jaccard overlap before a
// new answer is rejected as non-novel.
var thresholds = map[Level]float64{
	Balanced: 0.70,
	Strict:   0.50,
}

// stopWords is a fixed short set dropped during normalization.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "of": true,
	"to": true, "and": true, "or": true, "in": true, "on": true, "it": true,
	"this": true, "that": true, "was": true, "for": true, "with": true,
	"as": true, "be": true, "by": true, "at": true,
}

// Accepts reports whether candidate is novel enough relative to previous,
// under the given Level. An empty previous always accepts (there is nothing
// to be redundant with yet).
func Accepts(level Level, previous, candidate string) bool {
	if previous == "" {
		return true
	}
	if level == Lenient || level == "" {
		return true
	}
	threshold, ok := thresholds[level]
	if !ok {
		return true
	}
	return Jaccard(previous, candidate) <= threshold
}

// Jaccard computes the multiset Jaccard similarity between the normalized
// token sets of a and b: lowercase, split on Unicode whitespace+punctuation,
// drop stop words, compare as multiset Jaccard.
func Jaccard(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	countA := toCounts(ta)
	countB := toCounts(tb)

	intersection := 0
	union := 0
	seen := make(map[string]bool, len(countA)+len(countB))
	for tok, ca := range countA {
		cb := countB[tok]
		intersection += min(ca, cb)
		union += max(ca, cb)
		seen[tok] = true
	}
	for tok, cb := range countB {
		if !seen[tok] {
			union += cb
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// toCounts builds a per-token multiplicity map so Jaccard can compare
// multisets (bags) rather than sets: a token repeated three times in one
// answer and once in the other contributes min=1/max=3 to the ratio, not
// the set-Jaccard 1/1.
func toCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}
