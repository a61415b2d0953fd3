package textnorm

import (
	"strings"
	"unicode"
)

// Trigrams returns the pg_trgm style trigram set of s: every word (run of
// letters or digits) is lowercased, padded with two leading blanks and one
// trailing blank, and cut into overlapping three-rune windows.
func Trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

// Similarity returns the trigram similarity of a and b in [0,1]: the number
// of shared trigrams divided by the number of distinct trigrams in either.
// It matches PostgreSQL pg_trgm similarity() for already-normalized input.
func Similarity(a, b string) float64 {
	ta, tb := Trigrams(a), Trigrams(b)
	return jaccard(ta, tb)
}

// Matcher scores many candidates against one query without recomputing the
// query's trigram set.
type Matcher struct {
	query    string
	trigrams map[string]struct{}
}

// NewMatcher normalizes query and precomputes its trigrams.
func NewMatcher(query string) *Matcher {
	q := Normalize(query)
	return &Matcher{query: q, trigrams: Trigrams(q)}
}

// Query returns the normalized query text.
func (m *Matcher) Query() string { return m.query }

// Similarity scores already-normalized content against the query.
func (m *Matcher) Similarity(normalizedContent string) float64 {
	return jaccard(m.trigrams, Trigrams(normalizedContent))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for g := range small {
		if _, ok := large[g]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
