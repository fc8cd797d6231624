package retriever

import (
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"supportkb/config"
)

// Scorer assigns keyword relevance scores to chunk text. Matching is
// case-insensitive substring containment; there is no stemming and no
// tokenization of the chunk side, which keeps it usable for Japanese text.
type Scorer struct {
	weights   config.ScoringConfig
	highValue []string
}

func NewScorer(weights config.ScoringConfig, highValueTerms []string) *Scorer {
	return &Scorer{
		weights:   weights,
		highValue: lo.Map(highValueTerms, func(t string, _ int) string { return strings.ToLower(t) }),
	}
}

// Query is a parsed search query.
type Query struct {
	single    bool
	term      string
	highValue bool
	tokens    []string
	phrase    string
}

// Single reports whether the query is scored in single-keyword mode.
func (q Query) Single() bool {
	return q.single
}

// Tokens returns the tokens scored in multi-token mode.
func (q Query) Tokens() []string {
	return q.tokens
}

// Parse prepares a query. It returns false when the query can match nothing.
//
// A query that is exactly one whitespace-delimited token of at least
// MinSingleRunes runes is a single keyword. Anything else is scored per
// token, ignoring tokens shorter than MinTokenRunes.
func (s *Scorer) Parse(query string) (Query, bool) {
	phrase := strings.ToLower(strings.TrimSpace(query))
	if phrase == "" {
		return Query{}, false
	}

	fields := strings.Fields(phrase)
	if len(fields) == 1 && utf8.RuneCountInString(phrase) >= s.weights.MinSingleRunes {
		return Query{
			single:    true,
			term:      phrase,
			highValue: lo.Contains(s.highValue, phrase),
		}, true
	}

	tokens := lo.Filter(fields, func(t string, _ int) bool {
		return utf8.RuneCountInString(t) >= s.weights.MinTokenRunes
	})
	if len(tokens) == 0 {
		return Query{}, false
	}

	q := Query{tokens: tokens}
	if len(fields) > 1 {
		q.phrase = phrase
	}
	return q, true
}

// Score returns the score of text for q. Zero means no match.
func (s *Scorer) Score(q Query, text string) float64 {
	lower := strings.ToLower(text)

	if q.single {
		n := strings.Count(lower, q.term)
		if n == 0 {
			return 0
		}
		score := s.weights.ExactMatch
		if q.highValue {
			score += s.weights.HighValueBonus
		}
		score += s.weights.RepeatBonus * float64(n-1)
		return score
	}

	var score float64
	for _, t := range q.tokens {
		if strings.Contains(lower, t) {
			score += s.weights.TokenMatch
		}
	}
	if q.phrase != "" && strings.Contains(lower, q.phrase) {
		score += s.weights.PhraseBonus
	}
	return score
}
