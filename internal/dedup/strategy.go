package dedup

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Strategy scores how similar two rendered messages are, in [0,1].
// Implementations must be symmetric and safe for concurrent use.
type Strategy interface {
	// Similarity returns 1 for identical content, 0 for unrelated content.
	Similarity(a, b string) float64
	// Name identifies the strategy in logs and skip reasons.
	Name() string
}

var foldCaser = cases.Fold()

// normalize case-folds and NFKC-normalizes text so that visually equivalent
// content compares equal across strategies.
func normalize(s string) string {
	return foldCaser.String(norm.NFKC.String(strings.TrimSpace(s)))
}

// TokenOverlap scores messages by Jaccard similarity over normalized
// whitespace-separated tokens. It is cheap and robust against small edits
// and reordering, which makes it the default strategy.
type TokenOverlap struct{}

// Name implements Strategy.
func (TokenOverlap) Name() string { return "token_overlap" }

// Similarity implements Strategy.
func (TokenOverlap) Similarity(a, b string) float64 {
	ta := tokenSet(normalize(a))
	tb := tokenSet(normalize(b))

	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

// Levenshtein scores messages by normalized edit distance:
// 1 - distance/maxLen. More sensitive to ordering than token overlap.
type Levenshtein struct{}

// Name implements Strategy.
func (Levenshtein) Name() string { return "levenshtein" }

// Similarity implements Strategy.
func (Levenshtein) Similarity(a, b string) float64 {
	ra := []rune(normalize(a))
	rb := []rune(normalize(b))

	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}

	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}

	dist := editDistance(ra, rb)
	return 1 - float64(dist)/float64(maxLen)
}

// editDistance computes Levenshtein distance with a two-row table.
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// StrategyByName returns the named strategy, defaulting to token overlap.
func StrategyByName(name string) Strategy {
	switch name {
	case "levenshtein":
		return Levenshtein{}
	default:
		return TokenOverlap{}
	}
}
