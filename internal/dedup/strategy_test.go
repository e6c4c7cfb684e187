package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenOverlap_Similarity(t *testing.T) {
	s := TokenOverlap{}

	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical", "new release out now", "new release out now", 1},
		{"reordered tokens", "release new now out", "new release out now", 1},
		{"case folded", "New Release OUT now", "new release out now", 1},
		{"no overlap", "alpha beta", "gamma delta", 0},
		{"half overlap", "a b c d", "a b x y", 1.0 / 3.0},
		{"both empty", "", "", 1},
		{"one empty", "hello", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, s.Similarity(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.expected, s.Similarity(tt.b, tt.a), 1e-9, "must be symmetric")
		})
	}
}

func TestLevenshtein_Similarity(t *testing.T) {
	s := Levenshtein{}

	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical", "kitten", "kitten", 1},
		{"classic distance", "kitten", "sitting", 1 - 3.0/7.0},
		{"case folded identical", "KITTEN", "kitten", 1},
		{"completely different", "abc", "xyz", 0},
		{"both empty", "", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, s.Similarity(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.expected, s.Similarity(tt.b, tt.a), 1e-9, "must be symmetric")
		})
	}
}

func TestNormalize(t *testing.T) {
	// NFKC folds compatibility characters, case folding removes case.
	assert.Equal(t, normalize("Hello"), normalize("hello"))
	assert.Equal(t, normalize("  padded  "), normalize("padded"))
	// Full-width latin compatibility forms collapse to ASCII.
	assert.Equal(t, normalize("ＡＢＣ"), normalize("abc"))
}

func TestStrategyByName(t *testing.T) {
	assert.Equal(t, "levenshtein", StrategyByName("levenshtein").Name())
	assert.Equal(t, "token_overlap", StrategyByName("token_overlap").Name())
	assert.Equal(t, "token_overlap", StrategyByName("").Name(), "unknown names default to token overlap")
}
