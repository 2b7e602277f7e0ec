package common

import "strings"

// Lexicon scores text by counting which of its positive and negative words
// appear. Each word counts at most once.
type Lexicon struct {
	Positive []string
	Negative []string
}

var (
	NewsLexicon = Lexicon{
		Positive: []string{"good", "great", "excellent", "positive", "growth", "profit", "gain"},
		Negative: []string{"bad", "poor", "negative", "loss", "decline", "drop", "fall"},
	}
	SocialLexicon = Lexicon{
		Positive: []string{"bullish", "moon", "rocket", "buy", "long", "calls", "green"},
		Negative: []string{"bearish", "crash", "sell", "short", "puts", "red", "dump"},
	}
)

// Score returns (pos-neg)/(pos+neg) in [-1, 1], or 0 when no word matches.
func (l Lexicon) Score(text string) float64 {
	lower := strings.ToLower(text)
	pos := countPresent(lower, l.Positive)
	neg := countPresent(lower, l.Negative)
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

func countPresent(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
