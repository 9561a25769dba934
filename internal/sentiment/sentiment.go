// Package sentiment scores mention text against fixed bullish and bearish lexicons.
package sentiment

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/rewired-gh/proporacle/internal/models"
)

const maxKeywords = 8

var (
	bullish = []string{
		"hot", "fire", "beast", "dominant", "mvp", "unstoppable", "lock", "elite", "bucket",
		"clutch", "healthy", "motivated", "rolling", "streak", "strong", "consistent", "efficient",
		"explosion", "dropped", "killing",
	}
	bearish = []string{
		"injury", "injured", "hurt", "questionable", "doubtful", "out", "miss", "slumping",
		"cold", "struggling", "bench", "rest", "limited", "suspension", "inconsistent", "slow",
		"tired", "dnp", "trade", "frustration",
	}

	polarity = buildPolarity()
)

func buildPolarity() map[string]int {
	m := make(map[string]int, len(bullish)+len(bearish))
	for _, w := range bullish {
		m[w] = 1
	}
	for _, w := range bearish {
		m[w] = -1
	}
	return m
}

// tokenize lower-cases s and splits it on anything that is not a letter.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// weight boosts high-engagement mentions logarithmically, capped at 2.
func weight(engagement float64) float64 {
	if engagement <= 0 {
		return 1
	}
	return math.Min(1+math.Log10(engagement+1)*0.3, 2)
}

// Analyze scores mentions. Each lexicon word found in a mention adds that mention's weight once.
func Analyze(mentions []models.Mention) models.SentimentScore {
	score := models.SentimentScore{Volume: len(mentions), Keywords: []string{}}
	if len(mentions) == 0 {
		return score
	}

	var bull, bear float64
	freq := make(map[string]int)
	var order []string

	for _, m := range mentions {
		w := weight(m.Engagement)
		seen := make(map[string]bool)
		for _, tok := range tokenize(m.Content) {
			p, ok := polarity[tok]
			if !ok {
				continue
			}
			if freq[tok] == 0 {
				order = append(order, tok)
			}
			freq[tok]++
			if seen[tok] {
				continue
			}
			seen[tok] = true
			if p > 0 {
				bull += w
			} else {
				bear += w
			}
		}
	}

	if total := bull + bear; total > 0 {
		score.OverallScore = math.Max(-1, math.Min(1, (bull-bear)/total))
	}
	score.BullishSignals = int(math.Round(bull))
	score.BearishSignals = int(math.Round(bear))

	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	score.Keywords = order
	return score
}
