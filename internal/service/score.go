package service

import (
	"math"
	"time"
)

// RecencyHalfLife is the half-life used by the recency score.
const RecencyHalfLife = 14 * 24 * time.Hour

// EstimateTokens approximates the token cost of text at ~4 chars per token.
// Empty text costs zero; any non-empty text costs at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// RecencyScore maps the age of createdAt relative to now onto (0, 1]:
// 1.0 at the moment of creation, halving every RecencyHalfLife.
// Timestamps in the future score 1.0.
func RecencyScore(createdAt, now time.Time) float64 {
	delta := now.Sub(createdAt).Seconds()
	if delta < 0 {
		delta = 0
	}
	return math.Pow(0.5, delta/RecencyHalfLife.Seconds())
}
