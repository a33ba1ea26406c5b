package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"), "short text still costs one token")
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestRecencyScore(t *testing.T) {
	now := time.Now().UTC()

	assert.InDelta(t, 1.0, RecencyScore(now, now), 1e-9)
	assert.InDelta(t, 0.5, RecencyScore(now.Add(-14*24*time.Hour), now), 1e-9, "one half-life")
	assert.InDelta(t, 0.25, RecencyScore(now.Add(-28*24*time.Hour), now), 1e-9, "two half-lives")
	assert.InDelta(t, 1.0, RecencyScore(now.Add(time.Hour), now), 1e-9, "future timestamps score 1.0")
}
