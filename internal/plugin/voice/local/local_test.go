package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractKeywords(t *testing.T) {
	keywords := extractKeywords("Momentum matters. Momentum compounds, momentum wins; short a of it")
	require.NotEmpty(t, keywords)
	assert.Equal(t, "momentum", keywords[0], "most frequent long word first")
	assert.NotContains(t, keywords, "a", "short words are dropped")
	assert.NotContains(t, keywords, "of")
}

func TestExtractKeywords_TiesKeepFirstAppearance(t *testing.T) {
	keywords := extractKeywords("zebra apple zebra apple")
	assert.Equal(t, []string{"zebra", "apple"}, keywords)
}

func TestUpdateProfile_FirstSample(t *testing.T) {
	ctx := context.Background()
	s := New()

	p, err := s.UpdateProfile(ctx, "u1", "launch checklist for launch ideas worth keeping")
	require.NoError(t, err)
	assert.Equal(t, 1, p.SampleSize)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, 0.8, p.Confidence)
	assert.Equal(t, "launch", p.ToneKeywords[0])
	assert.Equal(t, p.ToneKeywords[:len(p.VocabularyPatterns["common_words"])], p.VocabularyPatterns["common_words"])
}

func TestUpdateProfile_GrowsConfidenceWithCap(t *testing.T) {
	ctx := context.Background()
	s := New()

	var confidence float64
	for i := 0; i < 5; i++ {
		p, err := s.UpdateProfile(ctx, "u1", "steady writing practice every single morning")
		require.NoError(t, err)
		confidence = p.Confidence
	}
	assert.InDelta(t, 0.95, confidence, 1e-9)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 5, p.SampleSize)
	assert.Equal(t, 5, p.Version)
}

func TestUpdateProfile_MergesKeywordsCapped(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.UpdateProfile(ctx, "u1", "alpha1 bravo2 charly delta4 echo55 fox666 golf77")
	require.NoError(t, err)
	p, err := s.UpdateProfile(ctx, "u1", "hotel8 india9 juliet kilo11 lima12")
	require.NoError(t, err)

	assert.Len(t, p.ToneKeywords, 10, "merged keywords are capped")
	assert.Equal(t, "alpha1", p.ToneKeywords[0], "existing keywords keep priority")
	assert.Equal(t, 2, p.SampleSize)
}

func TestGetProfile_MissingReturnsNil(t *testing.T) {
	p, err := New().GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
}
