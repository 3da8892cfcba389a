package models

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairSet(t *testing.T) {
	t.Run("self mode orders and drops self pairs", func(t *testing.T) {
		s := NewPairSet(true)
		assert.True(t, s.Add("3", "1"))
		assert.False(t, s.Add("1", "3"))
		assert.False(t, s.Add("2", "2"))
		assert.True(t, s.Add("1", "2"))

		assert.Equal(t, []CandidatePair{{Left: "1", Right: "2"}, {Left: "1", Right: "3"}}, s.Pairs())
		assert.True(t, s.Contains(CandidatePair{Left: "3", Right: "1"}))
	})

	t.Run("self mode keeps one pair for ids with the same integer value", func(t *testing.T) {
		s := NewPairSet(true)
		assert.True(t, s.Add("7", "07"))
		assert.False(t, s.Add("07", "7"))
		assert.Equal(t, []CandidatePair{{Left: "07", Right: "7"}}, s.Pairs())
		assert.Equal(t, CandidatePair{Left: "07", Right: "7"}, NewSelfPair("7", "07"))
	})

	t.Run("link mode keeps direction", func(t *testing.T) {
		s := NewPairSet(false)
		assert.True(t, s.Add("1", "1"))
		assert.True(t, s.Add("2", "1"))
		assert.True(t, s.Add("1", "2"))
		assert.False(t, s.Add("2", "1"))
		assert.Equal(t, 3, s.Len())
		assert.False(t, s.Contains(CandidatePair{Left: "3", Right: "1"}))
	})
}

func TestFeatureSet(t *testing.T) {
	vectors := []FeatureVector{
		{Pair: CandidatePair{Left: "1", Right: "2"}, Scores: []float64{1, 0.5}},
		{Pair: CandidatePair{Left: "1", Right: "3"}, Scores: []float64{0.2, math.NaN()}},
	}
	fs := NewFeatureSet([]string{"name", "address"}, vectors)

	t.Run("lookup by pair", func(t *testing.T) {
		v, ok := fs.Get(CandidatePair{Left: "1", Right: "2"})
		require.True(t, ok)
		assert.Equal(t, []float64{1, 0.5}, v.Scores)
	})

	t.Run("key set comparison", func(t *testing.T) {
		assert.True(t, fs.HasKeys([]CandidatePair{{Left: "1", Right: "3"}, {Left: "1", Right: "2"}}))
		assert.False(t, fs.HasKeys([]CandidatePair{{Left: "1", Right: "2"}}))
		assert.False(t, fs.HasKeys([]CandidatePair{{Left: "1", Right: "2"}, {Left: "2", Right: "3"}}))
	})

	t.Run("select reorders columns", func(t *testing.T) {
		sub, err := fs.Select([]string{"address"})
		require.NoError(t, err)
		assert.Equal(t, []string{"address"}, sub.Labels)
		assert.Equal(t, []float64{0.5}, sub.Vectors[0].Scores)
		assert.True(t, IsMissing(sub.Vectors[1].Scores[0]))
	})

	t.Run("select unknown column", func(t *testing.T) {
		_, err := fs.Select([]string{"phone"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCacheMismatch))
	})
}
