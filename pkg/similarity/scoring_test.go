package similarity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScorer_IdenticalValuesScoreOne(t *testing.T) {
	s := NewScorer()
	values := []string{"Jane Doe", "123 Main St", "x", "José Núñez", ""}

	for _, v := range values {
		assert.Equal(t, 1.0, s.ExactMatch(v, v, true), v)
		assert.Equal(t, 1.0, s.Levenshtein(v, v), v)
		assert.Equal(t, 1.0, s.JaroWinkler(v, v), v)
		assert.Equal(t, 1.0, s.SoundexMatch(v, v), v)
		assert.Equal(t, 1.0, s.MetaphoneMatch(v, v), v)
		assert.Equal(t, 0, s.LevenshteinDistance(v, v), v)
	}

	day := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1.0, s.DateProximity(day, day, 3))
	assert.Equal(t, 1.0, s.NumericProximity(250, 250, 10))
	assert.Equal(t, 1.0, s.NumericProximity(250, 250, 0))
}

func TestScorer_Levenshtein(t *testing.T) {
	s := NewScorer()

	t.Run("normalized by longer string", func(t *testing.T) {
		// "123 main st" -> "123 main street" is four insertions over 15 runes.
		assert.InDelta(t, 1.0-4.0/15.0, s.Levenshtein("123 Main St", "123 Main Street"), 1e-9)
	})

	t.Run("disjoint strings score no higher than shared prefix", func(t *testing.T) {
		disjoint := s.Levenshtein("abcd", "wxyz")
		prefixed := s.Levenshtein("abcd", "abyz")
		assert.Equal(t, 0.0, disjoint)
		assert.LessOrEqual(t, disjoint, prefixed)
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		assert.InDelta(t, 0.75, s.Levenshtein("josé", "jose"), 1e-9)
	})

	t.Run("one empty side", func(t *testing.T) {
		assert.Equal(t, 0.0, s.Levenshtein("", "abc"))
	})
}

func TestScorer_JaroWinkler(t *testing.T) {
	s := NewScorer()

	assert.InDelta(t, 0.961, s.JaroWinkler("MARTHA", "MARHTA"), 0.001)
	assert.Equal(t, 0.0, s.JaroWinkler("", "MARTHA"))

	shared := s.JaroWinkler("JOHNSON", "JOHNSTON")
	other := s.JaroWinkler("JOHNSON", "PETERSON")
	assert.Greater(t, shared, other)
}

func TestScorer_Phonetic(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, "R163", s.Soundex("Robert"))
	assert.Equal(t, 1.0, s.SoundexMatch("Robert", "Rupert"))
	assert.Equal(t, 0.0, s.SoundexMatch("Robert", ""))
	assert.Equal(t, 1.0, s.MetaphoneMatch("Smith", "Smyth"))
	assert.Equal(t, 0.0, s.MetaphoneMatch("Smith", "Jones"))
}

func TestScorer_Proximity(t *testing.T) {
	s := NewScorer()

	t.Run("numeric window", func(t *testing.T) {
		assert.InDelta(t, 0.5, s.NumericProximity(100, 105, 10), 1e-9)
		assert.Equal(t, 0.0, s.NumericProximity(100, 110, 10))
		assert.Equal(t, 0.0, s.NumericProximity(100, 200, 10))
		assert.Equal(t, 0.0, s.NumericProximity(100, 101, 0))
	})

	t.Run("date window", func(t *testing.T) {
		a := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
		b := a.AddDate(0, 0, 1)
		assert.InDelta(t, 2.0/3.0, s.DateProximity(a, b, 3), 1e-9)
		assert.Equal(t, 0.0, s.DateProximity(a, a.AddDate(0, 0, 3), 3))
		assert.Equal(t, 0.0, s.DateProximity(time.Time{}, b, 3))
	})
}

func TestScorer_WeightedScore(t *testing.T) {
	s := NewScorer()
	score := s.WeightedScore(
		map[string]float64{"name": 1.0, "address": 0.5},
		map[string]float64{"name": 3},
	)
	assert.InDelta(t, 3.5/4.0, score, 1e-9)
	assert.Equal(t, 0.0, s.WeightedScore(nil, nil))
}

func TestMethod_Valid(t *testing.T) {
	for _, m := range Methods {
		assert.True(t, m.Valid())
	}
	assert.False(t, Method("cosine").Valid())
	assert.True(t, MethodJaroWinkler.IsStringMethod())
	assert.False(t, MethodDate.IsStringMethod())
}
