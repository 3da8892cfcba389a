package classifier

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

func vec(left, right string, scores ...float64) models.FeatureVector {
	return models.FeatureVector{Pair: models.CandidatePair{Left: left, Right: right}, Scores: scores}
}

func TestThreshold(t *testing.T) {
	labels := []string{"name", "address"}

	t.Run("jane doe is accepted", func(t *testing.T) {
		c, err := NewThreshold(ThresholdConfig{Formula: FormulaProduct, Threshold: 0.2}, labels)
		require.NoError(t, err)

		score := c.Score(vec("1", "2", 1.0, 0.85))
		assert.InDelta(t, 0.85, score, 1e-9)
		assert.True(t, c.Decide(score))
	})

	t.Run("strictly greater than threshold", func(t *testing.T) {
		c, err := NewThreshold(ThresholdConfig{Threshold: 0.2}, labels)
		require.NoError(t, err)
		assert.False(t, c.Decide(0.2))
		assert.True(t, c.Decide(0.2000001))
	})

	t.Run("formulas skip missing features", func(t *testing.T) {
		v := vec("1", "2", 0.5, math.NaN())
		cases := map[Formula]float64{
			FormulaProduct:  0.5,
			FormulaSum:      0.5,
			FormulaMean:     0.5,
			FormulaWeighted: 0.5,
		}
		for f, want := range cases {
			c, err := NewThreshold(ThresholdConfig{Formula: f}, labels)
			require.NoError(t, err)
			assert.InDelta(t, want, c.Score(v), 1e-9, string(f))
		}

		c, err := NewThreshold(ThresholdConfig{}, labels)
		require.NoError(t, err)
		assert.Equal(t, 0.0, c.Score(vec("1", "2", math.NaN(), math.NaN())))
	})

	t.Run("weighted", func(t *testing.T) {
		c, err := NewThreshold(ThresholdConfig{Formula: FormulaWeighted, Weights: map[string]float64{"name": 3}}, labels)
		require.NoError(t, err)
		assert.InDelta(t, (3*1.0+0.5)/4, c.Score(vec("1", "2", 1.0, 0.5)), 1e-9)
		assert.InDelta(t, 0.5, c.Score(vec("1", "2", math.NaN(), 0.5)), 1e-9, "missing features carry no weight")

		zero, err := NewThreshold(ThresholdConfig{Formula: FormulaWeighted, Weights: map[string]float64{"name": 0, "address": 0}}, labels)
		require.NoError(t, err)
		assert.Equal(t, 0.0, zero.Score(vec("1", "2", 1.0, 1.0)))
	})

	t.Run("rejects bad config", func(t *testing.T) {
		_, err := NewThreshold(ThresholdConfig{Formula: "max"}, labels)
		assert.Error(t, err)
		_, err = NewThreshold(ThresholdConfig{Weights: map[string]float64{"phone": 1}}, labels)
		assert.Error(t, err)
		_, err = NewThreshold(ThresholdConfig{Weights: map[string]float64{"name": -1}}, labels)
		assert.Error(t, err)
	})
}

func TestClassify(t *testing.T) {
	c, err := NewThreshold(ThresholdConfig{Threshold: 0.2}, []string{"score"})
	require.NoError(t, err)

	fs := models.NewFeatureSet([]string{"score"}, []models.FeatureVector{
		vec("1", "10", 0.5),
		vec("1", "11", 0.9),
		vec("1", "12", 0.1),
		vec("2", "10", 0.3),
		vec("3", "12", 0.7),
		vec("3", "11", 0.7),
	})

	t.Run("no policy keeps every accepted pair", func(t *testing.T) {
		decisions, err := Classify(c, fs, BestNone)
		require.NoError(t, err)
		assert.Len(t, decisions, 6)
		assert.Len(t, Accepted(decisions), 5)
	})

	t.Run("best per left", func(t *testing.T) {
		decisions, err := Classify(c, fs, BestLeft)
		require.NoError(t, err)

		var pairs []models.CandidatePair
		for _, d := range Accepted(decisions) {
			pairs = append(pairs, d.Pair)
		}
		assert.Equal(t, []models.CandidatePair{
			{Left: "1", Right: "11"},
			{Left: "2", Right: "10"},
			{Left: "3", Right: "11"},
		}, pairs)
	})

	t.Run("best per right", func(t *testing.T) {
		decisions, err := Classify(c, fs, BestRight)
		require.NoError(t, err)

		var pairs []models.CandidatePair
		for _, d := range Accepted(decisions) {
			pairs = append(pairs, d.Pair)
		}
		assert.Equal(t, []models.CandidatePair{
			{Left: "1", Right: "10"},
			{Left: "1", Right: "11"},
			{Left: "3", Right: "12"},
		}, pairs)
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := Classify(c, fs, "most")
		assert.Error(t, err)
	})
}

func trainingExamples() []Example {
	return []Example{
		{Scores: []float64{1.0, 0.95}, Match: true},
		{Scores: []float64{0.97, 0.9}, Match: true},
		{Scores: []float64{0.92, math.NaN()}, Match: true},
		{Scores: []float64{0.3, 0.2}, Match: false},
		{Scores: []float64{0.45, 0.1}, Match: false},
		{Scores: []float64{0.2, 0.35}, Match: false},
		{Scores: []float64{0.5, math.NaN()}, Match: false},
	}
}

func TestNaiveBayes(t *testing.T) {
	labels := []string{"name", "address"}

	t.Run("zero positives is insufficient", func(t *testing.T) {
		_, err := TrainNaiveBayes(NaiveBayesConfig{}, labels, []Example{
			{Scores: []float64{0.1, 0.2}, Match: false},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrInsufficientTrainingData))
	})

	t.Run("zero negatives is insufficient", func(t *testing.T) {
		_, err := TrainNaiveBayes(NaiveBayesConfig{}, labels, []Example{
			{Scores: []float64{0.9, 0.9}, Match: true},
		})
		assert.True(t, errors.Is(err, models.ErrInsufficientTrainingData))
	})

	t.Run("no examples is insufficient", func(t *testing.T) {
		_, err := TrainNaiveBayes(NaiveBayesConfig{}, labels, nil)
		assert.True(t, errors.Is(err, models.ErrInsufficientTrainingData))
	})

	t.Run("wrong feature count", func(t *testing.T) {
		_, err := TrainNaiveBayes(NaiveBayesConfig{}, labels, []Example{{Scores: []float64{1}, Match: true}})
		require.Error(t, err)
		assert.False(t, errors.Is(err, models.ErrInsufficientTrainingData))
	})

	t.Run("separates matches from non-matches", func(t *testing.T) {
		nb, err := TrainNaiveBayes(NaiveBayesConfig{}, labels, trainingExamples())
		require.NoError(t, err)

		match := nb.Score(vec("1", "2", 0.98, 0.93))
		distinct := nb.Score(vec("1", "3", 0.25, 0.15))
		assert.Greater(t, match, 0.5)
		assert.Less(t, distinct, 0.5)
		assert.True(t, nb.Decide(match))
		assert.False(t, nb.Decide(distinct))
		assert.GreaterOrEqual(t, distinct, 0.0)
		assert.LessOrEqual(t, match, 1.0)
	})

	t.Run("save and load", func(t *testing.T) {
		nb, err := TrainNaiveBayes(NaiveBayesConfig{Bins: 5}, labels, trainingExamples())
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "model.json")
		require.NoError(t, nb.Save(path))

		loaded, err := LoadNaiveBayes(path)
		require.NoError(t, err)
		assert.Equal(t, labels, loaded.Labels())
		assert.Equal(t, 5, loaded.Model().Bins)

		for _, v := range []models.FeatureVector{vec("1", "2", 0.98, 0.93), vec("1", "3", 0.25, math.NaN())} {
			assert.InDelta(t, nb.Score(v), loaded.Score(v), 1e-12)
		}
	})

	t.Run("load rejects malformed model", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"labels":["name"],"bins":10}`), 0o644))
		_, err := LoadNaiveBayes(path)
		assert.Error(t, err)

		_, err = LoadNaiveBayes(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})
}

func TestExamples(t *testing.T) {
	fs := models.NewFeatureSet([]string{"name"}, []models.FeatureVector{
		vec("1", "2", 0.9),
		vec("1", "3", 0.1),
	})
	labels := []models.TrainingLabel{
		{Pair: models.CandidatePair{Left: "1", Right: "2"}, Match: false},
		{Pair: models.CandidatePair{Left: "1", Right: "3"}, Match: false},
		{Pair: models.CandidatePair{Left: "4", Right: "5"}, Match: true},
		{Pair: models.CandidatePair{Left: "1", Right: "2"}, Match: true},
	}

	examples := Examples(fs, labels)
	require.Len(t, examples, 2)
	assert.Equal(t, Example{Scores: []float64{0.9}, Match: true}, examples[0])
	assert.Equal(t, Example{Scores: []float64{0.1}, Match: false}, examples[1])
}
