package activelearning

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/labels"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

type oracle struct {
	truth  map[models.CandidatePair]bool
	answer func(q Question) Answer
	asked  []models.CandidatePair
}

func (o *oracle) Label(_ context.Context, q Question) (Answer, error) {
	o.asked = append(o.asked, q.Pair)
	if o.answer != nil {
		return o.answer(q), nil
	}
	if o.truth[q.Pair] {
		return AnswerYes, nil
	}
	return AnswerNo, nil
}

func pair(l, r string) models.CandidatePair {
	return models.CandidatePair{Left: l, Right: r}
}

func fixture(t *testing.T) (*models.FeatureSet, *models.Collection, map[models.CandidatePair]bool) {
	t.Helper()
	var records []models.Record
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		records = append(records, models.Record{ID: id, Fields: map[string]any{"name": "donor " + id}})
	}
	col, err := models.NewCollection("donors", records)
	require.NoError(t, err)

	fs := models.NewFeatureSet([]string{"name", "address"}, []models.FeatureVector{
		{Pair: pair("1", "2"), Scores: []float64{0.95, 0.9}},
		{Pair: pair("1", "3"), Scores: []float64{0.9, 0.85}},
		{Pair: pair("2", "4"), Scores: []float64{0.1, 0.2}},
		{Pair: pair("3", "5"), Scores: []float64{0.2, 0.1}},
		{Pair: pair("5", "6"), Scores: []float64{0.55, 0.45}},
		{Pair: pair("7", "8"), Scores: []float64{0.5, 0.4}},
	})
	truth := map[models.CandidatePair]bool{
		pair("1", "2"): true,
		pair("1", "3"): true,
		pair("5", "6"): true,
	}
	return fs, col, truth
}

func TestLoop_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("asks closest to boundary first", func(t *testing.T) {
		fs, col, truth := fixture(t)
		store := labels.NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())
		o := &oracle{truth: truth}

		result, err := NewLoop(testLogger(), store, o, nil, Config{MaxQuestions: 2}).Run(ctx, fs, col, nil)
		require.NoError(t, err)
		assert.Equal(t, StopMaxQuestions, result.Reason)
		assert.Equal(t, 2, result.Asked)
		assert.Equal(t, []models.CandidatePair{pair("5", "6"), pair("7", "8")}, o.asked)
		assert.Equal(t, 1, result.Matches)
		assert.Equal(t, 1, result.Distincts)
		assert.NotNil(t, result.Model)
	})

	t.Run("finished immediately", func(t *testing.T) {
		fs, col, _ := fixture(t)
		store := labels.NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())
		o := &oracle{answer: func(Question) Answer { return AnswerFinished }}

		result, err := NewLoop(testLogger(), store, o, nil, Config{}).Run(ctx, fs, col, nil)
		require.NoError(t, err)
		assert.Equal(t, StopFinished, result.Reason)
		assert.Equal(t, 0, result.Asked)
		assert.Nil(t, result.Model)

		set, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, set.Len())
	})

	t.Run("labels every pair then stops", func(t *testing.T) {
		fs, col, truth := fixture(t)
		store := labels.NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())

		result, err := NewLoop(testLogger(), store, &oracle{truth: truth}, nil, Config{}).Run(ctx, fs, col, nil)
		require.NoError(t, err)
		assert.Equal(t, StopExhausted, result.Reason)
		assert.Equal(t, 6, result.Asked)
		assert.Equal(t, 3, result.Matches)
		assert.Equal(t, 3, result.Distincts)

		set, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, set.Len())
		require.NotNil(t, result.Model)
		v, _ := fs.Get(pair("1", "2"))
		assert.Greater(t, result.Model.Score(v), 0.5)
	})

	t.Run("previous session labels are not asked again", func(t *testing.T) {
		fs, col, truth := fixture(t)
		store := labels.NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())
		require.NoError(t, store.Append(ctx, models.TrainingLabel{Pair: pair("5", "6"), Match: true}))
		o := &oracle{truth: truth}

		result, err := NewLoop(testLogger(), store, o, nil, Config{}).Run(ctx, fs, col, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, result.Asked)
		assert.NotContains(t, o.asked, pair("5", "6"))
	})

	t.Run("unsure pairs are skipped", func(t *testing.T) {
		fs, col, _ := fixture(t)
		store := labels.NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())
		o := &oracle{answer: func(Question) Answer { return AnswerUnsure }}

		result, err := NewLoop(testLogger(), store, o, nil, Config{}).Run(ctx, fs, col, nil)
		require.NoError(t, err)
		assert.Equal(t, StopExhausted, result.Reason)
		assert.Equal(t, 6, result.Unsure)

		set, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, set.Len())
	})

	t.Run("stops at recall target", func(t *testing.T) {
		fs, col, truth := fixture(t)
		store := labels.NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())
		validation := labels.NewSet(
			models.TrainingLabel{Pair: pair("1", "2"), Match: true},
			models.TrainingLabel{Pair: pair("1", "3"), Match: true},
			models.TrainingLabel{Pair: pair("2", "4"), Match: false},
		)

		result, err := NewLoop(testLogger(), store, &oracle{truth: truth}, validation, Config{RecallTarget: 1}).Run(ctx, fs, col, nil)
		require.NoError(t, err)
		assert.Equal(t, StopRecall, result.Reason)
		assert.Equal(t, 1.0, result.Recall)
		assert.Equal(t, 3, result.Asked)
	})

	t.Run("measures recall at session end without a target", func(t *testing.T) {
		fs, col, truth := fixture(t)
		store := labels.NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())
		validation := labels.NewSet(
			models.TrainingLabel{Pair: pair("1", "2"), Match: true},
			models.TrainingLabel{Pair: pair("1", "3"), Match: true},
		)

		result, err := NewLoop(testLogger(), store, &oracle{truth: truth}, validation, Config{}).Run(ctx, fs, col, nil)
		require.NoError(t, err)
		assert.Equal(t, StopExhausted, result.Reason)
		assert.True(t, result.RecallMeasured)
		assert.GreaterOrEqual(t, result.Recall, 0.5)
	})

	t.Run("recall is not measured without a model", func(t *testing.T) {
		fs, col, _ := fixture(t)
		store := labels.NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())
		validation := labels.NewSet(models.TrainingLabel{Pair: pair("1", "2"), Match: true})
		o := &oracle{answer: func(Question) Answer { return AnswerFinished }}

		result, err := NewLoop(testLogger(), store, o, validation, Config{}).Run(ctx, fs, col, nil)
		require.NoError(t, err)
		assert.False(t, result.RecallMeasured)
		assert.Zero(t, result.Recall)
	})

	t.Run("cancelled", func(t *testing.T) {
		fs, col, truth := fixture(t)
		store := labels.NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewLoop(testLogger(), store, &oracle{truth: truth}, nil, Config{}).Run(cctx, fs, col, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConsoleLabeler(t *testing.T) {
	ctx := context.Background()
	q := Question{
		Pair:  pair("1", "2"),
		Left:  models.Record{ID: "1", Fields: map[string]any{"name": "Jane Doe", "city": "Minneapolis"}},
		Right: models.Record{ID: "2", Fields: map[string]any{"name": "Jane Doe"}},
		Score: 0.5,
	}

	t.Run("reprompts on invalid input", func(t *testing.T) {
		var out bytes.Buffer
		l := NewConsoleLabeler(strings.NewReader("maybe\nY\n"), &out, nil)
		answer, err := l.Label(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, AnswerYes, answer)
		assert.Contains(t, out.String(), "Please answer")
		assert.Contains(t, out.String(), "Jane Doe")
		assert.Contains(t, out.String(), "city")
	})

	t.Run("answers", func(t *testing.T) {
		cases := map[string]Answer{"n\n": AnswerNo, "unsure\n": AnswerUnsure, "f\n": AnswerFinished, "yes": AnswerYes}
		for input, want := range cases {
			answer, err := NewConsoleLabeler(strings.NewReader(input), &bytes.Buffer{}, []string{"name"}).Label(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, want, answer, input)
		}
	})

	t.Run("end of input finishes", func(t *testing.T) {
		answer, err := NewConsoleLabeler(strings.NewReader(""), &bytes.Buffer{}, nil).Label(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, AnswerFinished, answer)
	})
}
