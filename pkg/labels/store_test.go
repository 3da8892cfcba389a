package labels

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func label(left, right string, match bool) models.TrainingLabel {
	return models.TrainingLabel{
		Pair:      models.CandidatePair{Left: left, Right: right},
		Match:     match,
		Source:    models.LabelSourceHuman,
		LabeledAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is empty", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "labels.jsonl"), testLogger())
		set, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, set.Len())
	})

	t.Run("appends accumulate across sessions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "training", "labels.jsonl")

		first := NewStore(path, testLogger())
		require.NoError(t, first.Append(ctx, label("1", "2", true), label("1", "3", false)))

		second := NewStore(path, testLogger())
		require.NoError(t, second.Append(ctx, label("1", "3", true)))
		require.NoError(t, second.Append(ctx))

		set, err := NewStore(path, testLogger()).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, set.Len())

		l, ok := set.Get(models.CandidatePair{Left: "1", Right: "3"})
		require.True(t, ok)
		assert.True(t, l.Match, "later label wins")
		assert.Equal(t, models.LabelSourceHuman, l.Source)

		matches, distincts := set.Counts()
		assert.Equal(t, 2, matches)
		assert.Equal(t, 0, distincts)
	})

	t.Run("replace rewrites the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "labels.jsonl")
		s := NewStore(path, testLogger())
		require.NoError(t, s.Append(ctx, label("1", "2", true), label("1", "3", false)))
		require.NoError(t, s.Replace(ctx, []models.TrainingLabel{label("5", "6", false)}))

		set, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.TrainingLabel{label("5", "6", false)}, set.Labels())
	})

	t.Run("malformed lines are skipped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "labels.jsonl")
		s := NewStore(path, testLogger())
		require.NoError(t, s.Append(ctx, label("1", "2", true)))

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString("{not json\n\n{\"pair\":{\"left\":\"\",\"right\":\"4\"}}\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())
		require.NoError(t, s.Append(ctx, label("2", "3", false)))

		set, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, set.Len())
	})
}

func TestSet(t *testing.T) {
	s := NewSet(label("1", "2", true), label("3", "4", false))
	other := NewSet(label("3", "4", true), label("5", "6", false))
	s.Merge(other)

	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has(models.CandidatePair{Left: "5", Right: "6"}))
	assert.False(t, s.Has(models.CandidatePair{Left: "6", Right: "5"}))

	got := s.Labels()
	assert.Equal(t, "3", got[1].Pair.Left)
	assert.True(t, got[1].Match)

	matches, distincts := s.Counts()
	assert.Equal(t, 2, matches)
	assert.Equal(t, 1, distincts)
}
