package clustering

import (
	"context"
	"math/rand"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func accept(left, right string, score float64) models.MatchDecision {
	return models.MatchDecision{Pair: models.CandidatePair{Left: left, Right: right}, Score: score, Accepted: true}
}

func partition(clusters []models.EntityCluster) [][]string {
	out := make([][]string, len(clusters))
	for i, c := range clusters {
		out[i] = c.MemberIDs()
	}
	return out
}

func TestClusterer_Cluster(t *testing.T) {
	ctx := context.Background()
	c := NewClusterer(testLogger())

	t.Run("transitive closure", func(t *testing.T) {
		clusters := c.Cluster(ctx, []models.MatchDecision{
			accept("A", "B", 0.9),
			accept("B", "C", 0.6),
		})
		require.Len(t, clusters, 1)
		assert.Equal(t, "A", clusters[0].CanonicalID)
		assert.Equal(t, []models.ClusterMember{
			{RecordID: "A", Score: 0.9},
			{RecordID: "B", Score: 0.9},
			{RecordID: "C", Score: 0.6},
		}, clusters[0].Members)
	})

	t.Run("jane doe pair forms one cluster", func(t *testing.T) {
		clusters := c.Cluster(ctx, []models.MatchDecision{accept("2", "1", 0.85)})
		require.Len(t, clusters, 1)
		assert.Equal(t, "1", clusters[0].CanonicalID)
		assert.Equal(t, []string{"1", "2"}, clusters[0].MemberIDs())
	})

	t.Run("rejected decisions and singletons", func(t *testing.T) {
		clusters := c.Cluster(ctx, []models.MatchDecision{
			accept("1", "2", 0.5),
			{Pair: models.CandidatePair{Left: "2", Right: "3"}, Score: 0.1},
			accept("10", "4", 0.7),
		})
		assert.Equal(t, [][]string{{"1", "2"}, {"4", "10"}}, partition(clusters))

		idx := NewIndex(clusters)
		assert.Equal(t, "1", idx.Canonical("2"))
		assert.Equal(t, "4", idx.Canonical("10"))
		assert.Equal(t, "3", idx.Canonical("3"), "unclustered record is its own canonical id")

		_, ok := idx.Entry("3")
		assert.False(t, ok)
		entries := idx.Entries()
		require.Len(t, entries, 4)
		assert.Equal(t, "1", entries[0].RecordID)
		assert.Equal(t, "10", entries[3].RecordID)
	})

	t.Run("same partition regardless of edge order", func(t *testing.T) {
		decisions := []models.MatchDecision{
			accept("1", "2", 0.9),
			accept("3", "4", 0.8),
			accept("2", "5", 0.4),
			accept("6", "7", 0.3),
			accept("4", "6", 0.6),
			accept("8", "9", 0.5),
			accept("5", "1", 0.7),
		}
		want := c.Cluster(ctx, decisions)
		assert.Equal(t, [][]string{{"1", "2", "5"}, {"3", "4", "6", "7"}, {"8", "9"}}, partition(want))

		rng := rand.New(rand.NewSource(7))
		for i := 0; i < 20; i++ {
			shuffled := append([]models.MatchDecision(nil), decisions...)
			rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
			assert.Equal(t, want, c.Cluster(ctx, shuffled))
		}
	})

	t.Run("no accepted pairs", func(t *testing.T) {
		assert.Empty(t, c.Cluster(ctx, nil))
	})

	t.Run("clusters partition records", func(t *testing.T) {
		var decisions []models.MatchDecision
		for i := 0; i < 200; i++ {
			decisions = append(decisions, accept(string(rune('a'+i%26)), string(rune('a'+(i*7)%26)), 0.5))
		}
		seen := make(map[string]bool)
		for _, cl := range c.Cluster(ctx, decisions) {
			for _, id := range cl.MemberIDs() {
				assert.False(t, seen[id], "record %s in two clusters", id)
				seen[id] = true
			}
		}
	})
}

func TestBuildProfile(t *testing.T) {
	records, err := models.NewCollection("donors", []models.Record{
		{ID: "1", Fields: map[string]any{"name": "Jane Doe", "amount": 100.0, "city": "Minneapolis"}},
		{ID: "2", Fields: map[string]any{"name": "Jane Q. Doe", "amount": 50.0, "city": "Minneapolis"}},
		{ID: "3", Fields: map[string]any{"name": "J Doe", "amount": int64(25), "city": nil}},
	})
	require.NoError(t, err)

	cluster := models.EntityCluster{CanonicalID: "1", Members: []models.ClusterMember{
		{RecordID: "1"}, {RecordID: "2"}, {RecordID: "3"}, {RecordID: "99"},
	}}

	profile := BuildProfile(cluster, records, []FieldStrategy{
		{Field: "name", Strategy: MergeStrategyLongestValue},
		{Field: "amount", Strategy: MergeStrategySum},
		{Field: "city", Strategy: MergeStrategyMostCommon},
		{Field: "phone", Strategy: MergeStrategyFirst},
	})

	assert.Equal(t, "1", profile.CanonicalID)
	assert.Equal(t, 4, profile.Size)
	assert.Equal(t, "Jane Q. Doe", profile.Fields["name"])
	assert.Equal(t, 175.0, profile.Fields["amount"])
	assert.Equal(t, "Minneapolis", profile.Fields["city"])
	assert.Nil(t, profile.Fields["phone"])
}

func TestMergeField(t *testing.T) {
	values := []any{"b", 3.0, "a", int64(5), "b"}

	cases := []struct {
		strategy MergeStrategy
		want     any
	}{
		{MergeStrategyFirst, "b"},
		{MergeStrategyMostCommon, "b"},
		{MergeStrategyMax, 5.0},
		{MergeStrategyMin, 3.0},
		{MergeStrategySum, 8.0},
		{MergeStrategyAverage, 4.0},
		{MergeStrategyShortestValue, "b"},
		{MergeStrategyPreferNonEmpty, "b"},
		{MergeStrategyCollectAll, []any{3.0, int64(5), "a", "b"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			assert.Equal(t, tc.want, mergeField(values, FieldStrategy{Strategy: tc.strategy}))
		})
	}

	assert.Equal(t, []any{3.0}, mergeField(values, FieldStrategy{Strategy: MergeStrategyCollectAll, MaxItems: 1}))
	assert.Nil(t, mergeField(nil, FieldStrategy{Strategy: MergeStrategySum}))
	assert.Nil(t, mergeField([]any{"x"}, FieldStrategy{Strategy: MergeStrategyMax}))
}
