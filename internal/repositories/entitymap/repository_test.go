package entitymap

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/database/dbtest"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

func cluster(canonical string, members ...string) models.EntityCluster {
	c := models.EntityCluster{CanonicalID: canonical}
	for _, m := range members {
		c.Members = append(c.Members, models.ClusterMember{RecordID: m, Score: 0.9})
	}
	return c
}

func TestRepository_ReplaceClusters(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.New(t), dbtest.Logger())

	n, err := repo.ReplaceClusters(ctx, "donors", "run-1", []models.EntityCluster{
		cluster("1", "1", "2", "3"),
		cluster("7", "7", "8"),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	t.Run("lookup member", func(t *testing.T) {
		entry, found, err := repo.Lookup(ctx, "donors", "3")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "1", entry.CanonicalID)
		assert.Equal(t, 0.9, entry.ClusterScore)
		assert.Equal(t, "run-1", entry.RunID)
	})

	t.Run("lookup singleton falls back to own id", func(t *testing.T) {
		entry, found, err := repo.Lookup(ctx, "donors", "42")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, "42", entry.CanonicalID)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		_, found, err := repo.Lookup(ctx, "committees", "3")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("members sorted by id", func(t *testing.T) {
		members, err := repo.Members(ctx, "donors", "1")
		require.NoError(t, err)
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.RecordID
		}
		assert.Equal(t, []string{"1", "2", "3"}, ids)
	})

	t.Run("unknown cluster is not found", func(t *testing.T) {
		_, err := repo.Members(ctx, "donors", "99")
		require.Error(t, err)
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	})

	t.Run("top clusters", func(t *testing.T) {
		top, err := repo.TopClusters(ctx, "donors", 10)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, ClusterSize{CanonicalID: "1", Members: 3, MaxScore: 0.9}, top[0])
		assert.Equal(t, "7", top[1].CanonicalID)

		top, err = repo.TopClusters(ctx, "donors", 1)
		require.NoError(t, err)
		assert.Len(t, top, 1)
	})

	t.Run("canonical map", func(t *testing.T) {
		canonical, err := repo.CanonicalMap(ctx, "donors")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"1": "1", "2": "1", "3": "1", "7": "7", "8": "7"}, canonical)

		empty, err := repo.CanonicalMap(ctx, "committees")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("replace drops stale rows", func(t *testing.T) {
		_, err := repo.ReplaceClusters(ctx, "donors", "run-2", []models.EntityCluster{cluster("2", "2", "3")})
		require.NoError(t, err)

		_, found, err := repo.Lookup(ctx, "donors", "7")
		require.NoError(t, err)
		assert.False(t, found)

		entry, found, err := repo.Lookup(ctx, "donors", "3")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "2", entry.CanonicalID)
		assert.Equal(t, "run-2", entry.RunID)
	})

	t.Run("batches larger than one insert", func(t *testing.T) {
		big := models.EntityCluster{CanonicalID: "0"}
		for i := 0; i < batchSize+7; i++ {
			big.Members = append(big.Members, models.ClusterMember{RecordID: "r" + strconv.Itoa(i), Score: 1})
		}
		n, err := repo.ReplaceClusters(ctx, "bulk", "run-3", []models.EntityCluster{big})
		require.NoError(t, err)
		assert.Equal(t, batchSize+7, n)
	})
}

func TestRepository_ReplaceLinks(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.New(t), dbtest.Logger())

	n, err := repo.ReplaceLinks(ctx, "contributions-to-expenditures", "run-1", []models.MatchDecision{
		{Pair: models.CandidatePair{Left: "c1", Right: "e1"}, Score: 0.8, Accepted: true},
		{Pair: models.CandidatePair{Left: "c1", Right: "e2"}, Score: 0.1, Accepted: false},
		{Pair: models.CandidatePair{Left: "c2", Right: "e1"}, Score: 0.4, Accepted: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	links, err := repo.Links(ctx, "contributions-to-expenditures", "e1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "c1", links[0].LeftID)
	assert.Equal(t, 0.8, links[0].Score)
	assert.Equal(t, "c2", links[1].LeftID)

	links, err = repo.Links(ctx, "contributions-to-expenditures", "e2")
	require.NoError(t, err)
	assert.Empty(t, links)
}
