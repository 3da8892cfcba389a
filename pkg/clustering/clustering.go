// Package clustering groups accepted matches into entity clusters.
package clustering

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Clusterer computes connected components over accepted match decisions.
type Clusterer struct {
	log ectologger.Logger
}

func NewClusterer(log ectologger.Logger) *Clusterer {
	return &Clusterer{log: log}
}

// Cluster builds one cluster per connected component of the accepted-match
// graph. The canonical id is the smallest member id, and each member's score is
// the highest score of any accepted edge touching it. Members and clusters are
// sorted by id so the result does not depend on decision order. Rejected
// decisions are ignored and unmatched records produce no cluster.
func (c *Clusterer) Cluster(ctx context.Context, decisions []models.MatchDecision) []models.EntityCluster {
	ctx, span := tracing.StartSpan(ctx, "clustering.Clusterer.Cluster")
	defer span.End()

	uf := newUnionFind()
	best := make(map[string]float64)
	edges := 0
	for _, d := range decisions {
		if !d.Accepted {
			continue
		}
		edges++
		uf.union(d.Pair.Left, d.Pair.Right)
		for _, id := range []string{d.Pair.Left, d.Pair.Right} {
			if s, ok := best[id]; !ok || d.Score > s {
				best[id] = d.Score
			}
		}
	}

	groups := make(map[int][]string)
	for id, node := range uf.nodes {
		root := uf.find(node)
		groups[root] = append(groups[root], id)
	}

	clusters := make([]models.EntityCluster, 0, len(groups))
	largest := 0
	for _, ids := range groups {
		models.SortIDs(ids)
		members := make([]models.ClusterMember, len(ids))
		for i, id := range ids {
			members[i] = models.ClusterMember{RecordID: id, Score: best[id]}
		}
		clusters = append(clusters, models.EntityCluster{CanonicalID: ids[0], Members: members})
		largest = max(largest, len(ids))
	}
	sort.Slice(clusters, func(i, j int) bool {
		return models.LessID(clusters[i].CanonicalID, clusters[j].CanonicalID)
	})

	c.log.WithContext(ctx).WithFields(map[string]any{
		"edges":    edges,
		"records":  len(uf.nodes),
		"clusters": len(clusters),
		"largest":  largest,
	}).Info("Clustered accepted matches")

	return clusters
}

// Index maps record ids to their cluster.
type Index struct {
	entries map[string]models.CanonicalEntry
}

// NewIndex indexes clusters by member id.
func NewIndex(clusters []models.EntityCluster) *Index {
	entries := make(map[string]models.CanonicalEntry)
	for _, c := range clusters {
		for _, m := range c.Members {
			entries[m.RecordID] = models.CanonicalEntry{
				RecordID:     m.RecordID,
				CanonicalID:  c.CanonicalID,
				ClusterScore: m.Score,
			}
		}
	}
	return &Index{entries: entries}
}

// Canonical returns the canonical id for a record. Records outside every
// cluster are their own canonical id.
func (x *Index) Canonical(id string) string {
	if e, ok := x.entries[id]; ok {
		return e.CanonicalID
	}
	return id
}

// Entry returns the cluster entry for a clustered record.
func (x *Index) Entry(id string) (models.CanonicalEntry, bool) {
	e, ok := x.entries[id]
	return e, ok
}

// Entries returns one entry per clustered record, sorted by record id.
func (x *Index) Entries() []models.CanonicalEntry {
	out := make([]models.CanonicalEntry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return models.LessID(out[i].RecordID, out[j].RecordID) })
	return out
}

// unionFind is a disjoint-set forest with path compression and union by size.
type unionFind struct {
	nodes  map[string]int
	parent []int
	size   []int
}

func newUnionFind() *unionFind {
	return &unionFind{nodes: make(map[string]int)}
}

func (u *unionFind) node(id string) int {
	if n, ok := u.nodes[id]; ok {
		return n
	}
	n := len(u.parent)
	u.nodes[id] = n
	u.parent = append(u.parent, n)
	u.size = append(u.size, 1)
	return n
}

func (u *unionFind) find(n int) int {
	root := n
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[n] != root {
		n, u.parent[n] = u.parent[n], root
	}
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(u.node(a)), u.find(u.node(b))
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
