package clustering

import (
	"sort"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// EntityTotal is one row of a ranking of entities by a summed numeric field.
type EntityTotal struct {
	CanonicalID string   `json:"canonical_id"`
	Total       float64  `json:"total"`
	MemberIDs   []string `json:"member_ids"`
}

// Cluster returns the total's members as a cluster.
func (t EntityTotal) Cluster() models.EntityCluster {
	c := models.EntityCluster{CanonicalID: t.CanonicalID, Members: make([]models.ClusterMember, len(t.MemberIDs))}
	for i, id := range t.MemberIDs {
		c.Members[i] = models.ClusterMember{RecordID: id}
	}
	return c
}

// RankTotals groups every record under its canonical id and sums field per
// group, returning the n largest totals. Records absent from canonical are their
// own singleton entity, so a nil map ranks the records without deduplication.
// Missing or non-numeric values add nothing. Ties go to the smaller canonical id.
func RankTotals(records *models.Collection, canonical map[string]string, field string, n int) []EntityTotal {
	groups := make(map[string]*EntityTotal)
	for _, r := range records.Records() {
		id := r.ID
		if c, ok := canonical[r.ID]; ok {
			id = c
		}
		g, ok := groups[id]
		if !ok {
			g = &EntityTotal{CanonicalID: id}
			groups[id] = g
		}
		g.MemberIDs = append(g.MemberIDs, r.ID)
		if v, ok := r.Float(field); ok {
			g.Total += v
		}
	}

	totals := make([]EntityTotal, 0, len(groups))
	for _, g := range groups {
		models.SortIDs(g.MemberIDs)
		totals = append(totals, *g)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Total != totals[j].Total {
			return totals[i].Total > totals[j].Total
		}
		return models.LessID(totals[i].CanonicalID, totals[j].CanonicalID)
	})
	if n > 0 && len(totals) > n {
		totals = totals[:n]
	}
	return totals
}
