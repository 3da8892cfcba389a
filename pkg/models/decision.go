package models

import "time"

// MatchDecision is a classified candidate pair.
type MatchDecision struct {
	Pair     CandidatePair `json:"pair"`
	Score    float64       `json:"score" db:"score"`
	Accepted bool          `json:"accepted" db:"accepted"`
}

// ClusterMember is one record in a cluster with the score that linked it in.
type ClusterMember struct {
	RecordID string  `json:"record_id" db:"record_id"`
	Score    float64 `json:"score" db:"cluster_score"`
}

// EntityCluster is a group of records believed to denote the same entity.
type EntityCluster struct {
	CanonicalID string          `json:"canonical_id"`
	Members     []ClusterMember `json:"members"`
}

// MemberIDs returns the member record ids.
func (c EntityCluster) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.RecordID
	}
	return ids
}

// CanonicalEntry is one row of the canonical-entity output table.
type CanonicalEntry struct {
	Collection   string    `json:"collection" db:"collection"`
	RecordID     string    `json:"record_id" db:"record_id"`
	CanonicalID  string    `json:"canonical_id" db:"canonical_id"`
	ClusterScore float64   `json:"cluster_score" db:"cluster_score"`
	RunID        string    `json:"run_id" db:"run_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// RecordLink is one row of the cross-collection link output table.
type RecordLink struct {
	Collection string    `json:"collection" db:"collection"`
	LeftID     string    `json:"left_id" db:"left_id"`
	RightID    string    `json:"right_id" db:"right_id"`
	Score      float64   `json:"score" db:"score"`
	RunID      string    `json:"run_id" db:"run_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
