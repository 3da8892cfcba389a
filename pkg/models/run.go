package models

import (
	"time"

	"github.com/Ramsey-B/sorrel/pkg/database"
)

// PipelineRun is one execution of a pipeline definition.
type PipelineRun struct {
	ID              string      `json:"id" db:"id"`
	Definition      string      `json:"definition" db:"definition"`
	Fingerprint     string      `json:"fingerprint" db:"fingerprint"`
	Status          string      `json:"status" db:"status"`
	Settings        RunSettings `json:"settings" db:"settings"`
	CandidatePairs  int         `json:"candidate_pairs" db:"candidate_pairs"`
	AcceptedPairs   int         `json:"accepted_pairs" db:"accepted_pairs"`
	Clusters        int         `json:"clusters" db:"clusters"`
	FeatureCacheHit bool        `json:"feature_cache_hit" db:"feature_cache_hit"`
	Error           *string     `json:"error,omitempty" db:"error"`
	StartedAt       time.Time   `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty" db:"finished_at"`
}

// PipelineRun status constants
const (
	PipelineRunStatusRunning   = "running"
	PipelineRunStatusSucceeded = "succeeded"
	PipelineRunStatusFailed    = "failed"
)

// RunSettings snapshots the definition choices that produced a run.
type RunSettings = database.JSONB[map[string]any]
