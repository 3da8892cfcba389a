package models

import "time"

// LabelSource identifies who assigned a training label.
type LabelSource string

const (
	LabelSourceHuman LabelSource = "human"
	LabelSourceRule  LabelSource = "rule"
)

// TrainingLabel marks a candidate pair as a duplicate (Match) or distinct.
type TrainingLabel struct {
	Pair      CandidatePair `json:"pair"`
	Match     bool          `json:"match"`
	Source    LabelSource   `json:"source,omitempty"`
	LabeledAt time.Time     `json:"labeled_at"`
}
