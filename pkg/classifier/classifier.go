// Package classifier turns feature vectors into match decisions.
package classifier

import (
	"fmt"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Classifier scores a feature vector and decides whether a score is a match.
type Classifier interface {
	Score(v models.FeatureVector) float64
	Decide(score float64) bool
}

// Type selects a classifier.
type Type string

const (
	TypeThreshold  Type = "threshold"
	TypeNaiveBayes Type = "naive_bayes"
)

// BestPolicy restricts accepted matches to the best one per record.
type BestPolicy string

const (
	BestNone  BestPolicy = "none"
	BestLeft  BestPolicy = "left"
	BestRight BestPolicy = "right"
)

// Config is the classifier section of a pipeline definition.
type Config struct {
	Type       Type             `yaml:"type" validate:"required,oneof=threshold naive_bayes"`
	Threshold  ThresholdConfig  `yaml:"threshold"`
	NaiveBayes NaiveBayesConfig `yaml:"naive_bayes"`
	// BestPerKey keeps at most one accepted match per left or right record.
	BestPerKey BestPolicy `yaml:"best_per_key" validate:"omitempty,oneof=none left right"`
	// ModelPath stores the trained naive Bayes model between runs.
	ModelPath string `yaml:"model_path"`
}

// Classify scores every vector and applies the best-per-key policy to the
// accepted ones. Decisions are returned in feature-set order.
func Classify(c Classifier, fs *models.FeatureSet, policy BestPolicy) ([]models.MatchDecision, error) {
	decisions := make([]models.MatchDecision, len(fs.Vectors))
	for i, v := range fs.Vectors {
		s := c.Score(v)
		decisions[i] = models.MatchDecision{Pair: v.Pair, Score: s, Accepted: c.Decide(s)}
	}

	switch policy {
	case "", BestNone:
		return decisions, nil
	case BestLeft, BestRight:
		keepBest(decisions, policy == BestLeft)
		return decisions, nil
	default:
		return nil, fmt.Errorf("unknown best-per-key policy %q", policy)
	}
}

// Accepted filters decisions down to accepted matches.
func Accepted(decisions []models.MatchDecision) []models.MatchDecision {
	var out []models.MatchDecision
	for _, d := range decisions {
		if d.Accepted {
			out = append(out, d)
		}
	}
	return out
}

// keepBest rejects every accepted decision except the highest scoring one per
// key. Ties go to the smaller id on the other side.
func keepBest(decisions []models.MatchDecision, byLeft bool) {
	key := func(p models.CandidatePair) (string, string) {
		if byLeft {
			return p.Left, p.Right
		}
		return p.Right, p.Left
	}

	best := make(map[string]int)
	for i, d := range decisions {
		if !d.Accepted {
			continue
		}
		k, other := key(d.Pair)
		j, ok := best[k]
		if !ok {
			best[k] = i
			continue
		}
		_, incumbent := key(decisions[j].Pair)
		if d.Score > decisions[j].Score || (d.Score == decisions[j].Score && models.LessID(other, incumbent)) {
			best[k] = i
		}
	}

	for i, d := range decisions {
		if !d.Accepted {
			continue
		}
		k, _ := key(d.Pair)
		if best[k] != i {
			decisions[i].Accepted = false
		}
	}
}
