package classifier

import (
	"fmt"
	"math"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/similarity"
)

// Formula combines feature scores into one aggregate.
type Formula string

const (
	FormulaProduct  Formula = "product"
	FormulaSum      Formula = "sum"
	FormulaMean     Formula = "mean"
	FormulaWeighted Formula = "weighted"
)

// ThresholdConfig configures the aggregate/threshold classifier.
type ThresholdConfig struct {
	Formula   Formula `yaml:"formula" validate:"omitempty,oneof=product sum mean weighted"`
	Threshold float64 `yaml:"threshold"`
	// Weights by feature label for the weighted formula. Unlisted features weigh 1.
	Weights map[string]float64 `yaml:"weights"`
}

// Threshold accepts a pair when its aggregate score is strictly greater than
// the threshold. Missing features are left out of the aggregate; a vector with
// no present features scores 0.
type Threshold struct {
	formula   Formula
	threshold float64
	labels    []string
	weights   map[string]float64
	scorer    *similarity.Scorer
}

func NewThreshold(cfg ThresholdConfig, labels []string) (*Threshold, error) {
	formula := cfg.Formula
	if formula == "" {
		formula = FormulaProduct
	}
	switch formula {
	case FormulaProduct, FormulaSum, FormulaMean, FormulaWeighted:
	default:
		return nil, fmt.Errorf("unknown aggregate formula %q", cfg.Formula)
	}

	known := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		known[l] = struct{}{}
	}
	weights := make(map[string]float64, len(cfg.Weights))
	for l, w := range cfg.Weights {
		if _, ok := known[l]; !ok {
			return nil, fmt.Errorf("weight given for unknown feature %q", l)
		}
		if w < 0 {
			return nil, fmt.Errorf("weight for %q must not be negative", l)
		}
		weights[l] = w
	}

	return &Threshold{
		formula:   formula,
		threshold: cfg.Threshold,
		labels:    labels,
		weights:   weights,
		scorer:    similarity.NewScorer(),
	}, nil
}

func (t *Threshold) Score(v models.FeatureVector) float64 {
	present := 0
	product := 1.0
	var sum float64
	byLabel := make(map[string]float64, len(v.Scores))
	for i, s := range v.Scores {
		if math.IsNaN(s) {
			continue
		}
		present++
		product *= s
		sum += s
		if i < len(t.labels) {
			byLabel[t.labels[i]] = s
		}
	}
	if present == 0 {
		return 0
	}

	switch t.formula {
	case FormulaSum:
		return sum
	case FormulaMean:
		return sum / float64(present)
	case FormulaWeighted:
		return t.scorer.WeightedScore(byLabel, t.weights)
	default:
		return product
	}
}

func (t *Threshold) Decide(score float64) bool {
	return score > t.threshold
}
