package classifier

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/Ramsey-B/sorrel/pkg/fileutil"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

const (
	DefaultBins      = 10
	DefaultSmoothing = 1.0
	DefaultCutoff    = 0.5
)

// NaiveBayesConfig configures training.
type NaiveBayesConfig struct {
	Bins      int     `yaml:"bins" validate:"gte=0"`
	Smoothing float64 `yaml:"smoothing" validate:"gte=0"`
	// Cutoff is the match probability a pair must exceed to be accepted.
	Cutoff float64 `yaml:"cutoff" validate:"gte=0,lte=1"`
}

func (c NaiveBayesConfig) withDefaults() NaiveBayesConfig {
	if c.Bins <= 0 {
		c.Bins = DefaultBins
	}
	if c.Smoothing <= 0 {
		c.Smoothing = DefaultSmoothing
	}
	if c.Cutoff <= 0 {
		c.Cutoff = DefaultCutoff
	}
	return c
}

// Example is one labeled feature vector.
type Example struct {
	Scores []float64
	Match  bool
}

// Examples pairs labels with their feature vectors. Labels for pairs without
// features are skipped; the last label for a pair wins.
func Examples(fs *models.FeatureSet, labels []models.TrainingLabel) []Example {
	latest := make(map[models.CandidatePair]int, len(labels))
	var order []models.CandidatePair
	for i, l := range labels {
		if _, ok := latest[l.Pair]; !ok {
			order = append(order, l.Pair)
		}
		latest[l.Pair] = i
	}

	examples := make([]Example, 0, len(order))
	for _, p := range order {
		v, ok := fs.Get(p)
		if !ok {
			continue
		}
		examples = append(examples, Example{Scores: v.Scores, Match: labels[latest[p]].Match})
	}
	return examples
}

// Model is the persisted form of a trained naive Bayes classifier. Each feature
// is discretized into equal-width bins over [0,1] plus one bin for missing
// values; likelihoods are stored as logs.
type Model struct {
	Labels        []string    `json:"labels"`
	Bins          int         `json:"bins"`
	Smoothing     float64     `json:"smoothing"`
	Cutoff        float64     `json:"cutoff"`
	Positives     int         `json:"positives"`
	Negatives     int         `json:"negatives"`
	LogPriorMatch float64     `json:"log_prior_match"`
	LogPriorOther float64     `json:"log_prior_distinct"`
	LogMatch      [][]float64 `json:"log_match"`
	LogOther      [][]float64 `json:"log_distinct"`
	TrainedAt     time.Time   `json:"trained_at"`
}

// NaiveBayes treats features as conditionally independent given match or
// non-match and scores pairs with the posterior match probability.
type NaiveBayes struct {
	model Model
}

// TrainNaiveBayes fits a model. It fails with models.ErrInsufficientTrainingData
// unless there is at least one positive and one negative example.
func TrainNaiveBayes(cfg NaiveBayesConfig, labels []string, examples []Example) (*NaiveBayes, error) {
	cfg = cfg.withDefaults()

	var positives, negatives int
	for _, e := range examples {
		if len(e.Scores) != len(labels) {
			return nil, errors.Errorf("example has %d features, expected %d", len(e.Scores), len(labels))
		}
		if e.Match {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return nil, errors.Wrapf(models.ErrInsufficientTrainingData,
			"need at least one match and one distinct label, have %d and %d", positives, negatives)
	}

	slots := cfg.Bins + 1
	countMatch := make([][]float64, len(labels))
	countOther := make([][]float64, len(labels))
	for i := range labels {
		countMatch[i] = make([]float64, slots)
		countOther[i] = make([]float64, slots)
	}
	for _, e := range examples {
		counts := countOther
		if e.Match {
			counts = countMatch
		}
		for i, s := range e.Scores {
			counts[i][bin(s, cfg.Bins)]++
		}
	}

	logLikelihood := func(counts [][]float64, total int) [][]float64 {
		out := make([][]float64, len(counts))
		denom := float64(total) + cfg.Smoothing*float64(slots)
		for i, row := range counts {
			out[i] = make([]float64, slots)
			for b, n := range row {
				out[i][b] = math.Log((n + cfg.Smoothing) / denom)
			}
		}
		return out
	}

	total := float64(positives + negatives)
	return &NaiveBayes{model: Model{
		Labels:        append([]string(nil), labels...),
		Bins:          cfg.Bins,
		Smoothing:     cfg.Smoothing,
		Cutoff:        cfg.Cutoff,
		Positives:     positives,
		Negatives:     negatives,
		LogPriorMatch: math.Log(float64(positives) / total),
		LogPriorOther: math.Log(float64(negatives) / total),
		LogMatch:      logLikelihood(countMatch, positives),
		LogOther:      logLikelihood(countOther, negatives),
		TrainedAt:     time.Now().UTC(),
	}}, nil
}

// bin maps a score in [0,1] to its bin; missing scores use the last slot.
func bin(s float64, bins int) int {
	if math.IsNaN(s) {
		return bins
	}
	b := int(s * float64(bins))
	if b < 0 {
		return 0
	}
	if b >= bins {
		return bins - 1
	}
	return b
}

// Score returns P(match | features).
func (nb *NaiveBayes) Score(v models.FeatureVector) float64 {
	m := &nb.model
	logMatch := m.LogPriorMatch
	logOther := m.LogPriorOther
	for i, s := range v.Scores {
		if i >= len(m.LogMatch) {
			break
		}
		b := bin(s, m.Bins)
		logMatch += m.LogMatch[i][b]
		logOther += m.LogOther[i][b]
	}
	return 1 / (1 + math.Exp(logOther-logMatch))
}

func (nb *NaiveBayes) Decide(score float64) bool {
	return score > nb.model.Cutoff
}

// Model returns a copy of the trained parameters.
func (nb *NaiveBayes) Model() Model {
	return nb.model
}

// Labels returns the feature labels the model was trained on.
func (nb *NaiveBayes) Labels() []string {
	return nb.model.Labels
}

// Save writes the model as JSON, replacing any previous file.
func (nb *NaiveBayes) Save(path string) error {
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(nb.model), "failed to encode model")
	})
}

// LoadNaiveBayes reads a model written by Save.
func LoadNaiveBayes(path string) (*NaiveBayes, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read model")
	}
	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode model")
	}
	if m.Bins <= 0 || len(m.LogMatch) != len(m.Labels) || len(m.LogOther) != len(m.Labels) {
		return nil, errors.Errorf("model %s is malformed", path)
	}
	for i := range m.Labels {
		if len(m.LogMatch[i]) != m.Bins+1 || len(m.LogOther[i]) != m.Bins+1 {
			return nil, errors.Errorf("model %s is malformed", path)
		}
	}
	return &NaiveBayes{model: m}, nil
}
