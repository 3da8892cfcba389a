package models

import (
	"math"

	"github.com/pkg/errors"
)

// Missing is the score stored for a comparison whose field was excluded
// because a value was null.
var Missing = math.NaN()

// IsMissing reports whether a score is the excluded-field sentinel.
func IsMissing(score float64) bool {
	return math.IsNaN(score)
}

// FeatureVector holds one score per configured comparison, in declared order.
type FeatureVector struct {
	Pair   CandidatePair `json:"pair"`
	Scores []float64     `json:"scores"`
}

// FeatureSet is the comparator output for a set of candidate pairs.
type FeatureSet struct {
	Labels  []string
	Vectors []FeatureVector
	index   map[CandidatePair]int
}

// NewFeatureSet builds a feature set and its pair index.
func NewFeatureSet(labels []string, vectors []FeatureVector) *FeatureSet {
	index := make(map[CandidatePair]int, len(vectors))
	for i, v := range vectors {
		index[v.Pair] = i
	}
	return &FeatureSet{Labels: labels, Vectors: vectors, index: index}
}

// Len returns the number of vectors.
func (f *FeatureSet) Len() int {
	return len(f.Vectors)
}

// Get returns the vector for a pair.
func (f *FeatureSet) Get(p CandidatePair) (FeatureVector, bool) {
	i, ok := f.index[p]
	if !ok {
		return FeatureVector{}, false
	}
	return f.Vectors[i], true
}

// Column returns the position of a label.
func (f *FeatureSet) Column(label string) (int, bool) {
	for i, l := range f.Labels {
		if l == label {
			return i, true
		}
	}
	return 0, false
}

// Pairs returns the pair keys in vector order.
func (f *FeatureSet) Pairs() []CandidatePair {
	out := make([]CandidatePair, len(f.Vectors))
	for i, v := range f.Vectors {
		out[i] = v.Pair
	}
	return out
}

// HasKeys reports whether the set holds exactly the given pairs.
func (f *FeatureSet) HasKeys(pairs []CandidatePair) bool {
	if len(pairs) != len(f.index) {
		return false
	}
	for _, p := range pairs {
		if _, ok := f.index[p]; !ok {
			return false
		}
	}
	return true
}

// Select returns a feature set restricted to the given labels, in that order.
func (f *FeatureSet) Select(labels []string) (*FeatureSet, error) {
	cols := make([]int, len(labels))
	for i, l := range labels {
		c, ok := f.Column(l)
		if !ok {
			return nil, errors.Wrapf(ErrCacheMismatch, "column %q not present", l)
		}
		cols[i] = c
	}

	vectors := make([]FeatureVector, len(f.Vectors))
	for i, v := range f.Vectors {
		scores := make([]float64, len(cols))
		for j, c := range cols {
			scores[j] = v.Scores[c]
		}
		vectors[i] = FeatureVector{Pair: v.Pair, Scores: scores}
	}
	return NewFeatureSet(append([]string(nil), labels...), vectors), nil
}
