// Package similarity implements the normalized string and value comparison
// metrics used to score candidate pairs. Every metric returns a value in [0,1]
// where 1 means identical.
package similarity

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/antzucaro/matchr"
)

// Method names a comparison metric.
type Method string

const (
	MethodExact       Method = "exact"       // Exact string match
	MethodLevenshtein Method = "levenshtein" // Edit distance normalized by max length
	MethodJaroWinkler Method = "jarowinkler" // Prefix-weighted similarity for names
	MethodSoundex     Method = "soundex"     // Soundex code equality
	MethodMetaphone   Method = "metaphone"   // Double Metaphone code overlap
	MethodNumeric     Method = "numeric"     // Linear proximity inside a window
	MethodDate        Method = "date"        // Linear proximity in days inside a window
)

// Methods lists every supported metric.
var Methods = []Method{
	MethodExact,
	MethodLevenshtein,
	MethodJaroWinkler,
	MethodSoundex,
	MethodMetaphone,
	MethodNumeric,
	MethodDate,
}

// IsStringMethod reports whether the metric compares text values.
func (m Method) IsStringMethod() bool {
	switch m {
	case MethodExact, MethodLevenshtein, MethodJaroWinkler, MethodSoundex, MethodMetaphone:
		return true
	}
	return false
}

// Valid reports whether m is a known metric.
func (m Method) Valid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Scorer provides string and value comparison algorithms
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// ExactMatch returns 1.0 for exact match, 0.0 otherwise
func (s *Scorer) ExactMatch(a, b string, caseSensitive bool) float64 {
	if !caseSensitive {
		a = strings.ToLower(a)
		b = strings.ToLower(b)
	}
	if a == b {
		return 1.0
	}
	return 0.0
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
func (s *Scorer) JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	return clamp(matchr.JaroWinkler(a, b, false))
}

// Levenshtein returns 1 - distance/max(len(a), len(b)), counting runes.
func (s *Scorer) Levenshtein(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1.0
	}
	distance := s.LevenshteinDistance(a, b)
	return clamp(1.0 - float64(distance)/float64(maxLen))
}

// LevenshteinDistance calculates the edit distance between two strings
func (s *Scorer) LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	return levenshtein.ComputeDistance(a, b)
}

// Soundex calculates the Soundex encoding of a string
func (s *Scorer) Soundex(str string) string {
	if strings.TrimSpace(str) == "" {
		return ""
	}
	return matchr.Soundex(str)
}

// SoundexMatch returns 1.0 if Soundex codes match, 0.0 otherwise
func (s *Scorer) SoundexMatch(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ca, cb := s.Soundex(a), s.Soundex(b)
	if ca == "" || cb == "" {
		return 0.0
	}
	if ca == cb {
		return 1.0
	}
	return 0.0
}

// Metaphone returns the primary and alternate Double Metaphone codes.
func (s *Scorer) Metaphone(str string) (string, string) {
	if strings.TrimSpace(str) == "" {
		return "", ""
	}
	return matchr.DoubleMetaphone(str)
}

// MetaphoneMatch returns 1.0 if any Double Metaphone code is shared
func (s *Scorer) MetaphoneMatch(a, b string) float64 {
	if a == b {
		return 1.0
	}
	a1, a2 := s.Metaphone(a)
	b1, b2 := s.Metaphone(b)
	for _, x := range []string{a1, a2} {
		if x == "" {
			continue
		}
		if x == b1 || x == b2 {
			return 1.0
		}
	}
	return 0.0
}

// DateProximity calculates a proximity score for two dates.
// Returns 1.0 for the same day, decreasing linearly to 0.0 at windowDays.
func (s *Scorer) DateProximity(a, b time.Time, windowDays float64) float64 {
	if a.IsZero() || b.IsZero() {
		return 0.0
	}
	daysDiff := math.Abs(a.Sub(b).Hours() / 24)
	return s.linear(daysDiff, windowDays)
}

// NumericProximity returns 1.0 for equal numbers, decreasing linearly to 0.0
// when the absolute difference reaches window. A window of zero means
// exact equality.
func (s *Scorer) NumericProximity(a, b, window float64) float64 {
	return s.linear(math.Abs(a-b), window)
}

func (s *Scorer) linear(diff, window float64) float64 {
	if diff == 0 {
		return 1.0
	}
	if window <= 0 || diff >= window {
		return 0.0
	}
	return 1.0 - (diff / window)
}

// WeightedScore calculates a weighted average of scores. Missing weights default
// to 1. Fields are summed in name order so the result does not depend on map order.
func (s *Scorer) WeightedScore(scores map[string]float64, weights map[string]float64) float64 {
	if len(scores) == 0 {
		return 0.0
	}

	fields := make([]string, 0, len(scores))
	for field := range scores {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var totalWeight float64
	var weightedSum float64
	for _, field := range fields {
		weight := 1.0
		if w, ok := weights[field]; ok {
			weight = w
		}
		weightedSum += scores[field] * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0.0
	}

	return weightedSum / totalWeight
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0.0
	case v < 0:
		return 0.0
	case v > 1:
		return 1.0
	}
	return v
}
