package labels

import "github.com/Ramsey-B/sorrel/pkg/models"

// Set is the in-memory label set. A later label for a pair replaces an
// earlier one; pairs keep the order in which they were first labeled.
type Set struct {
	index  map[models.CandidatePair]int
	labels []models.TrainingLabel
}

func NewSet(labels ...models.TrainingLabel) *Set {
	s := &Set{index: make(map[models.CandidatePair]int)}
	for _, l := range labels {
		s.Add(l)
	}
	return s
}

// Add inserts or replaces the label for a pair.
func (s *Set) Add(l models.TrainingLabel) {
	if i, ok := s.index[l.Pair]; ok {
		s.labels[i] = l
		return
	}
	s.index[l.Pair] = len(s.labels)
	s.labels = append(s.labels, l)
}

// Merge adds every label of other.
func (s *Set) Merge(other *Set) {
	for _, l := range other.labels {
		s.Add(l)
	}
}

// Get returns the label for a pair.
func (s *Set) Get(p models.CandidatePair) (models.TrainingLabel, bool) {
	i, ok := s.index[p]
	if !ok {
		return models.TrainingLabel{}, false
	}
	return s.labels[i], true
}

// Has reports whether a pair is labeled.
func (s *Set) Has(p models.CandidatePair) bool {
	_, ok := s.index[p]
	return ok
}

// Len returns the number of labeled pairs.
func (s *Set) Len() int {
	return len(s.labels)
}

// Labels returns the labels in first-labeled order.
func (s *Set) Labels() []models.TrainingLabel {
	out := make([]models.TrainingLabel, len(s.labels))
	copy(out, s.labels)
	return out
}

// Counts returns the number of match and distinct labels.
func (s *Set) Counts() (matches, distincts int) {
	for _, l := range s.labels {
		if l.Match {
			matches++
		} else {
			distincts++
		}
	}
	return matches, distincts
}
