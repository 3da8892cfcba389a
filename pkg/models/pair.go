package models

import "sort"

// CandidatePair is a pair of record ids drawn from the left and right collections.
// For deduplication both ids come from the same collection and Left sorts before Right.
type CandidatePair struct {
	Left  string `json:"left" db:"left_id"`
	Right string `json:"right" db:"right_id"`
}

// NewSelfPair orders two ids from the same collection.
func NewSelfPair(a, b string) CandidatePair {
	if LessID(b, a) {
		a, b = b, a
	}
	return CandidatePair{Left: a, Right: b}
}

// ComparePairs orders pairs by left id then right id.
func ComparePairs(a, b CandidatePair) int {
	if c := CompareIDs(a.Left, b.Left); c != 0 {
		return c
	}
	return CompareIDs(a.Right, b.Right)
}

// SortPairs sorts pairs in place under ComparePairs.
func SortPairs(pairs []CandidatePair) {
	sort.Slice(pairs, func(i, j int) bool { return ComparePairs(pairs[i], pairs[j]) < 0 })
}

// PairSet collects candidate pairs without duplicates.
type PairSet struct {
	self  bool
	seen  map[CandidatePair]struct{}
	pairs []CandidatePair
}

// NewPairSet creates an empty set. When self is true pairs are unordered: they are
// stored with Left < Right and self-pairs are dropped.
func NewPairSet(self bool) *PairSet {
	return &PairSet{self: self, seen: make(map[CandidatePair]struct{})}
}

// Add inserts a pair and reports whether it was new.
func (s *PairSet) Add(left, right string) bool {
	p := CandidatePair{Left: left, Right: right}
	if s.self {
		if left == right {
			return false
		}
		p = NewSelfPair(left, right)
	}
	if _, ok := s.seen[p]; ok {
		return false
	}
	s.seen[p] = struct{}{}
	s.pairs = append(s.pairs, p)
	return true
}

// Contains reports whether the pair is in the set.
func (s *PairSet) Contains(p CandidatePair) bool {
	if s.self {
		p = NewSelfPair(p.Left, p.Right)
	}
	_, ok := s.seen[p]
	return ok
}

// Len returns the number of distinct pairs.
func (s *PairSet) Len() int {
	return len(s.pairs)
}

// Pairs returns the pairs sorted by ComparePairs.
func (s *PairSet) Pairs() []CandidatePair {
	out := make([]CandidatePair, len(s.pairs))
	copy(out, s.pairs)
	SortPairs(out)
	return out
}
