package indexing

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// SortedNeighbourhoodConfig configures sorted-neighbourhood blocking.
type SortedNeighbourhoodConfig struct {
	SortOn  FieldPair
	BlockOn []FieldPair
	// Window is the odd number of neighbouring sort positions compared, counting
	// the record's own position.
	Window int
}

// SortedNeighbourhood pairs records whose sort keys lie within a window of sort
// positions and whose block keys are equal. Sort positions are ranks over the
// distinct sort values of both sides, so equal values share a position.
// Records missing the sort key or any block field are not indexed.
type SortedNeighbourhood struct {
	log ectologger.Logger
	cfg SortedNeighbourhoodConfig
}

func NewSortedNeighbourhood(cfg SortedNeighbourhoodConfig, log ectologger.Logger) (*SortedNeighbourhood, error) {
	if cfg.SortOn.Left == "" {
		return nil, fmt.Errorf("sorted neighbourhood requires a sort field")
	}
	if cfg.Window < 1 || cfg.Window%2 == 0 {
		return nil, fmt.Errorf("sorted neighbourhood window must be a positive odd number, got %d", cfg.Window)
	}
	return &SortedNeighbourhood{log: log, cfg: cfg}, nil
}

type sortEntry struct {
	id    string
	key   sortKey
	block string
}

type neighbourhood struct {
	left  []sortEntry
	right map[int][]string
}

func (s *SortedNeighbourhood) Index(ctx context.Context, left, right *models.Collection) ([]models.CandidatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "indexing.SortedNeighbourhood.Index")
	defer span.End()

	log := s.log.WithContext(ctx)

	right, self := sides(left, right)

	leftEntries, leftSkipped := s.entries(left, true)
	rightEntries, rightSkipped := leftEntries, leftSkipped
	if !self {
		rightEntries, rightSkipped = s.entries(right, false)
	}

	ranks := rankKeys(leftEntries, rightEntries)

	blocks := make(map[string]*neighbourhood)
	blockFor := func(key string) *neighbourhood {
		b, ok := blocks[key]
		if !ok {
			b = &neighbourhood{right: make(map[int][]string)}
			blocks[key] = b
		}
		return b
	}
	for _, e := range leftEntries {
		b := blockFor(e.block)
		b.left = append(b.left, e)
	}
	for _, e := range rightEntries {
		b := blockFor(e.block)
		rank := ranks[e.key]
		b.right[rank] = append(b.right[rank], e.id)
	}

	half := (s.cfg.Window - 1) / 2
	set := models.NewPairSet(self)
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, l := range b.left {
			rank := ranks[l.key]
			for d := -half; d <= half; d++ {
				for _, r := range b.right[rank+d] {
					set.Add(l.id, r)
				}
			}
		}
	}

	log.WithFields(map[string]any{
		"left_records":  left.Len(),
		"right_records": right.Len(),
		"left_skipped":  leftSkipped,
		"right_skipped": rightSkipped,
		"blocks":        len(blocks),
		"window":        s.cfg.Window,
		"pairs":         set.Len(),
	}).Debug("Sorted neighbourhood index complete")

	return set.Pairs(), nil
}

func (s *SortedNeighbourhood) entries(c *models.Collection, left bool) ([]sortEntry, int) {
	entries := make([]sortEntry, 0, c.Len())
	skipped := 0
	field := s.cfg.SortOn.Side(left)
	for _, r := range c.Records() {
		key, ok := sortKeyOf(r, field)
		if !ok {
			skipped++
			continue
		}
		block, ok := blockKey(r, s.cfg.BlockOn, left)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, sortEntry{id: r.ID, key: key, block: block})
	}
	return entries, skipped
}

// sortKey orders numbers and dates (as numbers) before text.
type sortKey struct {
	text  bool
	num   float64
	value string
}

func sortKeyOf(r models.Record, field string) (sortKey, bool) {
	if t, ok := r.Time(field); ok {
		return sortKey{num: float64(t.UnixNano())}, true
	}
	if f, ok := r.Float(field); ok {
		return sortKey{num: f}, true
	}
	if s, ok := r.String(field); ok {
		return sortKey{text: true, value: s}, true
	}
	return sortKey{}, false
}

func (k sortKey) less(o sortKey) bool {
	if k.text != o.text {
		return !k.text
	}
	if k.text {
		return k.value < o.value
	}
	return k.num < o.num
}

// rankKeys assigns consecutive positions to the distinct sort keys of both sides.
func rankKeys(left, right []sortEntry) map[sortKey]int {
	distinct := make(map[sortKey]struct{}, len(left)+len(right))
	for _, e := range left {
		distinct[e.key] = struct{}{}
	}
	for _, e := range right {
		distinct[e.key] = struct{}{}
	}

	keys := make([]sortKey, 0, len(distinct))
	for k := range distinct {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	ranks := make(map[sortKey]int, len(keys))
	for i, k := range keys {
		ranks[k] = i
	}
	return ranks
}
