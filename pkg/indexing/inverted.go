package indexing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// IndexField is one field indexed by InvertedIndex.
type IndexField struct {
	Name       string `yaml:"name" validate:"required"`
	Left       string `yaml:"left" validate:"required"`
	Right      string `yaml:"right"`
	Normalizer string `yaml:"normalizer"`
	// Tokenize indexes each word of the value. Otherwise the whole normalized
	// value is a single key, which gives exact key blocking.
	Tokenize bool `yaml:"tokenize"`
}

func (f IndexField) side(left bool) string {
	return FieldPair{Left: f.Left, Right: f.Right}.Side(left)
}

// InvertedIndexConfig configures inverted-index blocking.
type InvertedIndexConfig struct {
	Fields []IndexField
	// MaxBlockSize drops any block holding more records than this. Zero keeps all blocks.
	MaxBlockSize  int
	StopWordRatio float64
}

// BlockEntry is one row of the blocking map.
type BlockEntry struct {
	Key      string `json:"block_key"`
	RecordID string `json:"record_id"`
	Left     bool   `json:"left"`
}

// BlockStats summarizes the last blocking pass.
type BlockStats struct {
	Blocks        int
	DroppedBlocks int
	Entries       int
	Pairs         int
}

type fieldIndex struct {
	docs      int
	frequency map[string]int
}

// InvertedIndex maps normalized field values or tokens to the records holding them
// and pairs records that share at least one key. Field indexes are built first,
// either from a sample with BuildField or lazily from the full field-value set,
// and released once the blocking map exists.
type InvertedIndex struct {
	log ectologger.Logger
	cfg InvertedIndexConfig

	mu     sync.RWMutex
	fields map[string]*fieldIndex
	stats  BlockStats
}

func NewInvertedIndex(cfg InvertedIndexConfig, log ectologger.Logger) (*InvertedIndex, error) {
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("inverted index requires at least one field")
	}
	seen := make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("inverted index field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
		if !normalizers.Exists(f.Normalizer) {
			return nil, fmt.Errorf("unknown normalizer %q on field %q", f.Normalizer, f.Name)
		}
	}
	return &InvertedIndex{log: log, cfg: cfg, fields: make(map[string]*fieldIndex)}, nil
}

// BuildField builds the vocabulary for a field from a set of raw values.
// Calling it again replaces the previous index for the field.
func (x *InvertedIndex) BuildField(field string, values []string) error {
	f, ok := x.field(field)
	if !ok {
		return fmt.Errorf("field %q is not indexed", field)
	}

	idx := &fieldIndex{frequency: make(map[string]int)}
	for _, v := range values {
		keys := keysFor(f, v)
		if len(keys) == 0 {
			continue
		}
		idx.docs++
		for _, k := range keys {
			idx.frequency[k]++
		}
	}

	x.mu.Lock()
	x.fields[field] = idx
	x.mu.Unlock()
	return nil
}

// Built reports whether a field currently holds an index.
func (x *InvertedIndex) Built(field string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.fields[field]
	return ok
}

// Reset releases the index for one field.
func (x *InvertedIndex) Reset(field string) {
	x.mu.Lock()
	delete(x.fields, field)
	x.mu.Unlock()
}

// ResetAll releases every field index.
func (x *InvertedIndex) ResetAll() {
	x.mu.Lock()
	x.fields = make(map[string]*fieldIndex)
	x.mu.Unlock()
}

// Stats returns counts from the most recent Index call.
func (x *InvertedIndex) Stats() BlockStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.stats
}

// BlockingMap emits a (block key, record id) entry for every indexed key of every
// record. Fields without a built index are built from the records themselves.
func (x *InvertedIndex) BlockingMap(ctx context.Context, left, right *models.Collection) ([]BlockEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "indexing.InvertedIndex.BlockingMap")
	defer span.End()

	right, self := sides(left, right)

	var entries []BlockEntry
	for _, f := range x.cfg.Fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !x.Built(f.Name) {
			values := fieldValues(left, f.side(true))
			if !self {
				values = append(values, fieldValues(right, f.side(false))...)
			}
			if err := x.BuildField(f.Name, values); err != nil {
				return nil, err
			}
		}

		x.mu.RLock()
		idx := x.fields[f.Name]
		x.mu.RUnlock()
		stop := x.stopWords(idx)

		emit := func(c *models.Collection, isLeft bool) {
			for _, r := range c.Records() {
				v, ok := r.String(f.side(isLeft))
				if !ok {
					continue
				}
				for _, k := range keysFor(f, v) {
					if _, known := idx.frequency[k]; !known {
						continue
					}
					if _, skip := stop[k]; skip {
						continue
					}
					entries = append(entries, BlockEntry{Key: f.Name + ":" + k, RecordID: r.ID, Left: isLeft})
				}
			}
		}
		emit(left, true)
		if !self {
			emit(right, false)
		}

		x.log.WithContext(ctx).WithFields(map[string]any{
			"field":      f.Name,
			"vocabulary": len(idx.frequency),
			"stop_words": len(stop),
		}).Debug("Indexed field")
	}

	return entries, nil
}

func (x *InvertedIndex) Index(ctx context.Context, left, right *models.Collection) ([]models.CandidatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "indexing.InvertedIndex.Index")
	defer span.End()

	log := x.log.WithContext(ctx)

	// Indexes are only needed to build the blocking map.
	defer x.ResetAll()

	entries, err := x.BlockingMap(ctx, left, right)
	if err != nil {
		return nil, err
	}
	x.ResetAll()

	_, self := sides(left, right)

	type block struct {
		left, right []string
	}
	blocks := make(map[string]*block)
	for _, e := range entries {
		b, ok := blocks[e.Key]
		if !ok {
			b = &block{}
			blocks[e.Key] = b
		}
		if e.Left {
			b.left = append(b.left, e.RecordID)
		} else {
			b.right = append(b.right, e.RecordID)
		}
	}

	keys := make([]string, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := models.NewPairSet(self)
	dropped := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := blocks[k]
		size := len(b.left) + len(b.right)
		if x.cfg.MaxBlockSize > 0 && size > x.cfg.MaxBlockSize {
			dropped++
			log.WithFields(map[string]any{"block": k, "size": size}).Debug("Dropping oversized block")
			continue
		}
		if self {
			for i := range b.left {
				for j := i + 1; j < len(b.left); j++ {
					set.Add(b.left[i], b.left[j])
				}
			}
			continue
		}
		for _, l := range b.left {
			for _, r := range b.right {
				set.Add(l, r)
			}
		}
	}

	stats := BlockStats{Blocks: len(blocks), DroppedBlocks: dropped, Entries: len(entries), Pairs: set.Len()}
	x.mu.Lock()
	x.stats = stats
	x.mu.Unlock()

	log.WithFields(map[string]any{
		"blocks":         stats.Blocks,
		"dropped_blocks": stats.DroppedBlocks,
		"entries":        stats.Entries,
		"pairs":          stats.Pairs,
	}).Debug("Inverted index complete")

	return set.Pairs(), nil
}

func (x *InvertedIndex) field(name string) (IndexField, bool) {
	for _, f := range x.cfg.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return IndexField{}, false
}

func (x *InvertedIndex) stopWords(idx *fieldIndex) map[string]struct{} {
	stop := make(map[string]struct{})
	if x.cfg.StopWordRatio <= 0 || idx.docs == 0 {
		return stop
	}
	for k, n := range idx.frequency {
		if float64(n)/float64(idx.docs) > x.cfg.StopWordRatio {
			stop[k] = struct{}{}
		}
	}
	return stop
}

// keysFor returns the distinct index keys of a raw value.
func keysFor(f IndexField, raw string) []string {
	v := normalizers.Apply(raw, f.Normalizer)
	if !f.Tokenize {
		v = normalizers.Trim(v)
		if v == "" {
			return nil
		}
		return []string{v}
	}

	tokens := normalizers.Tokens(v)
	seen := make(map[string]struct{}, len(tokens))
	keys := tokens[:0]
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		keys = append(keys, t)
	}
	return keys
}

func fieldValues(c *models.Collection, field string) []string {
	values := make([]string, 0, c.Len())
	for _, r := range c.Records() {
		if v, ok := r.String(field); ok {
			values = append(values, v)
		}
	}
	return values
}
