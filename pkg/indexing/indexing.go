// Package indexing generates candidate record pairs from one or two collections.
// Every strategy is deterministic and returns pairs without duplicates, sorted by
// left id then right id. Passing a nil right collection selects deduplication:
// pairs are unordered, Left sorts before Right and self-pairs never appear.
package indexing

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
)

// Indexer produces the candidate pairs to be compared.
type Indexer interface {
	Index(ctx context.Context, left, right *models.Collection) ([]models.CandidatePair, error)
}

// Type selects a blocking strategy.
type Type string

const (
	TypeFull                Type = "full"
	TypeSortedNeighbourhood Type = "sorted_neighbourhood"
	TypeInvertedIndex       Type = "inverted_index"
)

// Config is the indexer section of a pipeline definition.
type Config struct {
	Type Type `yaml:"type" validate:"required,oneof=full sorted_neighbourhood inverted_index"`

	// Sorted neighbourhood
	SortOn  FieldPair   `yaml:"sort_on"`
	BlockOn []FieldPair `yaml:"block_on" validate:"dive"`
	Window  int         `yaml:"window"`

	// Inverted index
	Fields       []IndexField `yaml:"fields" validate:"dive"`
	MaxBlockSize int          `yaml:"max_block_size" validate:"gte=0"`
	// StopWordRatio drops tokens present in more than this share of indexed
	// values. Zero disables it.
	StopWordRatio float64 `yaml:"stop_word_ratio" validate:"gte=0,lte=1"`
}

// FieldPair names a field on each side. Right defaults to Left.
type FieldPair struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

// Side returns the field for the left (true) or right side.
func (f FieldPair) Side(left bool) string {
	if left || f.Right == "" {
		return f.Left
	}
	return f.Right
}

// New builds the indexer described by cfg.
func New(cfg Config, log ectologger.Logger) (Indexer, error) {
	switch cfg.Type {
	case TypeFull:
		return NewFull(log), nil
	case TypeSortedNeighbourhood:
		return NewSortedNeighbourhood(SortedNeighbourhoodConfig{
			SortOn:  cfg.SortOn,
			BlockOn: cfg.BlockOn,
			Window:  cfg.Window,
		}, log)
	case TypeInvertedIndex:
		return NewInvertedIndex(InvertedIndexConfig{
			Fields:        cfg.Fields,
			MaxBlockSize:  cfg.MaxBlockSize,
			StopWordRatio: cfg.StopWordRatio,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported indexer type: %s", cfg.Type)
	}
}

// sides returns the right collection to pair against and whether this is a self comparison.
func sides(left, right *models.Collection) (*models.Collection, bool) {
	if right == nil || right == left {
		return left, true
	}
	return right, false
}

// blockKey joins normalized block field values. A record missing any block
// field has no key.
func blockKey(r models.Record, fields []FieldPair, left bool) (string, bool) {
	if len(fields) == 0 {
		return "", true
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		v, ok := r.String(f.Side(left))
		if !ok {
			return "", false
		}
		parts[i] = normalizers.Apply(v, "trim")
	}
	return strings.Join(parts, "\x1f"), true
}
