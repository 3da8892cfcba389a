package indexing

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Full emits the cross product of both collections, or every unordered pair
// within one collection. O(n·m); intended for small inputs and as a baseline.
type Full struct {
	log ectologger.Logger
}

func NewFull(log ectologger.Logger) *Full {
	return &Full{log: log}
}

func (f *Full) Index(ctx context.Context, left, right *models.Collection) ([]models.CandidatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "indexing.Full.Index")
	defer span.End()

	right, self := sides(left, right)
	set := models.NewPairSet(self)

	leftIDs := left.IDs()
	rightIDs := right.IDs()
	for i, l := range leftIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := 0
		if self {
			start = i + 1
		}
		for _, r := range rightIDs[start:] {
			set.Add(l, r)
		}
	}

	f.log.WithContext(ctx).WithFields(map[string]any{
		"left_records":  left.Len(),
		"right_records": right.Len(),
		"pairs":         set.Len(),
	}).Debug("Full index complete")

	return set.Pairs(), nil
}
