// Package compare turns candidate pairs into feature vectors and caches them on disk.
package compare

import (
	"context"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/similarity"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const (
	// DefaultWorkers is used when Options.Workers is not set.
	DefaultWorkers = 4
	// chunkSize is the number of pairs a worker scores per task.
	chunkSize = 1024
)

// Options configures a Comparator.
type Options struct {
	Workers int
	// Progress receives a progress bar when set.
	Progress io.Writer
}

// Comparator scores candidate pairs against an ordered list of comparisons.
type Comparator struct {
	log     ectologger.Logger
	scorer  *similarity.Scorer
	workers int
	output  io.Writer
}

func NewComparator(log ectologger.Logger, opts Options) *Comparator {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Comparator{
		log:     log,
		scorer:  similarity.NewScorer(),
		workers: workers,
		output:  opts.Progress,
	}
}

const progressTemplate pb.ProgressBarTemplate = `{{with string . "prefix"}}{{.}} {{end}}{{counters . }} {{bar . }} {{percent . }} {{etime . }}`

// Compute returns one feature vector per pair, in pair order. A nil right
// collection compares left against itself. The output depends only on the
// inputs, so it is safe to cache.
func (c *Comparator) Compute(
	ctx context.Context,
	pairs []models.CandidatePair,
	left, right *models.Collection,
	comparisons []Comparison,
) (*models.FeatureSet, error) {
	ctx, span := tracing.StartSpan(ctx, "compare.Comparator.Compute")
	defer span.End()

	if err := Validate(comparisons); err != nil {
		return nil, err
	}
	if right == nil {
		right = left
	}

	log := c.log.WithContext(ctx)
	start := time.Now()

	workers := c.workers
	if chunks := (len(pairs) + chunkSize - 1) / chunkSize; workers > chunks {
		workers = max(chunks, 1)
	}
	log.Infof("Computing features: %d pairs with concurrency %d", len(pairs), workers)

	var bar *pb.ProgressBar
	if c.output != nil {
		bar = progressTemplate.New(len(pairs))
		bar.SetWriter(c.output)
		bar.Set("prefix", "comparing")
		bar.Start()
		defer bar.Finish()
	}

	vectors := make([]models.FeatureVector, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < len(pairs); lo += chunkSize {
		hi := min(lo+chunkSize, len(pairs))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				p := pairs[i]
				l, ok := left.Get(p.Left)
				if !ok {
					return errors.Wrapf(models.ErrRecordNotFound, "left record %s", p.Left)
				}
				r, ok := right.Get(p.Right)
				if !ok {
					return errors.Wrapf(models.ErrRecordNotFound, "right record %s", p.Right)
				}

				scores := make([]float64, len(comparisons))
				for j, cmp := range comparisons {
					scores[j] = score(c.scorer, cmp, l, r)
				}
				vectors[i] = models.FeatureVector{Pair: p, Scores: scores}
			}
			if bar != nil {
				bar.Add(hi - lo)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Failed to compute features")
		return nil, err
	}

	log.WithFields(map[string]any{
		"pairs":       len(pairs),
		"comparisons": len(comparisons),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Computed features")

	return models.NewFeatureSet(Labels(comparisons), vectors), nil
}

// ComputeCached serves the feature set from cache when the cache was written for
// the same fingerprint and the same pairs, and otherwise computes and saves it.
// The boolean reports a cache hit. Any unusable cache is a miss.
func (c *Comparator) ComputeCached(
	ctx context.Context,
	cache *Cache,
	pairs []models.CandidatePair,
	left, right *models.Collection,
	comparisons []Comparison,
) (*models.FeatureSet, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "compare.Comparator.ComputeCached")
	defer span.End()

	if cache == nil {
		fs, err := c.Compute(ctx, pairs, left, right, comparisons)
		return fs, false, err
	}

	log := c.log.WithContext(ctx)
	fp := Fingerprint(comparisons, left, right)

	fs, err := cache.Load(ctx, fp, pairs, Labels(comparisons))
	if err == nil {
		log.WithFields(map[string]any{"path": cache.Path(), "pairs": fs.Len()}).Info("Feature cache hit")
		return fs, true, nil
	}
	log.WithFields(map[string]any{"path": cache.Path(), "reason": err.Error()}).Info("Feature cache miss")

	fs, err = c.Compute(ctx, pairs, left, right, comparisons)
	if err != nil {
		return nil, false, err
	}
	if err := cache.Save(ctx, fp, fs); err != nil {
		return nil, false, err
	}
	return fs, false, nil
}
