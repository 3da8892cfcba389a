package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/sorrel/pkg/classifier"
	"github.com/Ramsey-B/sorrel/pkg/clustering"
	"github.com/Ramsey-B/sorrel/pkg/compare"
	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/indexing"
	"github.com/Ramsey-B/sorrel/pkg/labels"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// RecordSource reads a collection from the upstream store.
type RecordSource interface {
	All(ctx context.Context, q models.SourceQuery) (*models.Collection, error)
}

// EntityWriter persists pipeline output.
type EntityWriter interface {
	ReplaceClusters(ctx context.Context, collection, runID string, clusters []models.EntityCluster) (int, error)
	ReplaceLinks(ctx context.Context, collection, runID string, decisions []models.MatchDecision) (int, error)
}

// RunRecorder keeps the run ledger.
type RunRecorder interface {
	Start(ctx context.Context, run *models.PipelineRun) (*models.PipelineRun, error)
	Finish(ctx context.Context, run *models.PipelineRun, runErr error) error
}

// ClusterExporter mirrors clusters into another store.
type ClusterExporter interface {
	Export(ctx context.Context, collection, runID string, clusters []models.EntityCluster) error
}

// EventPublisher announces pipeline results.
type EventPublisher interface {
	PublishClusters(ctx context.Context, collection, runID string, clusters []models.EntityCluster) error
	PublishRunCompleted(ctx context.Context, run models.PipelineRun) error
}

// Dependencies are the pipeline's collaborators. Runs, Graph and Events may be nil.
type Dependencies struct {
	Records   RecordSource
	EntityMap EntityWriter
	Runs      RunRecorder
	Graph     ClusterExporter
	Events    EventPublisher
}

// Options tune execution without changing results.
type Options struct {
	Workers  int
	Progress io.Writer
	CacheDir string
	// Retrain ignores a saved naive Bayes model and fits a new one from the labels.
	Retrain bool
}

// Features is the comparator output plus the inputs that produced it.
type Features struct {
	Left     *models.Collection
	Right    *models.Collection
	Pairs    []models.CandidatePair
	Set      *models.FeatureSet
	CacheHit bool
}

// Summary reports a finished run.
type Summary struct {
	RunID           string                   `json:"run_id"`
	Definition      string                   `json:"definition"`
	Fingerprint     string                   `json:"fingerprint"`
	LeftRecords     int                      `json:"left_records"`
	RightRecords    int                      `json:"right_records"`
	CandidatePairs  int                      `json:"candidate_pairs"`
	AcceptedPairs   int                      `json:"accepted_pairs"`
	Clusters        int                      `json:"clusters"`
	MatchedRecords  int                      `json:"matched_records"`
	FeatureCacheHit bool                     `json:"feature_cache_hit"`
	Phases          map[string]time.Duration `json:"phases"`
	Duration        time.Duration            `json:"duration"`
}

// Pipeline runs one definition.
type Pipeline struct {
	def  *Definition
	deps Dependencies
	log  ectologger.Logger
	opts Options
}

func New(def *Definition, deps Dependencies, log ectologger.Logger, opts Options) *Pipeline {
	return &Pipeline{def: def, deps: deps, log: log, opts: opts}
}

// Definition returns the definition being run.
func (p *Pipeline) Definition() *Definition {
	return p.def
}

// Run executes the whole job. Any failure after the run row is written marks
// the run failed; InsufficientTrainingData stops the run before classification.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.Run")
	defer span.End()

	start := time.Now()
	fp, err := p.def.Fingerprint()
	if err != nil {
		return nil, err
	}

	run := &models.PipelineRun{
		Definition:  p.def.Name,
		Fingerprint: fp,
		Settings:    database.NewJSONB(p.def.Settings()),
	}
	if p.deps.Runs != nil {
		if run, err = p.deps.Runs.Start(ctx, run); err != nil {
			return nil, err
		}
	} else {
		run.ID = uuid.NewString()
	}

	log := p.log.WithContext(ctx).WithFields(map[string]any{"definition": p.def.Name, "run_id": run.ID})
	log.Info("Pipeline run started")

	summary := &Summary{
		RunID:       run.ID,
		Definition:  p.def.Name,
		Fingerprint: fp,
		Phases:      map[string]time.Duration{},
	}
	runErr := p.run(ctx, run, summary)

	run.CandidatePairs = summary.CandidatePairs
	run.AcceptedPairs = summary.AcceptedPairs
	run.Clusters = summary.Clusters
	run.FeatureCacheHit = summary.FeatureCacheHit
	if p.deps.Runs != nil {
		if err := p.deps.Runs.Finish(ctx, run, runErr); err != nil && runErr == nil {
			runErr = err
		}
	}
	summary.Duration = time.Since(start)

	status := models.PipelineRunStatusSucceeded
	if runErr != nil {
		status = models.PipelineRunStatusFailed
	}
	metrics.PipelineRunsTotal.WithLabelValues(p.def.Name, status).Inc()

	if runErr != nil {
		log.WithError(runErr).Error("Pipeline run failed")
		return summary, runErr
	}

	if p.deps.Events != nil {
		if err := p.deps.Events.PublishRunCompleted(ctx, *run); err != nil {
			log.WithError(err).Warn("Failed to publish run completion")
		}
	}

	log.WithFields(map[string]any{
		"candidate_pairs": summary.CandidatePairs,
		"accepted_pairs":  summary.AcceptedPairs,
		"clusters":        summary.Clusters,
		"cache_hit":       summary.FeatureCacheHit,
		"duration_ms":     summary.Duration.Milliseconds(),
	}).Info("Pipeline run finished")
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, run *models.PipelineRun, summary *Summary) error {
	features, err := p.features(ctx, summary)
	if err != nil {
		return err
	}

	var decisions []models.MatchDecision
	err = p.phase(ctx, summary, "classify", func(ctx context.Context) error {
		c, err := p.Classifier(ctx, features.Set)
		if err != nil {
			return err
		}
		decisions, err = classifier.Classify(c, features.Set, p.def.Classifier.BestPerKey)
		return err
	})
	if err != nil {
		return err
	}
	accepted := classifier.Accepted(decisions)
	summary.AcceptedPairs = len(accepted)
	metrics.AcceptedPairs.WithLabelValues(p.def.Name).Set(float64(len(accepted)))

	collection := p.def.Output.Collection
	if p.def.Mode == ModeLink {
		return p.phase(ctx, summary, "write", func(ctx context.Context) error {
			_, err := p.deps.EntityMap.ReplaceLinks(ctx, collection, run.ID, accepted)
			return err
		})
	}

	var clusters []models.EntityCluster
	err = p.phase(ctx, summary, "cluster", func(ctx context.Context) error {
		clusters = clustering.NewClusterer(p.log).Cluster(ctx, accepted)
		return nil
	})
	if err != nil {
		return err
	}
	summary.Clusters = len(clusters)
	for _, c := range clusters {
		summary.MatchedRecords += len(c.Members)
	}
	metrics.Clusters.WithLabelValues(p.def.Name).Set(float64(len(clusters)))

	return p.phase(ctx, summary, "write", func(ctx context.Context) error {
		if _, err := p.deps.EntityMap.ReplaceClusters(ctx, collection, run.ID, clusters); err != nil {
			return err
		}
		if p.def.Output.Graph && p.deps.Graph != nil {
			if err := p.deps.Graph.Export(ctx, collection, run.ID, clusters); err != nil {
				return err
			}
		}
		if p.def.Output.Events && p.deps.Events != nil {
			if err := p.deps.Events.PublishClusters(ctx, collection, run.ID, clusters); err != nil {
				return err
			}
		}
		return nil
	})
}

// Features loads the collections, blocks and computes (or loads) the feature set.
func (p *Pipeline) Features(ctx context.Context) (*Features, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.Features")
	defer span.End()

	return p.features(ctx, &Summary{Phases: map[string]time.Duration{}})
}

func (p *Pipeline) features(ctx context.Context, summary *Summary) (*Features, error) {
	f := &Features{}

	err := p.phase(ctx, summary, "load", func(ctx context.Context) error {
		var err error
		if f.Left, err = p.deps.Records.All(ctx, p.def.Left); err != nil {
			return err
		}
		if p.def.Mode == ModeLink {
			if f.Right, err = p.deps.Records.All(ctx, *p.def.Right); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	summary.LeftRecords = f.Left.Len()
	summary.RightRecords = f.Right.Len()
	metrics.RecordsLoaded.WithLabelValues(p.def.Name, "left").Set(float64(f.Left.Len()))
	metrics.RecordsLoaded.WithLabelValues(p.def.Name, "right").Set(float64(f.Right.Len()))

	err = p.phase(ctx, summary, "index", func(ctx context.Context) error {
		indexer, err := indexing.New(p.def.Indexer, p.log)
		if err != nil {
			return err
		}
		f.Pairs, err = indexer.Index(ctx, f.Left, f.Right)
		if err != nil {
			return err
		}
		if inv, ok := indexer.(*indexing.InvertedIndex); ok {
			if dropped := inv.Stats().DroppedBlocks; dropped > 0 {
				metrics.BlocksDropped.WithLabelValues(p.def.Name).Add(float64(dropped))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	summary.CandidatePairs = len(f.Pairs)
	metrics.CandidatePairs.WithLabelValues(p.def.Name).Set(float64(len(f.Pairs)))

	err = p.phase(ctx, summary, "compare", func(ctx context.Context) error {
		comparator := compare.NewComparator(p.log, compare.Options{Workers: p.opts.Workers, Progress: p.opts.Progress})
		var err error
		f.Set, f.CacheHit, err = comparator.ComputeCached(ctx, p.cache(), f.Pairs, f.Left, f.Right, p.def.Comparisons)
		return err
	})
	if err != nil {
		return nil, err
	}
	summary.FeatureCacheHit = f.CacheHit
	result := "miss"
	if f.CacheHit {
		result = "hit"
	}
	metrics.FeatureCacheTotal.WithLabelValues(p.def.Name, result).Inc()

	return f, nil
}

// Classifier builds the configured classifier. A naive Bayes model is loaded
// from model_path when it fits the comparisons, otherwise fitted from the
// label store and saved back.
func (p *Pipeline) Classifier(ctx context.Context, fs *models.FeatureSet) (classifier.Classifier, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.Classifier")
	defer span.End()

	cfg := p.def.Classifier
	switch cfg.Type {
	case classifier.TypeThreshold:
		return classifier.NewThreshold(cfg.Threshold, fs.Labels)
	case classifier.TypeNaiveBayes:
	default:
		return nil, errors.Errorf("unknown classifier type %q", cfg.Type)
	}

	log := p.log.WithContext(ctx)
	if cfg.ModelPath != "" && !p.opts.Retrain {
		nb, err := classifier.LoadNaiveBayes(cfg.ModelPath)
		switch {
		case err == nil && slices.Equal(nb.Labels(), fs.Labels):
			log.WithFields(map[string]any{"path": cfg.ModelPath}).Info("Loaded naive Bayes model")
			return nb, nil
		case err == nil:
			log.WithFields(map[string]any{"path": cfg.ModelPath}).Warn("Saved model does not match the comparisons, retraining")
		case !errors.Is(err, os.ErrNotExist):
			log.WithError(err).Warn("Saved model unusable, retraining")
		}
	}

	if p.def.Labels.Path == "" {
		return nil, errors.Wrap(models.ErrInsufficientTrainingData, "no model and no label store")
	}
	set, err := labels.NewStore(p.def.Labels.Path, p.log).Load(ctx)
	if err != nil {
		return nil, err
	}
	nb, err := classifier.TrainNaiveBayes(cfg.NaiveBayes, fs.Labels, classifier.Examples(fs, set.Labels()))
	if err != nil {
		return nil, err
	}
	if cfg.ModelPath != "" {
		if err := nb.Save(cfg.ModelPath); err != nil {
			return nil, err
		}
	}
	m := nb.Model()
	log.WithFields(map[string]any{"positives": m.Positives, "negatives": m.Negatives}).Info("Trained naive Bayes model")
	return nb, nil
}

func (p *Pipeline) cache() *compare.Cache {
	if p.def.Cache.Disabled {
		return nil
	}
	path := p.def.Cache.Features
	if path == "" {
		if p.opts.CacheDir == "" {
			return nil
		}
		path = p.def.Name + ".features.csv.zst"
	}
	if !filepath.IsAbs(path) && p.opts.CacheDir != "" {
		path = filepath.Join(p.opts.CacheDir, path)
	}
	return compare.NewCache(path, p.log)
}

func (p *Pipeline) phase(ctx context.Context, summary *Summary, name string, fn func(ctx context.Context) error) error {
	// A cancelled run stops at the next phase boundary.
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "%s phase", name)
	}

	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline."+name, attribute.String("definition", p.def.Name))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	summary.Phases[name] = elapsed
	metrics.PhaseDuration.WithLabelValues(p.def.Name, name).Observe(elapsed.Seconds())

	p.log.WithContext(ctx).WithFields(map[string]any{
		"definition":  p.def.Name,
		"phase":       name,
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Pipeline phase finished")
	return errors.Wrapf(err, "%s phase", name)
}
