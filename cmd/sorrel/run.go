package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/internal/repositories/entitymap"
	"github.com/Ramsey-B/sorrel/internal/repositories/records"
	"github.com/Ramsey-B/sorrel/internal/repositories/runs"
	"github.com/Ramsey-B/sorrel/pkg/graph"
	"github.com/Ramsey-B/sorrel/pkg/pipeline"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		retrain  bool
		progress bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline definition and write the entity map",
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := loadDefinition(root)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, root.envFile)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.connect(ctx, needs{source: true, output: true, graph: def.Output.Graph, events: def.Output.Events}); err != nil {
				return err
			}

			deps := pipeline.Dependencies{
				Records:   records.NewRepository(a.source, a.log),
				EntityMap: entitymap.NewRepository(a.output, a.log),
				Runs:      runs.NewRepository(a.output, a.log),
			}
			if a.graph != nil {
				deps.Graph = graph.NewClusterExporter(a.graph, a.log, a.cfg.GraphBatchSize)
			}
			if a.producer != nil {
				deps.Events = a.producer
			}

			opts := pipeline.Options{
				Workers:  workerCount(a.cfg.WorkerCount),
				CacheDir: a.cfg.CacheDir,
				Retrain:  retrain,
			}
			if progress {
				opts.Progress = cmd.ErrOrStderr()
			}

			summary, err := pipeline.New(def, deps, a.log, opts).Run(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().BoolVar(&retrain, "retrain", false, "fit a new naive Bayes model from the labels even if a saved one exists")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar while comparing pairs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

func loadDefinition(root *rootOptions) (*pipeline.Definition, error) {
	if root.definition == "" {
		return nil, errors.New("a pipeline definition is required (--definition)")
	}
	return pipeline.Load(root.definition)
}

func workerCount(configured int) int {
	if configured > 0 {
		return configured
	}
	return runtime.GOMAXPROCS(0)
}

func printSummary(w io.Writer, s *pipeline.Summary) {
	fmt.Fprintf(w, "run %s (%s)\n", s.RunID, s.Definition)
	fmt.Fprintf(w, "  records          %d left, %d right\n", s.LeftRecords, s.RightRecords)
	fmt.Fprintf(w, "  candidate pairs  %d\n", s.CandidatePairs)
	fmt.Fprintf(w, "  accepted pairs   %d\n", s.AcceptedPairs)
	if s.Clusters > 0 {
		fmt.Fprintf(w, "  clusters         %d (%d records)\n", s.Clusters, s.MatchedRecords)
	}
	fmt.Fprintf(w, "  feature cache    %s\n", map[bool]string{true: "hit", false: "miss"}[s.FeatureCacheHit])

	phases := make([]string, 0, len(s.Phases))
	for name := range s.Phases {
		phases = append(phases, name)
	}
	sort.Slice(phases, func(i, j int) bool { return s.Phases[phases[i]] > s.Phases[phases[j]] })
	for _, name := range phases {
		fmt.Fprintf(w, "  %-16s %s\n", name, s.Phases[name])
	}
	fmt.Fprintf(w, "  total            %s\n", s.Duration)
}
