package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/internal/repositories/entitymap"
	"github.com/Ramsey-B/sorrel/internal/repositories/records"
	"github.com/Ramsey-B/sorrel/internal/repositories/runs"
	"github.com/Ramsey-B/sorrel/pkg/clustering"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/pipeline"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var (
		top    int
		raw    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the largest entities found by a deduplication run",
		Long: "Ranks entities by output.total_field summed over their records when the definition sets it, " +
			"otherwise by cluster size. Unmatched records rank as their own entity.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := loadDefinition(root)
			if err != nil {
				return err
			}
			if def.Mode != pipeline.ModeDedupe {
				return fmt.Errorf("report needs a dedupe definition, %s is %s", def.Name, def.Mode)
			}
			if top <= 0 {
				top = def.Output.TopN
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, root.envFile)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			byTotal := def.Output.TotalField != ""
			withRecords := byTotal || len(def.Profile) > 0
			if err := a.connect(ctx, needs{source: withRecords, output: true}); err != nil {
				return err
			}

			last, err := runs.NewRepository(a.output, a.log).Latest(ctx, def.Name)
			if err != nil {
				return err
			}

			var collection *models.Collection
			if withRecords {
				if collection, err = records.NewRepository(a.source, a.log).All(ctx, def.Left); err != nil {
					return err
				}
			}

			repo := entitymap.NewRepository(a.output, a.log)
			var rep report
			if byTotal {
				canonical, err := repo.CanonicalMap(ctx, def.Output.Collection)
				if err != nil {
					return err
				}
				rep = totalsReport(collection, canonical, def, top, raw)
			} else if rep, err = sizeReport(ctx, repo, collection, def, top); err != nil {
				return err
			}
			rep.LastRun = last

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printLastRun(cmd.OutOrStdout(), def.Name, last)
			printRanked(cmd.OutOrStdout(), "Top entities (deduplicated)", rep.Entities)
			if len(rep.Raw) > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
				printRanked(cmd.OutOrStdout(), "Top records (raw)", rep.Raw)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 0, "number of entities to list (defaults to output.top_n)")
	cmd.Flags().BoolVar(&raw, "raw", true, "also rank records without deduplication when output.total_field is set")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

// report is the output of `sorrel report`. Total is set only when ranking by
// output.total_field.
type report struct {
	LastRun  *models.PipelineRun `json:"last_run"`
	Entities []rankedProfile     `json:"entities"`
	Raw      []rankedProfile     `json:"raw,omitempty"`
}

type rankedProfile struct {
	clustering.Profile
	Total *float64 `json:"total,omitempty"`
}

// totalsReport ranks every record of the collection under its canonical id,
// and optionally again with no deduplication for comparison.
func totalsReport(collection *models.Collection, canonical map[string]string, def *pipeline.Definition, top int, raw bool) report {
	rank := func(canonical map[string]string) []rankedProfile {
		totals := clustering.RankTotals(collection, canonical, def.Output.TotalField, top)
		ranked := make([]rankedProfile, len(totals))
		for i, t := range totals {
			total := t.Total
			ranked[i] = rankedProfile{
				Profile: clustering.BuildProfile(t.Cluster(), collection, def.Profile),
				Total:   &total,
			}
		}
		return ranked
	}

	rep := report{Entities: rank(canonical)}
	if raw {
		rep.Raw = rank(nil)
	}
	return rep
}

// sizeReport ranks stored clusters by member count.
func sizeReport(ctx context.Context, repo *entitymap.Repository, collection *models.Collection, def *pipeline.Definition, top int) (report, error) {
	sizes, err := repo.TopClusters(ctx, def.Output.Collection, top)
	if err != nil {
		return report{}, err
	}

	var rep report
	for _, size := range sizes {
		entries, err := repo.Members(ctx, def.Output.Collection, size.CanonicalID)
		if err != nil {
			return report{}, err
		}
		cluster := models.EntityCluster{CanonicalID: size.CanonicalID}
		for _, e := range entries {
			cluster.Members = append(cluster.Members, models.ClusterMember{RecordID: e.RecordID, Score: e.ClusterScore})
		}
		rep.Entities = append(rep.Entities, rankedProfile{Profile: clustering.BuildProfile(cluster, collection, def.Profile)})
	}
	return rep, nil
}

func printLastRun(w io.Writer, name string, run *models.PipelineRun) {
	if run == nil {
		fmt.Fprintf(w, "%s has never run\n\n", name)
		return
	}
	fmt.Fprintf(w, "%s run %s %s at %s\n\n", name, run.ID, run.Status, run.StartedAt.Format(time.RFC3339))
}

func printRanked(w io.Writer, title string, ranked []rankedProfile) {
	fmt.Fprintln(w, title)
	for i, p := range ranked {
		if p.Total != nil {
			fmt.Fprintf(w, "%2d. %s %.2f (%d records)\n", i+1, p.CanonicalID, *p.Total, p.Size)
		} else {
			fmt.Fprintf(w, "%2d. %s (%d records)\n", i+1, p.CanonicalID, p.Size)
		}
		fields := make([]string, 0, len(p.Fields))
		for f := range p.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(w, "      %-20s %s\n", f, formatValue(p.Fields[f]))
		}
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case []any:
		parts := make([]string, len(t))
		for i, x := range t {
			parts[i] = formatValue(x)
		}
		return strings.Join(parts, "; ")
	case []string:
		return strings.Join(t, "; ")
	case float64:
		return fmt.Sprintf("%.2f", t)
	default:
		return fmt.Sprint(t)
	}
}
