package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/internal/repositories/records"
	"github.com/Ramsey-B/sorrel/pkg/activelearning"
	"github.com/Ramsey-B/sorrel/pkg/labels"
	"github.com/Ramsey-B/sorrel/pkg/pipeline"
)

func newLabelCmd(root *rootOptions) *cobra.Command {
	var maxQuestions int

	cmd := &cobra.Command{
		Use:   "label",
		Short: "Label uncertain pairs interactively to build training data",
		Long: "Asks about the candidate pairs the current model is least sure of. " +
			"Answer y (match), n (distinct), u (unsure) or f (finished). " +
			"Labels are appended to labels.path as they are given.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := loadDefinition(root)
			if err != nil {
				return err
			}
			if def.Labels.Path == "" {
				return errors.Errorf("definition %s has no labels.path", def.Name)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, root.envFile)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.connect(ctx, needs{source: true}); err != nil {
				return err
			}

			p := pipeline.New(def, pipeline.Dependencies{Records: records.NewRepository(a.source, a.log)}, a.log, pipeline.Options{
				Workers:  workerCount(a.cfg.WorkerCount),
				CacheDir: a.cfg.CacheDir,
				Progress: cmd.ErrOrStderr(),
			})
			features, err := p.Features(ctx)
			if err != nil {
				return err
			}

			var validation *labels.Set
			if def.Labels.ValidationPath != "" {
				if validation, err = labels.NewStore(def.Labels.ValidationPath, a.log).Load(ctx); err != nil {
					return err
				}
			}

			limit := def.Labels.MaxQuestions
			if maxQuestions > 0 {
				limit = maxQuestions
			}
			loop := activelearning.NewLoop(
				a.log,
				labels.NewStore(def.Labels.Path, a.log),
				activelearning.NewConsoleLabeler(cmd.InOrStdin(), cmd.OutOrStdout(), def.Labels.Display),
				validation,
				activelearning.Config{
					MaxQuestions: limit,
					RecallTarget: def.Labels.RecallTarget,
					NaiveBayes:   def.Classifier.NaiveBayes,
				},
			)
			result, err := loop.Run(ctx, features.Set, features.Left, features.Right)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nasked %d: %d match, %d distinct, %d unsure (%s)\n",
				result.Asked, result.Matches, result.Distincts, result.Unsure, result.Reason)
			switch {
			case result.RecallMeasured:
				fmt.Fprintf(out, "recall on validation labels: %.3f\n", result.Recall)
			case validation != nil:
				fmt.Fprintln(out, "recall not measured: the model needs at least one match and one distinct label")
			}
			if result.Model != nil && def.Classifier.ModelPath != "" {
				if err := result.Model.Save(def.Classifier.ModelPath); err != nil {
					return err
				}
				fmt.Fprintf(out, "model saved to %s\n", def.Classifier.ModelPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxQuestions, "max-questions", 0, "stop after this many questions (overrides labels.max_questions)")
	return cmd
}
