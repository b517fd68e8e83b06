// Harrier - ATM dispensation anomaly detection and scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/worker"
)

func newScoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "score <file>...",
		Short: "Score one or more window files and print the run summaries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, files []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			pipeline, err := a.pipeline()
			if err != nil {
				return err
			}
			w := worker.NewWorker(nil, a.repo, pipeline, ingest.NewParser(a.cfg.Detection.Location(), a.logger), a.logger)

			failed := 0
			for _, path := range files {
				res, err := w.ProcessFile(cmd.Context(), path)
				if err != nil {
					a.logger.Error("failed to score window file", "file", path, "error", err)
					failed++
					continue
				}
				if err := a.printJSON(res.Summary); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d window files failed", failed, len(files))
			}
			return nil
		},
	}
}

func newBackfillCmd(a *app) *cobra.Command {
	var fromFlag, toFlag string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-score stored windows in [from, to)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := a.cfg.Detection.Location()
			from, err := parseDate(fromFlag, loc)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			to, err := parseDate(toFlag, loc)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			if !to.After(from) {
				return fmt.Errorf("--to must be after --from")
			}

			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			pipeline, err := a.pipeline()
			if err != nil {
				return err
			}

			windows, err := a.repo.ListAllWindows(cmd.Context(), from, to)
			if err != nil {
				return fmt.Errorf("failed to list windows: %w", err)
			}
			a.logger.Info("backfill started",
				"from", from,
				"to", to,
				"windows", len(windows),
				"batch_size", a.cfg.Detection.BatchSize,
			)

			results, err := pipeline.Backfill(cmd.Context(), "backfill", windows, a.cfg.Detection.BatchSize)

			total := backfillTotals{Batches: len(results), Alerts: map[domain.Severity]int{}}
			for _, res := range results {
				s := res.Summary
				total.WindowsScored += s.WindowsScored
				total.AlertsWritten += s.AlertsWritten
				total.AlertsFailed += s.AlertsFailed
				total.Skipped += len(s.Skipped)
				for sev, n := range s.Alerts {
					total.Alerts[sev] += n
				}
			}
			if perr := a.printJSON(total); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "start of the range, YYYY-MM-DD or RFC3339 (inclusive)")
	cmd.Flags().StringVar(&toFlag, "to", "", "end of the range, YYYY-MM-DD or RFC3339 (exclusive)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

type backfillTotals struct {
	Batches       int                     `json:"batches"`
	WindowsScored int                     `json:"windowsScored"`
	Alerts        map[domain.Severity]int `json:"alerts"`
	AlertsWritten int                     `json:"alertsWritten"`
	AlertsFailed  int                     `json:"alertsFailed"`
	Skipped       int                     `json:"skipped"`
}

func newTrainCmd(a *app) *cobra.Command {
	var (
		sampleSize  int
		randomState uint64
		output      string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a new outlier model artifact from stored windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("sample-size") {
				a.cfg.Model.SampleSize = sampleSize
			}
			if flags.Changed("random-state") {
				a.cfg.Model.RandomState = randomState
			}
			if output == "" {
				output = a.cfg.Model.ArtifactPath
			}

			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			engine := features.NewEngine(a.cfg.Detection.Location(), a.cfg.Detection.RecentWindows)
			trainer := model.NewTrainer(a.repo, a.baselines, engine, a.cfg.Model, a.logger)

			to := time.Now()
			artifact, err := trainer.Train(cmd.Context(), to.Add(-a.cfg.Model.TrainLookback), to)
			if err != nil {
				return err
			}
			if err := artifact.Save(output); err != nil {
				return err
			}

			a.logger.Info("model artifact saved", "path", output, "model_id", artifact.ModelID)
			return a.printJSON(artifact.Training)
		},
	}

	cmd.Flags().IntVar(&sampleSize, "sample-size", 0, "train on a random sample of this many windows (0 = all)")
	cmd.Flags().Uint64Var(&randomState, "random-state", 0, "seed for sampling and tree construction")
	cmd.Flags().StringVarP(&output, "output", "o", "", "artifact path (defaults to model.artifact_path)")
	return cmd
}

func newBaselinesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "baselines",
		Short: "Recompute terminal and population baselines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			res, err := a.baselineJob().Run(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
}

// parseDate accepts YYYY-MM-DD (midnight in loc) or RFC3339.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
