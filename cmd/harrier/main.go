// Harrier - ATM dispensation anomaly detection and scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/harrier/internal/baseline"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logging"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/repository"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// app carries the flags and the components shared by every subcommand.
type app struct {
	configPath    string
	contamination float64
	chunkSize     int
	batchSize     int

	cfg    *domain.Config
	logger *slog.Logger
	stdout io.Writer

	repo      *repository.SQLRepository
	cache     domain.Cache
	baselines *baseline.Store
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: os.Stdout}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		slog.Error("harrier failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "harrier",
		Short:         "ATM dispensation anomaly detection",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().Float64Var(&a.contamination, "contamination", 0, "expected outlier share used for the model threshold")
	cmd.PersistentFlags().IntVar(&a.chunkSize, "chunk-size", 0, "alerts written per transaction")
	cmd.PersistentFlags().IntVar(&a.batchSize, "batch-size", 0, "windows per scoring batch in backfills")

	cmd.AddCommand(
		newServeCmd(a),
		newScoreCmd(a),
		newBackfillCmd(a),
		newTrainCmd(a),
		newBaselinesCmd(a),
	)
	return cmd
}

// loadConfig reads the config file and environment, then applies flag overrides.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("contamination") {
		cfg.Model.Contamination = a.contamination
	}
	if flags.Changed("chunk-size") {
		cfg.Alerts.ChunkSize = a.chunkSize
	}
	if flags.Changed("batch-size") {
		cfg.Detection.BatchSize = a.batchSize
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(a.logger)

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}
	return nil
}

// open initializes the repository, cache and baseline store.
func (a *app) open() error {
	repo, err := repository.New(a.cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.repo = repo
	a.logger.Info("repository initialized", "driver", repo.Driver())

	cacheImpl, err := cache.New(a.cfg.Cache)
	if err != nil {
		repo.Close()
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.cache = cacheImpl
	a.logger.Info("cache initialized", "type", a.cfg.Cache.Type)

	a.baselines = baseline.NewStore(repo, cacheImpl, a.cfg.Cache.BaselineTTL, a.logger)
	return nil
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

// pipeline loads the model artifact and assembles the scoring pipeline.
func (a *app) pipeline() (*detect.Pipeline, error) {
	artifact, err := model.LoadArtifact(a.cfg.Model.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model artifact (run `harrier train` first): %w", err)
	}
	a.logger.Info("model artifact loaded",
		"model_id", artifact.ModelID,
		"features", len(artifact.FeatureNames),
		"trees", len(artifact.Forest.Trees),
	)
	return detect.Build(a.cfg, a.repo, a.baselines, artifact, a.logger)
}

func (a *app) baselineJob() *baseline.Job {
	return baseline.NewJob(a.repo, a.baselines, a.cfg.Baseline.Lookback, a.cfg.Detection.Location(), a.logger)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
