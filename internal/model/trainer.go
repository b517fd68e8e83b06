package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/baseline"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
)

// WindowLister reads stored windows across all terminals.
type WindowLister interface {
	ListAllWindows(ctx context.Context, from, to time.Time) ([]domain.RawAggregate, error)
}

// Trainer fits artifacts from stored windows.
type Trainer struct {
	windows   WindowLister
	baselines domain.BaselineReader
	engine    *features.Engine
	cfg       domain.ModelConfig
	logger    *slog.Logger
}

// NewTrainer creates a trainer.
func NewTrainer(windows WindowLister, baselines domain.BaselineReader, engine *features.Engine, cfg domain.ModelConfig, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		windows:   windows,
		baselines: baselines,
		engine:    engine,
		cfg:       cfg,
		logger:    logger,
	}
}

// Train builds feature vectors for every stored window in [from, to), fits the
// scaler and forest, and records the contamination threshold and score range.
func (t *Trainer) Train(ctx context.Context, from, to time.Time) (*Artifact, error) {
	start := time.Now()

	windows, err := t.windows.ListAllWindows(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list training windows: %w", err)
	}
	population, err := t.baselines.Population(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get population baseline: %w", err)
	}

	byTerminal := make(map[string][]domain.RawAggregate)
	for _, w := range windows {
		byTerminal[w.TerminalCode] = append(byTerminal[w.TerminalCode], w)
	}
	codes := make([]string, 0, len(byTerminal))
	for code := range byTerminal {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	fallback, err := baseline.BatchFallback(windows)
	if err != nil && !errors.Is(err, domain.ErrInsufficientContext) {
		return nil, err
	}

	var vectors []domain.FeatureVector
	for _, code := range codes {
		series := byTerminal[code]
		fc := features.Context{Population: population}

		fc.Baseline, err = t.baselines.Baseline(ctx, code)
		if err != nil {
			return nil, err
		}
		if fc.Baseline == nil {
			if fallback == nil {
				continue
			}
			fc.Baseline = baseline.ForTerminal(fallback, code)
			fc.LowConfidence = true
		}
		vectors = append(vectors, t.engine.ComputeSeries(nil, series, fc)...)
	}

	rng := rand.New(rand.NewPCG(t.cfg.RandomState, t.cfg.RandomState))
	if t.cfg.SampleSize > 0 && len(vectors) > t.cfg.SampleSize {
		rng.Shuffle(len(vectors), func(i, j int) { vectors[i], vectors[j] = vectors[j], vectors[i] })
		vectors = vectors[:t.cfg.SampleSize]
	}
	if len(vectors) < 2 {
		return nil, fmt.Errorf("only %d training vectors: %w", len(vectors), domain.ErrInsufficientContext)
	}
	if n := features.Sanitize(vectors); n > 0 {
		t.logger.Warn("replaced non-finite training features", "count", n)
	}

	rows := make([][]float64, len(vectors))
	for i := range vectors {
		rows[i] = vectors[i].Values()
	}
	scaler, err := FitScaler(rows)
	if err != nil {
		return nil, err
	}
	scaled := make([][]float64, len(rows))
	for i, row := range rows {
		scaled[i] = scaler.Transform(row, nil)
	}

	forest, err := FitForest(scaled, ForestParams{
		Trees:       t.cfg.Trees,
		MaxSamples:  t.cfg.MaxSamples,
		MaxFeatures: t.cfg.MaxFeatures,
		Seed:        t.cfg.RandomState,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fit forest: %w", err)
	}

	raw := make([]float64, len(scaled))
	for i, row := range scaled {
		raw[i] = forest.Score(row)
	}
	sort.Float64s(raw)

	a := &Artifact{
		Version:      ArtifactVersion,
		ModelID:      uuid.New().String(),
		FeatureNames: domain.FeatureNames(),
		Scaler:       scaler,
		Forest:       forest,
		Training: TrainingInfo{
			Contamination: t.cfg.Contamination,
			Trees:         t.cfg.Trees,
			MaxSamples:    t.cfg.MaxSamples,
			MaxFeatures:   t.cfg.MaxFeatures,
			RandomState:   t.cfg.RandomState,
			Samples:       len(vectors),
			Terminals:     len(codes),
			From:          from.UTC(),
			To:            to.UTC(),
			TrainedAt:     time.Now().UTC(),
			Threshold:     baseline.Quantile(raw, t.cfg.Contamination),
			ScoreMin:      raw[0],
			ScoreMax:      raw[len(raw)-1],
		},
	}

	t.logger.Info("model trained",
		"model_id", a.ModelID,
		"samples", a.Training.Samples,
		"terminals", a.Training.Terminals,
		"threshold", a.Training.Threshold,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return a, nil
}
