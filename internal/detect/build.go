package detect

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/fusion"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Store is the persistence a configured pipeline needs.
type Store interface {
	WindowReader
	RunRecorder
	domain.AlertStore
}

// Build assembles a pipeline from configuration and a loaded artifact.
// It fails with domain.ErrFeatureMismatch when the artifact does not fit the
// feature engine, and with the rule loading error when the rules are invalid.
func Build(cfg *domain.Config, store Store, baselines domain.BaselineReader, artifact *model.Artifact, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if artifact == nil {
		return nil, fmt.Errorf("%w: model artifact is required", domain.ErrInvalidInput)
	}

	scorer, err := model.NewScorer(artifact, domain.FeatureNames())
	if err != nil {
		return nil, err
	}
	normalizer, err := model.NewNormalizer(cfg.Detection.Normalization, artifact)
	if err != nil {
		return nil, err
	}

	ruleConfigs, err := rules.Load(cfg.Rules.OverridePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	ruleEngine, err := rules.NewEngine(ruleConfigs, logger)
	if err != nil {
		return nil, err
	}

	processor, err := fusion.NewProcessor(cfg.Detection.Policy)
	if err != nil {
		return nil, err
	}

	return NewPipeline(Deps{
		Windows:    store,
		Baselines:  baselines,
		Features:   features.NewEngine(cfg.Detection.Location(), cfg.Detection.RecentWindows),
		Scorer:     scorer,
		Normalizer: normalizer,
		Rules:      ruleEngine,
		Fusion:     processor,
		Writer:     alerts.NewWriter(store, cfg.Alerts.ChunkSize, logger),
		Runs:       store,
	}, cfg.Detection, logger)
}
