// Package fusion combines model and rule scores into a final score and severity.
package fusion

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Default weighted policy parameters.
const (
	DefaultModelWeight = 0.6
	DefaultRuleWeight  = 0.4

	DefaultCriticalThreshold = 0.9
	DefaultHighThreshold     = 0.7
	DefaultMediumThreshold   = 0.5
)

// Processor turns sub-scores into a decision. It is immutable after construction.
type Processor struct {
	Policy domain.FusionPolicy

	ModelWeight float64
	RuleWeight  float64

	// Lower bounds of each severity tier, inclusive.
	CriticalThreshold float64
	HighThreshold     float64
	MediumThreshold   float64
}

// NewProcessor creates a processor for policy with the default weights and thresholds.
func NewProcessor(policy domain.FusionPolicy) (*Processor, error) {
	switch policy {
	case domain.PolicyWeighted, domain.PolicyLegacy:
	case "":
		policy = domain.PolicyWeighted
	default:
		return nil, fmt.Errorf("unknown fusion policy %q: %w", policy, domain.ErrInvalidInput)
	}
	return &Processor{
		Policy:            policy,
		ModelWeight:       DefaultModelWeight,
		RuleWeight:        DefaultRuleWeight,
		CriticalThreshold: DefaultCriticalThreshold,
		HighThreshold:     DefaultHighThreshold,
		MediumThreshold:   DefaultMediumThreshold,
	}, nil
}

// Input holds the sub-scores of one window.
type Input struct {
	ModelScore float64 // normalized, 0-100
	RuleScore  float64 // 0-1
	ZTerminal  float64

	// Outlier is the model's own contamination decision; only the legacy policy reads it.
	Outlier bool
}

// Decision is the fused outcome of one window.
type Decision struct {
	Final    float64
	Severity domain.Severity
	Policy   domain.FusionPolicy
}

// Alert reports whether the decision is persisted.
func (d Decision) Alert() bool {
	return d.Severity != domain.SeverityNormal
}

// Decide applies the configured policy.
func (p *Processor) Decide(in Input) Decision {
	if p.Policy == domain.PolicyLegacy {
		if !in.Outlier {
			return Decision{Final: clamp01(in.ModelScore / 100), Severity: domain.SeverityNormal, Policy: p.Policy}
		}
		return Decision{
			Final:    clamp01(in.ModelScore / 100),
			Severity: ClassifyLegacy(in.ModelScore, in.ZTerminal),
			Policy:   p.Policy,
		}
	}

	final := p.Fuse(in.ModelScore, in.RuleScore)
	return Decision{Final: final, Severity: p.Classify(final), Policy: p.Policy}
}

// Fuse computes modelWeight × model/100 + ruleWeight × rule, clamped to [0,1].
// Non-finite inputs count as 0.
func (p *Processor) Fuse(modelScore, ruleScore float64) float64 {
	m := clamp01(finite(modelScore) / 100)
	r := clamp01(finite(ruleScore))
	return clamp01(p.ModelWeight*m + p.RuleWeight*r)
}

// Classify maps a fused score to a severity tier.
func (p *Processor) Classify(final float64) domain.Severity {
	switch {
	case final >= p.CriticalThreshold:
		return domain.SeverityCritical
	case final >= p.HighThreshold:
		return domain.SeverityHigh
	case final >= p.MediumThreshold:
		return domain.SeverityMedium
	default:
		return domain.SeverityNormal
	}
}

// ClassifyLegacy grades a model-flagged outlier from its normalized model
// score and terminal z-score.
//
// Deprecated: reproduces historical alerts only; use Processor.Classify.
func ClassifyLegacy(modelScore, z float64) domain.Severity {
	absZ := math.Abs(finite(z))
	score := finite(modelScore)
	switch {
	case (score >= 80 && absZ >= 4) || score >= 85 || absZ >= 5:
		return domain.SeverityCritical
	case score >= 70 || absZ >= 3:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

func clamp01(x float64) float64 {
	return math.Min(math.Max(x, 0), 1)
}
