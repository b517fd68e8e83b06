// Package alerts builds and persists dispensation alerts.
package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/fusion"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Build assembles the alert of one scored window.
func Build(v *domain.FeatureVector, modelScore float64, d fusion.Decision, rr *rules.Result, modelID string, now time.Time) *domain.Alert {
	var (
		ruleScore float64
		texts     []string
		fired     map[string]domain.FiredRule
	)
	if rr != nil {
		ruleScore = rr.Score
		texts = rr.Reasons
		fired = rr.Fired
	}
	if fired == nil {
		fired = map[string]domain.FiredRule{}
	}
	if texts == nil {
		texts = []string{}
	}

	return &domain.Alert{
		TerminalCode:   v.TerminalCode,
		WindowStart:    v.WindowStart,
		AnomalyType:    domain.AnomalyTypeDispensation,
		Severity:       d.Severity,
		Score:          d.Final,
		ModelScore:     modelScore,
		RuleScore:      ruleScore,
		Amount:         v.Amount,
		ExpectedAmount: v.BaselineMean,
		DeviationSigma: features.ZScore(v.Amount, v.BaselineMean, v.BaselineStd),
		Description:    Describe(v, texts),
		Reasons: domain.AlertReasons{
			ModelScore: modelScore,
			RuleScore:  ruleScore,
			FinalScore: d.Final,
			Texts:      texts,
			Fired:      fired,
		},
		ModelID:       modelID,
		LowConfidence: v.LowConfidence,
		DetectedAt:    now.UTC(),
	}
}

// Describe renders the human readable summary of an alert.
func Describe(v *domain.FeatureVector, reasons []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Terminal %s dispensed %s (historical mean: %s)",
		v.TerminalCode, rules.FormatMoney(v.Amount), rules.FormatMoney(v.BaselineMean))
	if len(reasons) > 0 {
		sb.WriteString(". Reasons: ")
		sb.WriteString(strings.Join(reasons, "; "))
	}
	return sb.String()
}
