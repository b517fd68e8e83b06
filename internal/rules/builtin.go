package rules

import (
	"math"
	"text/template"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Built-in rule ids.
const (
	RuleExtremeDispensation = "extreme_dispensation"
	RuleSuspiciousHour      = "suspicious_hour"
	RuleDrasticChange       = "drastic_change"
	RuleHistoricalAnomalies = "historical_anomaly_rate"
	RuleGeographicOutlier   = "geographic_outlier"
)

// DefaultRules returns the five dispensation rules. Partial scores above 1 are
// clamped by the engine.
func DefaultRules() []domain.RuleConfig {
	return []domain.RuleConfig{
		{
			ID:          RuleExtremeDispensation,
			Name:        "Extreme dispensation",
			Description: "Amount more than 3 standard deviations from the terminal mean",
			Condition:   "abs_z_terminal > 3.0",
			Score:       "abs_z_terminal / 10.0",
			Reason:      `Extreme dispensation: {{money .amount}} ({{printf "%.1f" .abs_z_terminal}}σ from mean {{money .baseline_mean}})`,
			Weight:      0.30,
			Enabled:     true,
		},
		{
			ID:          RuleSuspiciousHour,
			Name:        "Suspicious hour",
			Description: "Overnight dispensation at a terminal that rarely operates overnight",
			Condition:   "hour >= 0 && hour <= 5 && madrugada_ratio < 0.1",
			Score:       "1.0",
			Reason:      `Overnight dispensation ({{.hour}}:00h) when the terminal normally does not operate`,
			Weight:      0.25,
			Enabled:     true,
		},
		{
			ID:          RuleDrasticChange,
			Name:        "Drastic change",
			Description: "Amount changed by more than 200% against the recent mean",
			Condition:   "has_recent && abs_pct_change > 200.0",
			Score:       "abs_pct_change / 500.0",
			Reason:      `Drastic change: {{if gt .pct_change 0.0}}increase{{else}}decrease{{end}} of {{printf "%.0f" .abs_pct_change}}%`,
			Weight:      0.20,
			Enabled:     true,
		},
		{
			ID:          RuleHistoricalAnomalies,
			Name:        "Historical anomaly rate",
			Description: "More than 5% of the terminal's history lies beyond 3 standard deviations",
			Condition:   "anomaly_rate_3sigma > 5.0",
			Score:       "anomaly_rate_3sigma / 20.0",
			Reason:      `Problematic history: {{printf "%.1f" .anomaly_rate_3sigma}}% anomalies`,
			Weight:      0.15,
			Enabled:     true,
		},
		{
			ID:          RuleGeographicOutlier,
			Name:        "Geographic outlier",
			Description: "Terminal mean far from its neighbours' mean",
			Condition:   "has_zone && (zone_ratio > 3.0 || zone_ratio < 0.3)",
			Score:       "zone_ratio > 3.0 ? 1.0 : 0.7",
			Reason:      `Dispensation much {{if gt .zone_ratio 3.0}}higher{{else}}lower{{end}} than nearby terminals`,
			Weight:      0.10,
			Enabled:     true,
		},
	}
}

var templateFuncs = template.FuncMap{
	"money": FormatMoney,
}

// FormatMoney renders an amount as whole currency units with thousands separators.
func FormatMoney(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0"
	}
	n := int64(math.Round(amount))
	if n < 0 {
		return "-$" + humanize.Comma(-n)
	}
	return "$" + humanize.Comma(n)
}
