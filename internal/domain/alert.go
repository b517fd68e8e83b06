package domain

import (
	"time"
)

// Severity is the tier assigned to a fused score.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from normal (0) to critical (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// ParseSeverity converts a stored or user supplied value into a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityNormal, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), true
	}
	return "", false
}

// AnomalyTypeDispensation is the only anomaly type the engine emits.
const AnomalyTypeDispensation = "anomalous_dispensation"

// Alert is the persisted outcome for one anomalous (terminal, window).
type Alert struct {
	TerminalCode   string       `json:"terminalCode"`
	WindowStart    time.Time    `json:"windowStart"`
	AnomalyType    string       `json:"anomalyType"`
	Severity       Severity     `json:"severity"`
	Score          float64      `json:"score"`
	ModelScore     float64      `json:"modelScore"`
	RuleScore      float64      `json:"ruleScore"`
	Amount         float64      `json:"amount"`
	ExpectedAmount float64      `json:"expectedAmount"`
	DeviationSigma float64      `json:"deviationSigma"`
	Description    string       `json:"description"`
	Reasons        AlertReasons `json:"reasons"`
	ModelID        string       `json:"modelId"`
	LowConfidence  bool         `json:"lowConfidence"`
	DetectedAt     time.Time    `json:"detectedAt"`
}

// AlertReasons is the structured explanation stored alongside an alert.
type AlertReasons struct {
	ModelScore float64              `json:"modelScore"`
	RuleScore  float64              `json:"ruleScore"`
	FinalScore float64              `json:"finalScore"`
	Texts      []string             `json:"texts"`
	Fired      map[string]FiredRule `json:"fired"`
}

// FiredRule records the contribution of one triggered rule.
type FiredRule struct {
	Fired   bool    `json:"fired"`
	Partial float64 `json:"partial"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	TerminalCode string
	Severity     Severity
	From         time.Time
	To           time.Time
	Limit        int
}

// SkippedWindow is a window that could not be scored.
type SkippedWindow struct {
	TerminalCode string    `json:"terminalCode"`
	WindowStart  time.Time `json:"windowStart"`
	Reason       string    `json:"reason"`
}

// Skip reasons reported in run summaries.
const (
	SkipInsufficientContext = "insufficient_context"
)

// RunSummary reports the outcome of one scoring run.
type RunSummary struct {
	ID                string           `json:"id"`
	Source            string           `json:"source"`
	StartedAt         time.Time        `json:"startedAt"`
	FinishedAt        time.Time        `json:"finishedAt"`
	TerminalsAnalyzed int              `json:"terminalsAnalyzed"`
	WindowsScored     int              `json:"windowsScored"`
	Alerts            map[Severity]int `json:"alerts"`
	AlertsWritten     int              `json:"alertsWritten"`
	AlertsFailed      int              `json:"alertsFailed"`
	Skipped           []SkippedWindow  `json:"skipped,omitempty"`
	LowConfidence     int              `json:"lowConfidence"`
	ModelID           string           `json:"modelId"`
	Policy            string           `json:"policy"`
}

// TotalAlerts returns the number of alerts across all severities.
func (s *RunSummary) TotalAlerts() int {
	total := 0
	for _, n := range s.Alerts {
		total += n
	}
	return total
}
