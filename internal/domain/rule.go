package domain

// RuleConfig defines one weighted dispensation rule.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// CEL expression returning bool; the rule fires when true.
	Condition string `json:"condition" yaml:"condition"`

	// CEL expression returning double in [0,1]; the partial score when fired.
	Score string `json:"score" yaml:"score"`

	// text/template rendered over the evaluation variables when fired.
	Reason string `json:"reason" yaml:"reason"`

	// Contribution of the rule to the total rule score. Weights sum to 1.0.
	Weight float64 `json:"weight" yaml:"weight"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RuleResult is the output of one rule evaluation.
type RuleResult struct {
	RuleID  string  `json:"ruleId"`
	Fired   bool    `json:"fired"`
	Partial float64 `json:"partial"` // weight × clamped score
	Reason  string  `json:"reason,omitempty"`
	Weight  float64 `json:"weight"`
}
