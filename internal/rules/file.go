package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/harrier/internal/domain"
)

type ruleFile struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Condition   string  `yaml:"condition"`
	Score       string  `yaml:"score"`
	Reason      string  `yaml:"reason"`
	Weight      float64 `yaml:"weight"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`
}

// LoadRuleFile reads a rule set from a YAML file of the form:
//
//	rules:
//	  - id: extreme_dispensation
//	    condition: abs_z_terminal > 4.0
//	    score: abs_z_terminal / 10.0
//	    weight: 0.3
func LoadRuleFile(path string) ([]domain.RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rule file %s defines no rules: %w", path, domain.ErrInvalidInput)
	}

	out := make([]domain.RuleConfig, len(f.Rules))
	for i, r := range f.Rules {
		out[i] = domain.RuleConfig{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Condition:   r.Condition,
			Score:       r.Score,
			Reason:      r.Reason,
			Weight:      r.Weight,
			Enabled:     r.Enabled == nil || *r.Enabled,
		}
	}
	return out, nil
}

// Load returns the rules of path, or DefaultRules when path is empty.
func Load(path string) ([]domain.RuleConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	return LoadRuleFile(path)
}
