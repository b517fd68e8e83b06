// Package rules provides the CEL-Go based weighted rule engine.
package rules

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"text/template"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/opensource-finance/harrier/internal/domain"
)

// weightTolerance bounds the drift allowed when enabled weights are summed.
const weightTolerance = 1e-6

// Engine evaluates weighted rules against feature vectors.
// Rules are evaluated in load order; the engine is safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	env    *cel.Env
	rules  []*CompiledRule
	logger *slog.Logger
}

// CompiledRule holds the pre-compiled programs of one rule.
type CompiledRule struct {
	Config    domain.RuleConfig
	Condition cel.Program
	Score     cel.Program
	Reason    *template.Template
}

// Result is the combined outcome of all rules for one vector.
type Result struct {
	// Score is Σ weight × clamp(partial, 0, 1), capped at 1.
	Score float64

	// Reasons holds one text per fired rule, in rule order.
	Reasons []string

	// Fired maps the id of every fired rule to its contribution.
	Fired map[string]domain.FiredRule

	Results []domain.RuleResult
}

// NewEngine creates an engine and loads rules.
// Enabled rule weights must sum to 1.0.
func NewEngine(configs []domain.RuleConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("txn_count", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("z_terminal", cel.DoubleType),
		cel.Variable("abs_z_terminal", cel.DoubleType),
		cel.Variable("baseline_mean", cel.DoubleType),
		cel.Variable("baseline_std", cel.DoubleType),
		cel.Variable("madrugada_ratio", cel.DoubleType),
		cel.Variable("recent_mean", cel.DoubleType),
		cel.Variable("has_recent", cel.BoolType),
		cel.Variable("pct_change", cel.DoubleType),
		cel.Variable("abs_pct_change", cel.DoubleType),
		cel.Variable("anomaly_rate_2sigma", cel.DoubleType),
		cel.Variable("anomaly_rate_3sigma", cel.DoubleType),
		cel.Variable("zone_ratio", cel.DoubleType),
		cel.Variable("has_zone", cel.BoolType),
		ext.Math(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env, logger: logger}
	if err := e.ReloadRules(configs); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg domain.RuleConfig) error {
	_, err := e.compileRule(cfg)
	return err
}

// ReloadRules atomically replaces the loaded rules.
func (e *Engine) ReloadRules(configs []domain.RuleConfig) error {
	compiled := make([]*CompiledRule, 0, len(configs))
	seen := make(map[string]bool, len(configs))
	total := 0.0
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if seen[cfg.ID] {
			return fmt.Errorf("duplicate rule id %q: %w", cfg.ID, domain.ErrInvalidInput)
		}
		seen[cfg.ID] = true

		c, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
		total += cfg.Weight
	}
	if len(compiled) > 0 && math.Abs(total-1) > weightTolerance {
		return fmt.Errorf("rule weights sum to %.4f, want 1.0: %w", total, domain.ErrInvalidInput)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the loaded rule configurations in evaluation order.
func (e *Engine) GetLoadedRules() []domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.RuleConfig, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Config
	}
	return out
}

// Evaluate runs every loaded rule against v. A rule that fails to evaluate
// is treated as not fired and logged.
func (e *Engine) Evaluate(v *domain.FeatureVector) *Result {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	activation := Activation(v)
	res := &Result{
		Fired:   make(map[string]domain.FiredRule),
		Results: make([]domain.RuleResult, 0, len(rules)),
	}

	for _, rule := range rules {
		r := e.evaluateRule(rule, activation)
		if r.Fired {
			res.Score += r.Partial
			res.Reasons = append(res.Reasons, r.Reason)
			res.Fired[r.RuleID] = domain.FiredRule{Fired: true, Partial: r.Partial}
		}
		res.Results = append(res.Results, r)
	}
	res.Score = math.Min(math.Max(res.Score, 0), 1)

	return res
}

func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) domain.RuleResult {
	result := domain.RuleResult{
		RuleID: rule.Config.ID,
		Weight: rule.Config.Weight,
	}

	out, _, err := rule.Condition.Eval(activation)
	if err != nil {
		e.logger.Warn("rule condition failed", "rule", rule.Config.ID, "error", err)
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		return result
	}
	if fired, ok := out.(types.Bool); !ok || !bool(fired) {
		return result
	}

	out, _, err = rule.Score.Eval(activation)
	if err != nil {
		e.logger.Warn("rule score failed", "rule", rule.Config.ID, "error", err)
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	result.Fired = true
	result.Partial = rule.Config.Weight * clamp01(toScore(out))
	result.Reason = e.renderReason(rule, activation)
	return result
}

func (e *Engine) renderReason(rule *CompiledRule, activation map[string]any) string {
	fallback := rule.Config.Name
	if fallback == "" {
		fallback = rule.Config.ID
	}
	if rule.Reason == nil {
		return fallback
	}
	var sb strings.Builder
	if err := rule.Reason.Execute(&sb, activation); err != nil {
		e.logger.Warn("rule reason failed", "rule", rule.Config.ID, "error", err)
		return fallback
	}
	return sb.String()
}

// Activation exposes the fields of v to rule expressions and reason templates.
func Activation(v *domain.FeatureVector) map[string]any {
	hasRecent := v.RecentMean > 0 && !math.IsNaN(v.RecentMean)
	pct := 0.0
	if hasRecent {
		pct = (v.Amount - v.RecentMean) / v.RecentMean * 100
	}

	return map[string]any{
		"amount":              v.Amount,
		"txn_count":           v.TxnCount,
		"hour":                int64(v.Hour),
		"day_of_week":         int64(v.DayOfWeek),
		"is_weekend":          v.IsWeekend,
		"z_terminal":          v.ZTerminal,
		"abs_z_terminal":      math.Abs(v.ZTerminal),
		"baseline_mean":       v.BaselineMean,
		"baseline_std":        v.BaselineStd,
		"madrugada_ratio":     v.MadrugadaRatio,
		"recent_mean":         v.RecentMean,
		"has_recent":          hasRecent,
		"pct_change":          pct,
		"abs_pct_change":      math.Abs(pct),
		"anomaly_rate_2sigma": v.AnomalyRate2,
		"anomaly_rate_3sigma": v.AnomalyRate3,
		"zone_ratio":          v.ZoneRatio,
		"has_zone":            v.HasZone,
	}
}

func (e *Engine) compileRule(cfg domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required: %w", domain.ErrInvalidInput)
	}
	if cfg.Weight < 0 || cfg.Weight > 1 {
		return nil, fmt.Errorf("rule %s: weight %.4f outside [0, 1]: %w", cfg.ID, cfg.Weight, domain.ErrInvalidInput)
	}

	condition, err := e.compileExpr(cfg.ID, "condition", cfg.Condition, cel.BoolType)
	if err != nil {
		return nil, err
	}
	score, err := e.compileExpr(cfg.ID, "score", cfg.Score, cel.DoubleType)
	if err != nil {
		return nil, err
	}

	var reason *template.Template
	if cfg.Reason != "" {
		reason, err = template.New(cfg.ID).Funcs(templateFuncs).Option("missingkey=zero").Parse(cfg.Reason)
		if err != nil {
			return nil, fmt.Errorf("failed to parse reason of rule %s: %w", cfg.ID, err)
		}
	}

	return &CompiledRule{
		Config:    cfg,
		Condition: condition,
		Score:     score,
		Reason:    reason,
	}, nil
}

func (e *Engine) compileExpr(ruleID, part, expr string, want *cel.Type) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("rule %s: %s is required: %w", ruleID, part, domain.ErrInvalidInput)
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %s of rule %s: %w", part, ruleID, issues.Err())
	}

	if outputType := ast.OutputType(); outputType != want {
		return nil, fmt.Errorf("rule %s: %s must return %s, got %s", ruleID, part, want, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s program for rule %s: %w", part, ruleID, err)
	}
	return program, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0
	}
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Min(math.Max(x, 0), 1)
}
