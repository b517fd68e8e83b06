package fusion

import (
	"math"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestProcessor(t *testing.T) {
	proc, err := NewProcessor(domain.PolicyWeighted)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	t.Run("ExtremeOvernightWithHighModelScore", func(t *testing.T) {
		d := proc.Decide(Input{ModelScore: 95, RuleScore: 0.40, ZTerminal: 5})
		if math.Abs(d.Final-(0.6*0.95+0.4*0.40)) > 1e-9 {
			t.Errorf("unexpected final score %v", d.Final)
		}
		if d.Severity.Rank() < domain.SeverityHigh.Rank() {
			t.Errorf("expected at least high, got %s", d.Severity)
		}
		if !d.Alert() {
			t.Error("expected alert")
		}
	})

	t.Run("QuietWindow", func(t *testing.T) {
		d := proc.Decide(Input{ModelScore: 10, RuleScore: 0})
		if d.Severity != domain.SeverityNormal || d.Alert() {
			t.Errorf("expected normal non-alert, got %s", d.Severity)
		}
	})

	t.Run("Thresholds", func(t *testing.T) {
		tests := []struct {
			final float64
			want  domain.Severity
		}{
			{0.95, domain.SeverityCritical},
			{0.90, domain.SeverityCritical},
			{0.89, domain.SeverityHigh},
			{0.70, domain.SeverityHigh},
			{0.69, domain.SeverityMedium},
			{0.50, domain.SeverityMedium},
			{0.49, domain.SeverityNormal},
			{0, domain.SeverityNormal},
		}
		for _, tt := range tests {
			if got := proc.Classify(tt.final); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.final, got, tt.want)
			}
		}
	})

	t.Run("BoundedAndMonotone", func(t *testing.T) {
		inputs := []float64{-50, 0, 10, 50, 99, 100, 250, math.NaN(), math.Inf(1)}
		rules := []float64{-1, 0, 0.2, 0.5, 1, 3, math.NaN()}
		for _, m := range inputs {
			for _, r := range rules {
				f := proc.Fuse(m, r)
				if f < 0 || f > 1 || math.IsNaN(f) {
					t.Fatalf("Fuse(%v, %v) = %v outside [0,1]", m, r, f)
				}
			}
		}
		prev := -1.0
		for m := 0.0; m <= 100; m += 5 {
			f := proc.Fuse(m, 0.3)
			if f < prev {
				t.Fatalf("Fuse not monotone in model score at %v", m)
			}
			prev = f
		}
		prev = -1.0
		for r := 0.0; r <= 1; r += 0.05 {
			f := proc.Fuse(40, r)
			if f < prev {
				t.Fatalf("Fuse not monotone in rule score at %v", r)
			}
			prev = f
		}
	})

	t.Run("UnknownPolicy", func(t *testing.T) {
		if _, err := NewProcessor("max"); err == nil {
			t.Error("expected error for unknown policy")
		}
		p, err := NewProcessor("")
		if err != nil || p.Policy != domain.PolicyWeighted {
			t.Errorf("expected weighted default, got %v %v", p, err)
		}
	})
}

func TestLegacyPolicy(t *testing.T) {
	proc, err := NewProcessor(domain.PolicyLegacy)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	tests := []struct {
		name  string
		score float64
		z     float64
		want  domain.Severity
	}{
		{"ScoreAndZ", 80, 4, domain.SeverityCritical},
		{"ScoreAlone", 85, 0, domain.SeverityCritical},
		{"ZAlone", 10, -5, domain.SeverityCritical},
		{"HighScore", 70, 0, domain.SeverityHigh},
		{"HighZ", 10, 3, domain.SeverityHigh},
		{"ScoreWithoutZ", 80, 3.9, domain.SeverityHigh},
		{"Medium", 40, 1, domain.SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := proc.Decide(Input{ModelScore: tt.score, ZTerminal: tt.z, RuleScore: 1, Outlier: true})
			if d.Severity != tt.want {
				t.Errorf("expected %s, got %s", tt.want, d.Severity)
			}
			if math.Abs(d.Final-tt.score/100) > 1e-9 {
				t.Errorf("expected final %v, got %v", tt.score/100, d.Final)
			}
		})
	}

	t.Run("InlierNotAlerted", func(t *testing.T) {
		d := proc.Decide(Input{ModelScore: 99, ZTerminal: 9, Outlier: false})
		if d.Alert() {
			t.Errorf("expected no alert for a model inlier, got %s", d.Severity)
		}
	})
}
