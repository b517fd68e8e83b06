package model

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Scorer produces raw outlier scores for feature vectors. It holds only
// immutable state and is safe for concurrent use.
type Scorer struct {
	artifact *Artifact
	columns  []int // positions in FeatureVector.Values, in artifact order
}

// NewScorer binds an artifact to the feature order the engine produces.
// Every artifact feature must be produced, in the same relative order, and the
// scaler and forest widths must match the feature list.
func NewScorer(a *Artifact, produced []string) (*Scorer, error) {
	names := a.FeatureNames
	if len(names) == 0 {
		return nil, fmt.Errorf("artifact lists no features: %w", domain.ErrFeatureMismatch)
	}
	if a.Scaler.Width() != len(names) {
		return nil, fmt.Errorf("scaler width %d for %d features: %w", a.Scaler.Width(), len(names), domain.ErrFeatureMismatch)
	}
	if a.Forest.Width != len(names) {
		return nil, fmt.Errorf("forest width %d for %d features: %w", a.Forest.Width, len(names), domain.ErrFeatureMismatch)
	}

	position := make(map[string]int, len(produced))
	for i, name := range produced {
		position[name] = i
	}

	columns := make([]int, len(names))
	last := -1
	for i, name := range names {
		p, ok := position[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature %q: %w", name, domain.ErrFeatureMismatch)
		}
		if p <= last {
			return nil, fmt.Errorf("feature %q out of order: %w", name, domain.ErrFeatureMismatch)
		}
		columns[i] = p
		last = p
	}

	return &Scorer{artifact: a, columns: columns}, nil
}

// ModelID identifies the bound artifact.
func (s *Scorer) ModelID() string {
	return s.artifact.ModelID
}

// Artifact returns the bound artifact.
func (s *Scorer) Artifact() *Artifact {
	return s.artifact
}

// Raw returns the score_samples value of each vector; more negative is more anomalous.
func (s *Scorer) Raw(vectors []domain.FeatureVector) []float64 {
	out := make([]float64, len(vectors))
	row := make([]float64, len(s.columns))
	scaled := make([]float64, len(s.columns))
	for i := range vectors {
		values := vectors[i].Values()
		for j, c := range s.columns {
			row[j] = values[c]
		}
		scaled = s.artifact.Scaler.Transform(row, scaled)
		out[i] = s.artifact.Forest.Score(scaled)
	}
	return out
}

// IsOutlier reports whether a raw score falls below the contamination threshold.
func (s *Scorer) IsOutlier(raw float64) bool {
	return raw < s.artifact.Training.Threshold
}
