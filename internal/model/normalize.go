package model

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Normalizer maps raw scores onto [0,100] with 100 the most anomalous.
type Normalizer struct {
	mode     domain.NormalizationMode
	min, max float64
	frozen   bool // a training range is available
}

// NewNormalizer creates a normalizer. Frozen mode requires the artifact to
// carry a training score range.
func NewNormalizer(mode domain.NormalizationMode, a *Artifact) (*Normalizer, error) {
	n := &Normalizer{mode: mode}
	if a != nil && a.HasScoreRange() {
		n.min, n.max, n.frozen = a.Training.ScoreMin, a.Training.ScoreMax, true
	}
	switch mode {
	case domain.NormalizeBatch:
	case domain.NormalizeFrozen:
		if !n.frozen {
			return nil, fmt.Errorf("frozen normalization needs a training score range: %w", domain.ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("unknown normalization mode %q: %w", mode, domain.ErrInvalidInput)
	}
	return n, nil
}

// Normalize rescales a batch of raw scores.
//
// Batch mode uses the batch min/max, so the same window can score differently
// in batches of different composition. When the batch range is 0 the training
// range is used if recorded; otherwise every score is 0.
func (n *Normalizer) Normalize(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}

	lo, hi := n.min, n.max
	clamp := true
	if n.mode == domain.NormalizeBatch {
		blo, bhi := raw[0], raw[0]
		for _, r := range raw[1:] {
			if r < blo {
				blo = r
			}
			if r > bhi {
				bhi = r
			}
		}
		if bhi > blo {
			lo, hi, clamp = blo, bhi, false
		} else if !n.frozen {
			return out
		}
	}

	span := hi - lo
	for i, r := range raw {
		s := (hi - r) / span * 100
		if clamp {
			s = min(max(s, 0), 100)
		}
		out[i] = s
	}
	return out
}
