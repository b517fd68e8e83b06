// Package model implements the unsupervised outlier model: a standard scaler
// and an isolation forest bundled in a versioned JSON artifact.
package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ArtifactVersion is the artifact format this package reads and writes.
const ArtifactVersion = 1

// Artifact is the immutable trained model bundle.
type Artifact struct {
	Version      int              `json:"version"`
	ModelID      string           `json:"model_id"`
	FeatureNames []string         `json:"feature_names"`
	Scaler       *StandardScaler  `json:"scaler"`
	Forest       *IsolationForest `json:"forest"`
	Training     TrainingInfo     `json:"training"`
}

// TrainingInfo records how and on what the artifact was trained.
type TrainingInfo struct {
	Contamination float64   `json:"contamination"`
	Trees         int       `json:"trees"`
	MaxSamples    int       `json:"max_samples"`
	MaxFeatures   float64   `json:"max_features"`
	RandomState   uint64    `json:"random_state"`
	Samples       int       `json:"samples"`
	Terminals     int       `json:"terminals"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	TrainedAt     time.Time `json:"trained_at"`

	// Threshold is the raw score at the contamination quantile of the training set.
	Threshold float64 `json:"threshold"`

	// Raw score range over the training set, used by frozen normalization.
	ScoreMin float64 `json:"score_min"`
	ScoreMax float64 `json:"score_max"`
}

// LoadArtifact reads and structurally checks an artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model artifact: %w", err)
	}
	defer f.Close()

	var a Artifact
	if err := json.NewDecoder(f).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact %s: %w", path, err)
	}
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("unsupported model artifact version %d", a.Version)
	}
	if a.Scaler == nil || a.Forest == nil || len(a.Forest.Trees) == 0 {
		return nil, fmt.Errorf("model artifact %s is incomplete", path)
	}
	if err := a.validateShape(); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}
	return &a, nil
}

// validateShape checks that every index the scaler and trees will use is in range.
func (a *Artifact) validateShape() error {
	width := a.Scaler.Width()
	if len(a.Scaler.Scale) != width {
		return fmt.Errorf("scaler has %d means and %d scales: %w", width, len(a.Scaler.Scale), domain.ErrFeatureMismatch)
	}
	if a.Forest.Width != width {
		return fmt.Errorf("forest width %d for scaler width %d: %w", a.Forest.Width, width, domain.ErrFeatureMismatch)
	}
	for t, tree := range a.Forest.Trees {
		n := int32(len(tree.Nodes))
		if n == 0 {
			return fmt.Errorf("tree %d is empty: %w", t, domain.ErrFeatureMismatch)
		}
		for i, node := range tree.Nodes {
			if node.Left < 0 {
				continue
			}
			if node.Feature < 0 || node.Feature >= width {
				return fmt.Errorf("tree %d node %d splits on feature %d of %d: %w", t, i, node.Feature, width, domain.ErrFeatureMismatch)
			}
			if node.Left >= n || node.Right < 0 || node.Right >= n {
				return fmt.Errorf("tree %d node %d has children outside the tree: %w", t, i, domain.ErrFeatureMismatch)
			}
		}
	}
	return nil
}

// Save writes the artifact atomically.
func (a *Artifact) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(a); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move model artifact into place: %w", err)
	}
	return nil
}

// HasScoreRange reports whether a usable training score range was recorded.
func (a *Artifact) HasScoreRange() bool {
	return a.Training.ScoreMax > a.Training.ScoreMin
}
