package domain

import (
	"fmt"
	"time"
)

// Scorer is the capability contract every model variant satisfies.
// Score maps a feature vector to a fraud probability in [0, 1] and
// fails with a *ScoringError when the model is unready or the input
// is malformed. Internals are opaque to the orchestrator; any scoring
// function meeting this contract can participate in the ensemble.
type Scorer interface {
	Name() string
	Version() string
	Score(features FeatureVector) (float64, error)
}

// ScoringError is a distinguishable per-model failure. The
// orchestrator converts it into an unavailable ScorerResult.
type ScoringError struct {
	Model  string
	Reason string
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scorer %s: %s", e.Model, e.Reason)
}

// ModelInfo is a model registry entry.
type ModelInfo struct {
	Name      string    `json:"modelName"`
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trainedAt"`
	Status    string    `json:"status"`
}
