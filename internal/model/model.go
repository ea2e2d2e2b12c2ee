// Package model provides the three scoring models that participate
// in the ensemble: an isolation forest, a gradient-boosted stump
// classifier, and an MLP autoencoder.
//
// Each model trains itself on seeded synthetic traffic the first time
// it is asked to score (train-on-first-use), guarded by a sync.Once
// so concurrent first calls warm up exactly once. Training can also
// be forced up front via Train.
package model

import (
	"math"

	"github.com/fraudwatch/kestrel/internal/domain"
)

// Trainable is satisfied by models that support explicit training.
type Trainable interface {
	Train() error
}

// validateFeatures rejects malformed feature vectors before scoring.
func validateFeatures(name string, features domain.FeatureVector) error {
	if len(features) != domain.FeatureCount {
		return &domain.ScoringError{
			Model:  name,
			Reason: "feature vector must have 5 dimensions",
		}
	}
	for _, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &domain.ScoringError{
				Model:  name,
				Reason: "feature vector contains non-finite values",
			}
		}
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
