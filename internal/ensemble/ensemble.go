// Package ensemble combines the outputs of multiple independently
// failing scorers into one auditable fraud decision.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fraudwatch/kestrel/internal/domain"
	"github.com/fraudwatch/kestrel/internal/model"
	"github.com/fraudwatch/kestrel/internal/registry"
)

// neutralConfidence encodes "cannot assess agreement from a single
// model" when exactly one scorer is available.
const neutralConfidence = 0.7

// Orchestrator fans one feature vector out to every configured
// scorer, isolates per-scorer failures, and produces a weighted
// decision with a deterministic explanation.
type Orchestrator struct {
	scorers   []domain.Scorer
	weights   map[string]float64
	threshold float64

	// timeout bounds a single scorer call; zero means unbounded.
	timeout time.Duration

	registry *registry.Registry
}

// New creates an orchestrator over the given scorers. Weights and
// threshold are read-only after construction.
func New(scorers []domain.Scorer, cfg domain.EnsembleConfig, reg *registry.Registry) *Orchestrator {
	weights := make(map[string]float64, len(cfg.Weights))
	for name, w := range cfg.Weights {
		weights[name] = w
	}
	return &Orchestrator{
		scorers:   scorers,
		weights:   weights,
		threshold: cfg.FraudThreshold,
		timeout:   cfg.ScorerTimeout,
		registry:  reg,
	}
}

// TrainAll explicitly trains every scorer that supports it and
// registers each scorer with the model registry.
func (o *Orchestrator) TrainAll(ctx context.Context) error {
	for _, s := range o.scorers {
		if tr, ok := s.(model.Trainable); ok {
			if err := tr.Train(); err != nil {
				return fmt.Errorf("failed to train %s: %w", s.Name(), err)
			}
		}
		if o.registry != nil {
			o.registry.Register(ctx, s.Name(), s.Version())
		}
	}
	slog.Info("all models trained and registered", "count", len(o.scorers))
	return nil
}

// Predict produces a decision for one feature vector. Scorer failures
// are absorbed: a failed scorer is excluded from the weighted average
// for this request only, and its weight is redistributed among the
// survivors. With no scorer available the decision degrades to
// fraud_score 0, confidence 0; Predict never fails.
func (o *Orchestrator) Predict(features domain.FeatureVector, location, deviceID string) *domain.EnsembleDecision {
	results := o.fanOut(features)

	score, confidence := combine(results)

	modelScores := make(map[string]float64, len(results))
	modelWeights := make(map[string]float64, len(results))
	for _, r := range results {
		modelScores[r.Name] = round(r.Score, 4)
		modelWeights[r.Name] = round(r.Weight, 4)
	}

	return &domain.EnsembleDecision{
		ID:           uuid.New().String(),
		FraudScore:   round(score, 4),
		IsFraud:      score >= o.threshold,
		Confidence:   round(confidence, 4),
		ModelScores:  modelScores,
		ModelWeights: modelWeights,
		Explanations: Explain(features, location, deviceID),
		Timestamp:    time.Now().UTC(),
	}
}

// fanOut invokes every scorer in parallel with the same features.
func (o *Orchestrator) fanOut(features domain.FeatureVector) []domain.ScorerResult {
	results := make([]domain.ScorerResult, len(o.scorers))

	var wg sync.WaitGroup
	for i, s := range o.scorers {
		wg.Add(1)
		go func(idx int, s domain.Scorer) {
			defer wg.Done()
			results[idx] = o.safeScore(s, features)
		}(i, s)
	}
	wg.Wait()

	return results
}

// safeScore invokes one scorer, converting any failure (error,
// panic, or timeout) into an unavailable result with weight 0.
func (o *Orchestrator) safeScore(s domain.Scorer, features domain.FeatureVector) domain.ScorerResult {
	type outcome struct {
		score float64
		err   error
	}

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		score, err := s.Score(features)
		ch <- outcome{score: score, err: err}
	}()

	var out outcome
	if o.timeout > 0 {
		timer := time.NewTimer(o.timeout)
		defer timer.Stop()
		select {
		case out = <-ch:
		case <-timer.C:
			out = outcome{err: fmt.Errorf("scorer timed out after %s", o.timeout)}
		}
	} else {
		out = <-ch
	}

	if out.err != nil {
		slog.Warn("scorer failed", "model", s.Name(), "error", out.err)
		return domain.ScorerResult{
			Name:      s.Name(),
			Available: false,
			Error:     out.err.Error(),
		}
	}

	return domain.ScorerResult{
		Name:      s.Name(),
		Score:     out.score,
		Weight:    o.weights[s.Name()],
		Available: true,
	}
}

// combine computes the weight-normalized average over available
// scorers and the agreement confidence.
func combine(results []domain.ScorerResult) (score, confidence float64) {
	var available []domain.ScorerResult
	for _, r := range results {
		if r.Available {
			available = append(available, r)
		}
	}
	if len(available) == 0 {
		return 0.0, 0.0
	}

	var totalWeight, weighted float64
	for _, r := range available {
		totalWeight += r.Weight
		weighted += r.Score * r.Weight
	}
	if totalWeight == 0 {
		return 0.0, 0.0
	}
	score = clip01(weighted / totalWeight)

	if len(available) == 1 {
		return score, neutralConfidence
	}

	scores := make([]float64, len(available))
	for i, r := range available {
		scores[i] = r.Score
	}
	confidence = clip01(1.0 - stddev(scores))
	return score, confidence
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)))
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

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
