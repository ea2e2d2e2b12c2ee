package ensemble

import (
	"math"
	"testing"
	"time"

	"github.com/fraudwatch/kestrel/internal/domain"
)

// stubScorer is a fixed-output scorer for exercising the
// orchestrator's combination logic.
type stubScorer struct {
	name  string
	score float64
	err   error
	delay time.Duration
}

func (s *stubScorer) Name() string    { return s.name }
func (s *stubScorer) Version() string { return "test" }

func (s *stubScorer) Score(features domain.FeatureVector) (float64, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return 0, s.err
	}
	return s.score, nil
}

type panicScorer struct{ name string }

func (s *panicScorer) Name() string    { return s.name }
func (s *panicScorer) Version() string { return "test" }
func (s *panicScorer) Score(features domain.FeatureVector) (float64, error) {
	panic("model blew up")
}

var testFeatures = domain.FeatureVector{100, 0, 0, 0, 0}

func testConfig() domain.EnsembleConfig {
	return domain.EnsembleConfig{
		Weights: map[string]float64{
			"a": 0.35,
			"b": 0.45,
			"c": 0.20,
		},
		FraudThreshold: 0.55,
	}
}

func TestAllScorersAvailable(t *testing.T) {
	o := New([]domain.Scorer{
		&stubScorer{name: "a", score: 0.2},
		&stubScorer{name: "b", score: 0.4},
		&stubScorer{name: "c", score: 0.6},
	}, testConfig(), nil)

	d := o.Predict(testFeatures, "NY", "dev1")

	// (0.2*0.35 + 0.4*0.45 + 0.6*0.20) / 1.0 = 0.37
	if d.FraudScore != 0.37 {
		t.Errorf("expected fraud_score 0.37, got %f", d.FraudScore)
	}
	if d.IsFraud {
		t.Error("0.37 must not be flagged at threshold 0.55")
	}
	// population stddev of [0.2 0.4 0.6] = 0.1633; conf = 0.8367
	if math.Abs(d.Confidence-0.8367) > 1e-9 {
		t.Errorf("expected confidence 0.8367, got %f", d.Confidence)
	}
	if len(d.ModelScores) != 3 || len(d.ModelWeights) != 3 {
		t.Errorf("expected 3 scores and 3 weights, got %d / %d", len(d.ModelScores), len(d.ModelWeights))
	}
	if d.ModelWeights["b"] != 0.45 {
		t.Errorf("expected weight 0.45 for b, got %f", d.ModelWeights["b"])
	}
}

func TestSingleScorerAvailable(t *testing.T) {
	o := New([]domain.Scorer{
		&stubScorer{name: "a", score: 0.8},
		&stubScorer{name: "b", err: &domain.ScoringError{Model: "b", Reason: "not ready"}},
		&stubScorer{name: "c", err: &domain.ScoringError{Model: "c", Reason: "not ready"}},
	}, testConfig(), nil)

	d := o.Predict(testFeatures, "NY", "dev1")

	// One survivor: its score passes through unchanged
	// (score*weight/weight), confidence is the fixed neutral value.
	if d.FraudScore != 0.8 {
		t.Errorf("expected fraud_score 0.8, got %f", d.FraudScore)
	}
	if d.Confidence != 0.7 {
		t.Errorf("expected neutral confidence 0.7, got %f", d.Confidence)
	}
	if !d.IsFraud {
		t.Error("0.8 must be flagged at threshold 0.55")
	}
	// Failed scorers carry effective weight 0.
	if d.ModelWeights["b"] != 0 || d.ModelWeights["c"] != 0 {
		t.Errorf("expected 0 effective weight for failed scorers, got b=%f c=%f", d.ModelWeights["b"], d.ModelWeights["c"])
	}
	if d.ModelWeights["a"] != 0.35 {
		t.Errorf("expected configured weight for survivor, got %f", d.ModelWeights["a"])
	}
}

func TestAllScorersUnavailable(t *testing.T) {
	o := New([]domain.Scorer{
		&stubScorer{name: "a", err: &domain.ScoringError{Model: "a", Reason: "down"}},
		&stubScorer{name: "b", err: &domain.ScoringError{Model: "b", Reason: "down"}},
		&stubScorer{name: "c", err: &domain.ScoringError{Model: "c", Reason: "down"}},
	}, testConfig(), nil)

	d := o.Predict(testFeatures, "NY", "dev1")

	if d.FraudScore != 0.0 {
		t.Errorf("expected degraded fraud_score 0, got %f", d.FraudScore)
	}
	if d.IsFraud {
		t.Error("fully degraded decision must not flag fraud")
	}
	if d.Confidence != 0.0 {
		t.Errorf("expected confidence 0, got %f", d.Confidence)
	}
	// Degradation still yields a full explanation.
	if len(d.Explanations) == 0 {
		t.Error("expected explanations on a degraded decision")
	}
}

func TestPanicIsolation(t *testing.T) {
	o := New([]domain.Scorer{
		&panicScorer{name: "a"},
		&stubScorer{name: "b", score: 0.5},
		&stubScorer{name: "c", score: 0.5},
	}, testConfig(), nil)

	d := o.Predict(testFeatures, "NY", "dev1")
	if d.FraudScore != 0.5 {
		t.Errorf("expected survivors to carry the decision, got %f", d.FraudScore)
	}
}

func TestWeightRedistribution(t *testing.T) {
	o := New([]domain.Scorer{
		&stubScorer{name: "a", score: 0.2},
		&stubScorer{name: "b", err: &domain.ScoringError{Model: "b", Reason: "down"}},
		&stubScorer{name: "c", score: 0.8},
	}, testConfig(), nil)

	d := o.Predict(testFeatures, "NY", "dev1")

	// (0.2*0.35 + 0.8*0.20) / 0.55 = 0.23/0.55 ≈ 0.4182
	if math.Abs(d.FraudScore-0.4182) > 1e-9 {
		t.Errorf("expected redistributed score 0.4182, got %f", d.FraudScore)
	}
}

func TestScorerTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ScorerTimeout = 20 * time.Millisecond

	o := New([]domain.Scorer{
		&stubScorer{name: "a", score: 0.9, delay: 500 * time.Millisecond},
		&stubScorer{name: "b", score: 0.3},
		&stubScorer{name: "c", score: 0.3},
	}, cfg, nil)

	start := time.Now()
	d := o.Predict(testFeatures, "NY", "dev1")
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("prediction blocked on slow scorer: %s", elapsed)
	}

	// The hung scorer is treated as failed; survivors agree on 0.3.
	if d.FraudScore != 0.3 {
		t.Errorf("expected timed-out scorer excluded, got %f", d.FraudScore)
	}
	if d.ModelWeights["a"] != 0 {
		t.Errorf("expected 0 effective weight for timed-out scorer, got %f", d.ModelWeights["a"])
	}
}

func TestRounding(t *testing.T) {
	o := New([]domain.Scorer{
		&stubScorer{name: "a", score: 1.0 / 3.0},
		&stubScorer{name: "b", score: 1.0 / 3.0},
		&stubScorer{name: "c", score: 1.0 / 3.0},
	}, testConfig(), nil)

	d := o.Predict(testFeatures, "NY", "dev1")
	if d.FraudScore != 0.3333 {
		t.Errorf("expected 4-decimal rounding, got %v", d.FraudScore)
	}
	if d.ModelScores["a"] != 0.3333 {
		t.Errorf("expected rounded model score, got %v", d.ModelScores["a"])
	}
}

func TestThresholdBoundary(t *testing.T) {
	o := New([]domain.Scorer{
		&stubScorer{name: "a", score: 0.55},
	}, domain.EnsembleConfig{
		Weights:        map[string]float64{"a": 1.0},
		FraudThreshold: 0.55,
	}, nil)

	d := o.Predict(testFeatures, "NY", "dev1")
	if !d.IsFraud {
		t.Error("score equal to threshold must flag fraud")
	}
}
