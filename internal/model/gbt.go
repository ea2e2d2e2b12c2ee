package model

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/fraudwatch/kestrel/internal/domain"
)

const (
	gbtRounds       = 100
	gbtLearningRate = 0.1
	gbtCandidates   = 16
	gbtVersion      = "1.0.0"
)

// GradientBoost is a binary fraud classifier: gradient-boosted
// regression stumps with a logistic loss. Class 1 is fraud. Trained
// on seeded synthetic labeled data (normal vs fraudulent traffic).
type GradientBoost struct {
	once sync.Once
	mu   sync.RWMutex

	bias   float64
	stumps []stump
}

type stump struct {
	attr      int
	threshold float64
	leftVal   float64 // x[attr] < threshold
	rightVal  float64
}

// NewGradientBoost creates an untrained classifier. It trains itself
// on first use.
func NewGradientBoost() *GradientBoost {
	return &GradientBoost{}
}

func (m *GradientBoost) Name() string    { return domain.ModelXGBoost }
func (m *GradientBoost) Version() string { return gbtVersion }

// Train fits the booster on seeded synthetic labeled data:
// 4000 normal rows (label 0) and 400 fraud rows (label 1).
func (m *GradientBoost) Train() error {
	rng := rand.New(rand.NewSource(trainSeed))

	normal := sample(rng, normalTraffic, 4000)
	fraud := sample(rng, fraudTraffic, 400)

	X := append(normal, fraud...)
	y := make([]float64, len(X))
	for i := len(normal); i < len(X); i++ {
		y[i] = 1
	}

	// Prior log-odds of the fraud class.
	pos := float64(len(fraud)) / float64(len(X))
	bias := math.Log(pos / (1 - pos))

	scores := make([]float64, len(X))
	for i := range scores {
		scores[i] = bias
	}

	stumps := make([]stump, 0, gbtRounds)
	grad := make([]float64, len(X))
	hess := make([]float64, len(X))

	for round := 0; round < gbtRounds; round++ {
		for i := range X {
			p := sigmoid(scores[i])
			grad[i] = y[i] - p
			hess[i] = p * (1 - p)
		}

		s, ok := fitStump(X, grad, hess)
		if !ok {
			break
		}
		s.leftVal *= gbtLearningRate
		s.rightVal *= gbtLearningRate
		stumps = append(stumps, s)

		for i, row := range X {
			if row[s.attr] < s.threshold {
				scores[i] += s.leftVal
			} else {
				scores[i] += s.rightVal
			}
		}
	}

	m.mu.Lock()
	m.bias = bias
	m.stumps = stumps
	m.mu.Unlock()
	return nil
}

// Score returns the fraud probability in [0, 1] for a feature vector.
func (m *GradientBoost) Score(features domain.FeatureVector) (float64, error) {
	if err := validateFeatures(m.Name(), features); err != nil {
		return 0, err
	}

	var trainErr error
	m.once.Do(func() {
		if !m.fitted() {
			trainErr = m.Train()
		}
	})
	if trainErr != nil {
		return 0, &domain.ScoringError{Model: m.Name(), Reason: trainErr.Error()}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.stumps) == 0 {
		return 0, &domain.ScoringError{Model: m.Name(), Reason: "model not fitted"}
	}

	score := m.bias
	for _, s := range m.stumps {
		if features[s.attr] < s.threshold {
			score += s.leftVal
		} else {
			score += s.rightVal
		}
	}
	return clip01(sigmoid(score)), nil
}

func (m *GradientBoost) fitted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stumps) > 0
}

// fitStump finds the split minimizing the second-order loss over a
// quantile grid of candidate thresholds per feature, with Newton-step
// leaf values.
func fitStump(X [][]float64, grad, hess []float64) (stump, bool) {
	var best stump
	bestGain := math.Inf(-1)
	found := false

	var totalG, totalH float64
	for i := range grad {
		totalG += grad[i]
		totalH += hess[i]
	}

	col := make([]float64, len(X))
	for attr := 0; attr < domain.FeatureCount; attr++ {
		for i, row := range X {
			col[i] = row[attr]
		}
		for _, threshold := range quantiles(col, gbtCandidates) {
			var leftG, leftH float64
			for i, v := range col {
				if v < threshold {
					leftG += grad[i]
					leftH += hess[i]
				}
			}
			rightG := totalG - leftG
			rightH := totalH - leftH
			if leftH < 1e-12 || rightH < 1e-12 {
				continue
			}

			gain := leftG*leftG/leftH + rightG*rightG/rightH
			if gain > bestGain {
				bestGain = gain
				best = stump{
					attr:      attr,
					threshold: threshold,
					leftVal:   leftG / leftH,
					rightVal:  rightG / rightH,
				}
				found = true
			}
		}
	}
	return best, found
}

// quantiles returns up to n distinct interior quantile cut points.
func quantiles(col []float64, n int) []float64 {
	sorted := make([]float64, len(col))
	copy(sorted, col)
	sort.Float64s(sorted)

	cuts := make([]float64, 0, n)
	var last float64
	for i := 1; i <= n; i++ {
		q := sorted[i*(len(sorted)-1)/(n+1)]
		if len(cuts) == 0 || q != last {
			cuts = append(cuts, q)
			last = q
		}
	}
	return cuts
}
