package model

import (
	"math"
	"math/rand"
	"sync"

	"github.com/fraudwatch/kestrel/internal/domain"
)

const (
	iforestTrees     = 200
	iforestSubsample = 256
	iforestVersion   = "1.0.0"
)

// IsolationForest scores a transaction by how easily its feature
// vector is isolated by random axis-aligned splits. Shorter average
// path length means more anomalous, which maps to a higher fraud
// probability.
type IsolationForest struct {
	once  sync.Once
	mu    sync.RWMutex
	trees []*isoNode

	// cNorm is the expected path length c(psi) used to normalize
	// observed depths.
	cNorm float64
}

// NewIsolationForest creates an untrained isolation forest. It trains
// itself on first use.
func NewIsolationForest() *IsolationForest {
	return &IsolationForest{}
}

func (m *IsolationForest) Name() string    { return domain.ModelIsolationForest }
func (m *IsolationForest) Version() string { return iforestVersion }

type isoNode struct {
	// leaf
	size int

	// internal
	attr  int
	split float64
	left  *isoNode
	right *isoNode
}

// Train fits the forest on seeded synthetic normal traffic.
// Idempotent: retraining from the same seed rebuilds the same forest.
func (m *IsolationForest) Train() error {
	rng := rand.New(rand.NewSource(trainSeed))
	data := sample(rng, isolationTraffic, 5000)

	depthLimit := int(math.Ceil(math.Log2(float64(iforestSubsample))))

	trees := make([]*isoNode, iforestTrees)
	for i := range trees {
		sub := subsample(rng, data, iforestSubsample)
		trees[i] = buildIsoTree(rng, sub, 0, depthLimit)
	}

	m.mu.Lock()
	m.trees = trees
	m.cNorm = avgPathLength(iforestSubsample)
	m.mu.Unlock()
	return nil
}

// Score returns the fraud probability in [0, 1] for a feature vector.
func (m *IsolationForest) Score(features domain.FeatureVector) (float64, error) {
	if err := validateFeatures(m.Name(), features); err != nil {
		return 0, err
	}

	// Lazy warm-up: at most one training run even under concurrent
	// first use. An explicit Train beforehand satisfies it.
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
	if len(m.trees) == 0 {
		return 0, &domain.ScoringError{Model: m.Name(), Reason: "model not fitted"}
	}

	var total float64
	for _, tree := range m.trees {
		total += pathLength(tree, features, 0)
	}
	avg := total / float64(len(m.trees))

	// Anomaly score in (0, 1]: short paths approach 1.
	anomaly := math.Pow(2, -avg/m.cNorm)

	// Mirror the reference mapping: a lower decision value means a
	// higher anomaly likelihood, squashed through a steep sigmoid.
	decision := 0.5 - anomaly
	prob := 1.0 / (1.0 + math.Exp(8.0*decision))
	return clip01(prob), nil
}

func (m *IsolationForest) fitted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trees) > 0
}

func subsample(rng *rand.Rand, data [][]float64, n int) [][]float64 {
	if n >= len(data) {
		return data
	}
	out := make([][]float64, n)
	perm := rng.Perm(len(data))
	for i := 0; i < n; i++ {
		out[i] = data[perm[i]]
	}
	return out
}

func buildIsoTree(rng *rand.Rand, data [][]float64, depth, limit int) *isoNode {
	if depth >= limit || len(data) <= 1 {
		return &isoNode{size: len(data)}
	}

	attr := rng.Intn(domain.FeatureCount)
	lo, hi := data[0][attr], data[0][attr]
	for _, row := range data {
		if row[attr] < lo {
			lo = row[attr]
		}
		if row[attr] > hi {
			hi = row[attr]
		}
	}
	if lo == hi {
		return &isoNode{size: len(data)}
	}

	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range data {
		if row[attr] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoNode{
		attr:  attr,
		split: split,
		left:  buildIsoTree(rng, left, depth+1, limit),
		right: buildIsoTree(rng, right, depth+1, limit),
	}
}

func pathLength(node *isoNode, x []float64, depth int) float64 {
	if node.left == nil && node.right == nil {
		// Terminated at a leaf: add the expected depth of an
		// unbuilt subtree over the leaf's remaining points.
		return float64(depth) + avgPathLength(node.size)
	}
	if x[node.attr] < node.split {
		return pathLength(node.left, x, depth+1)
	}
	return pathLength(node.right, x, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329 // harmonic approximation
	return 2*h - 2*float64(n-1)/float64(n)
}
