package model

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/fraudwatch/kestrel/internal/domain"
)

const (
	aeHidden  = 12
	aeBottle  = 4
	aeEpochs  = 30
	aeLearnLR = 0.01
	aeVersion = "1.0.0"
)

// Autoencoder is a shallow MLP autoencoder (5-12-4-12-5, ReLU hidden
// layers, linear output) trained on normal transaction features. High
// reconstruction error relative to the 95th-percentile training error
// maps to a high fraud probability.
type Autoencoder struct {
	once sync.Once
	mu   sync.RWMutex

	net       *mlp
	threshold float64
	mean      []float64
	std       []float64
	isFitted  bool
}

// NewAutoencoder creates an untrained autoencoder. It trains itself
// on first use.
func NewAutoencoder() *Autoencoder {
	return &Autoencoder{}
}

func (m *Autoencoder) Name() string    { return domain.ModelAutoencoder }
func (m *Autoencoder) Version() string { return aeVersion }

// mlp holds the dense layers. Layer sizes: in -> hidden -> bottleneck
// -> hidden -> in.
type mlp struct {
	layers []*dense
}

type dense struct {
	in, out int
	w       []float64 // row-major out x in
	b       []float64
	relu    bool
}

func newDense(rng *rand.Rand, in, out int, relu bool) *dense {
	d := &dense{in: in, out: out, relu: relu}
	d.w = make([]float64, in*out)
	d.b = make([]float64, out)
	scale := math.Sqrt(2.0 / float64(in))
	for i := range d.w {
		d.w[i] = rng.NormFloat64() * scale
	}
	return d
}

func newMLP(rng *rand.Rand, in int) *mlp {
	return &mlp{layers: []*dense{
		newDense(rng, in, aeHidden, true),
		newDense(rng, aeHidden, aeBottle, true),
		newDense(rng, aeBottle, aeHidden, true),
		newDense(rng, aeHidden, in, false),
	}}
}

// forward runs the network, retaining pre-activations for backprop.
func (n *mlp) forward(x []float64) (out []float64, acts [][]float64) {
	acts = make([][]float64, 0, len(n.layers)+1)
	acts = append(acts, x)
	cur := x
	for _, l := range n.layers {
		next := make([]float64, l.out)
		for o := 0; o < l.out; o++ {
			sum := l.b[o]
			for i := 0; i < l.in; i++ {
				sum += l.w[o*l.in+i] * cur[i]
			}
			if l.relu && sum < 0 {
				sum = 0
			}
			next[o] = sum
		}
		acts = append(acts, next)
		cur = next
	}
	return cur, acts
}

// step applies one SGD update toward reconstructing the input.
func (n *mlp) step(x []float64, lr float64) {
	out, acts := n.forward(x)

	// dL/dout for mean squared error
	delta := make([]float64, len(out))
	for i := range out {
		delta[i] = 2 * (out[i] - x[i]) / float64(len(out))
	}

	for li := len(n.layers) - 1; li >= 0; li-- {
		l := n.layers[li]
		input := acts[li]
		output := acts[li+1]

		// ReLU gate
		if l.relu {
			for o := range delta {
				if output[o] <= 0 {
					delta[o] = 0
				}
			}
		}

		prev := make([]float64, l.in)
		for o := 0; o < l.out; o++ {
			if delta[o] == 0 {
				continue
			}
			for i := 0; i < l.in; i++ {
				prev[i] += l.w[o*l.in+i] * delta[o]
				l.w[o*l.in+i] -= lr * delta[o] * input[i]
			}
			l.b[o] -= lr * delta[o]
		}
		delta = prev
	}
}

// Train fits the autoencoder on seeded synthetic normal traffic and
// sets the anomaly threshold at the 95th percentile of training
// reconstruction errors.
func (m *Autoencoder) Train() error {
	rng := rand.New(rand.NewSource(trainSeed))
	data := sample(rng, normalTraffic, 5000)

	mean, std := standardize(data)
	norm := make([][]float64, len(data))
	for i, row := range data {
		norm[i] = applyScaler(row, mean, std)
	}

	net := newMLP(rng, domain.FeatureCount)
	for epoch := 0; epoch < aeEpochs; epoch++ {
		perm := rng.Perm(len(norm))
		for _, idx := range perm {
			net.step(norm[idx], aeLearnLR)
		}
	}

	errs := make([]float64, len(norm))
	for i, row := range norm {
		errs[i] = reconstructionError(net, row)
	}
	sort.Float64s(errs)
	threshold := errs[int(0.95*float64(len(errs)))-1]

	m.mu.Lock()
	m.net = net
	m.threshold = threshold
	m.mean = mean
	m.std = std
	m.isFitted = true
	m.mu.Unlock()
	return nil
}

// Score returns the fraud probability in [0, 1] based on
// reconstruction error relative to the training threshold.
func (m *Autoencoder) Score(features domain.FeatureVector) (float64, error) {
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
	if !m.isFitted {
		return 0, &domain.ScoringError{Model: m.Name(), Reason: "model not fitted"}
	}

	norm := applyScaler(features, m.mean, m.std)
	err := reconstructionError(m.net, norm)

	ratio := err / (m.threshold + 1e-8)
	prob := 1.0 / (1.0 + math.Exp(-4.0*(ratio-1.0)))
	return clip01(prob), nil
}

func (m *Autoencoder) fitted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isFitted
}

func reconstructionError(net *mlp, x []float64) float64 {
	out, _ := net.forward(x)
	var sum float64
	for i := range out {
		d := out[i] - x[i]
		sum += d * d
	}
	return sum / float64(len(out))
}

// standardize returns per-dimension mean and (epsilon-floored)
// standard deviation over the training sample.
func standardize(data [][]float64) (mean, std []float64) {
	dims := len(data[0])
	mean = make([]float64, dims)
	std = make([]float64, dims)

	for _, row := range data {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(data))
	}
	for _, row := range data {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j]/float64(len(data))) + 1e-8
	}
	return mean, std
}

func applyScaler(row, mean, std []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - mean[j]) / std[j]
	}
	return out
}
