package model

import (
	"math"
	"math/rand"
)

// trainSeed fixes the synthetic generators so every process trains
// identical models and scores stay reproducible across restarts.
const trainSeed = 42

// poisson draws from a Poisson distribution via Knuth's method.
func poisson(rng *rand.Rand, lambda float64) float64 {
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		k++
		p *= rng.Float64()
		if p <= l {
			return float64(k - 1)
		}
	}
}

// trafficParams describes the feature distributions of one synthetic
// traffic class: normal means/deviations per feature dimension, with
// tx_freq drawn from a Poisson.
type trafficParams struct {
	amountMean, amountStd   float64
	zMean, zStd             float64
	freqLambda              float64
	geoMean, geoStd         float64
	entropyMean, entropyStd float64
}

// normalTraffic matches the reference distribution for legitimate
// transactions used to fit the anomaly models.
var normalTraffic = trafficParams{
	amountMean: 120, amountStd: 40,
	zMean: 0, zStd: 0.5,
	freqLambda: 1.5,
	geoMean: 10, geoStd: 5,
	entropyMean: 0.5, entropyStd: 0.15,
}

// isolationTraffic is the slightly wider distribution the isolation
// forest trains on.
var isolationTraffic = trafficParams{
	amountMean: 120, amountStd: 40,
	zMean: 0, zStd: 1.0,
	freqLambda: 2.0,
	geoMean: 15, geoStd: 8,
	entropyMean: 0.7, entropyStd: 0.2,
}

// fraudTraffic matches the reference distribution for fraudulent
// transactions: high amounts, high z, high velocity, large geo jumps.
var fraudTraffic = trafficParams{
	amountMean: 800, amountStd: 300,
	zMean: 3.5, zStd: 1.0,
	freqLambda: 6.0,
	geoMean: 4000, geoStd: 1500,
	entropyMean: 1.8, entropyStd: 0.4,
}

// sample draws n feature vectors from the given distribution.
func sample(rng *rand.Rand, p trafficParams, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{
			p.amountMean + p.amountStd*rng.NormFloat64(),
			p.zMean + p.zStd*rng.NormFloat64(),
			poisson(rng, p.freqLambda),
			p.geoMean + p.geoStd*rng.NormFloat64(),
			p.entropyMean + p.entropyStd*rng.NormFloat64(),
		}
	}
	return out
}
