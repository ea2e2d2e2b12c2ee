// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Feature vector indices. Every scorer receives the same
// 5-dimensional vector in this order.
const (
	FeatAmount = iota
	FeatAmountZ
	FeatTxFreq
	FeatGeoDelta
	FeatDeviceEntropy

	FeatureCount = 5
)

// FeatureVector is the per-transaction numeric summary
// [amount, amount_z, tx_freq, geo_delta, device_entropy].
type FeatureVector []float64

// ScorerResult is the per-model outcome for a single request.
// A failed scorer is recorded with Available=false and weight 0;
// it never aborts the overall prediction.
type ScorerResult struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
	Available bool    `json:"available"`
	Error     string  `json:"error,omitempty"`
}

// Explanation attributes the decision to one input signal category.
type Explanation struct {
	Feature string  `json:"feature"`
	Impact  float64 `json:"impact"`
	Reason  string  `json:"reason"`
}

// EnsembleDecision is the final output for a scored transaction.
// Immutable once constructed. Numeric fields carry the wire-format
// rounding: scores, weights and confidence to 4 decimal places,
// explanation impacts to 2.
type EnsembleDecision struct {
	ID     string `json:"id"`
	TxID   string `json:"tx_id"`
	UserID string `json:"user_id"`

	FraudScore   float64            `json:"fraud_score"`
	IsFraud      bool               `json:"is_fraud"`
	Confidence   float64            `json:"confidence"`
	ModelScores  map[string]float64 `json:"model_scores"`
	ModelWeights map[string]float64 `json:"model_weights"`
	Explanations []Explanation      `json:"explanations"`

	Timestamp time.Time `json:"timestamp"`
}

// UserProfile is a behavioral summary of a user's observed history.
type UserProfile struct {
	UserID          string    `json:"userId"`
	TxCount         int       `json:"txCount"`
	AvgAmount       float64   `json:"avgAmount"`
	DistinctDevices int       `json:"distinctDevices"`
	DistinctPlaces  int       `json:"distinctLocations"`
	LastSeen        time.Time `json:"lastSeen,omitempty"`
}
