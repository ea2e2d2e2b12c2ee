package domain

import (
	"fmt"
	"math"
	"time"
)

// Transaction represents an incoming transaction to be scored.
type Transaction struct {
	ID       string  `json:"id"`
	UserID   string  `json:"userId"`
	Amount   float64 `json:"amount"`
	Location string  `json:"location"`
	DeviceID string  `json:"deviceId"`

	// Timestamp is caller-supplied so feature derivation stays
	// deterministic and testable.
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScoreRequest is the API request payload for transaction scoring.
type ScoreRequest struct {
	UserID    string    `json:"userId"`
	Amount    float64   `json:"amount"`
	Location  string    `json:"location"`
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Validate rejects malformed input before it reaches the feature
// engine. Validation failures propagate to the caller; they are never
// masked as scoring failures.
func (r *ScoreRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if r.Amount <= 0 || math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) {
		return fmt.Errorf("%w: amount must be a positive finite number", ErrInvalidInput)
	}
	if r.Location == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidInput)
	}
	if r.DeviceID == "" {
		return fmt.Errorf("%w: deviceId is required", ErrInvalidInput)
	}
	return nil
}

// ToTransaction converts a request to a Transaction domain object.
func (r *ScoreRequest) ToTransaction(id string) *Transaction {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Transaction{
		ID:        id,
		UserID:    r.UserID,
		Amount:    r.Amount,
		Location:  r.Location,
		DeviceID:  r.DeviceID,
		Timestamp: ts,
		CreatedAt: time.Now().UTC(),
	}
}
