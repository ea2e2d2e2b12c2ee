package domain

// PolicyConfig defines an advisory policy expressed as a CEL
// expression over the feature vector and the ensemble outcome.
// Policies annotate decisions; they never change the ensemble
// arithmetic.
type PolicyConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`

	// Expression must evaluate to a bool.
	Expression string `json:"expression"`

	// Reason is attached to the decision when the expression holds.
	Reason string `json:"reason"`

	Enabled bool `json:"enabled"`
}

// PolicyFlag is one triggered policy on a scored transaction.
type PolicyFlag struct {
	PolicyID string `json:"policyId"`
	Name     string `json:"name"`
	Reason   string `json:"reason"`
}
