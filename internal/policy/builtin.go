package policy

import "github.com/fraudwatch/kestrel/internal/domain"

// BuiltinPolicies returns the hard-limit policies seeded into fresh
// deployments. Operators can disable or replace them via the policy
// endpoints.
func BuiltinPolicies() []*domain.PolicyConfig {
	return []*domain.PolicyConfig{
		{
			ID:          "hard-amount-limit",
			Name:        "Hard amount limit",
			Description: "Flags any transaction above the absolute amount ceiling regardless of model score",
			Version:     "1.0.0",
			Expression:  "amount > 50000.0",
			Reason:      "Amount exceeds hard limit",
			Enabled:     true,
		},
		{
			ID:          "high-score-review",
			Name:        "High score review",
			Description: "Flags near-certain fraud scores for manual review",
			Version:     "1.0.0",
			Expression:  "fraud_score >= 0.85",
			Reason:      "Ensemble score in critical band",
			Enabled:     true,
		},
		{
			ID:          "impossible-travel",
			Name:        "Impossible travel",
			Description: "Flags long-distance location jumps combined with burst velocity",
			Version:     "1.0.0",
			Expression:  "geo_delta > 3000.0 && tx_freq >= 3.0",
			Reason:      "Location jump with burst velocity",
			Enabled:     true,
		},
	}
}
