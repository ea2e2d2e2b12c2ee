package ensemble

import (
	"reflect"
	"strings"
	"testing"

	"github.com/fraudwatch/kestrel/internal/domain"
)

func TestExplainDeterministic(t *testing.T) {
	feats := domain.FeatureVector{4200, 2.1, 5, 3900, 1.8}
	a := Explain(feats, "CA", "dev-7")
	b := Explain(feats, "CA", "dev-7")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical input produced different explanations:\n%v\n%v", a, b)
	}
}

func TestExplainTopThree(t *testing.T) {
	exps := Explain(domain.FeatureVector{4200, 2.1, 5, 3900, 1.8}, "CA", "dev-7")
	if len(exps) != 3 {
		t.Fatalf("expected 3 explanations, got %d", len(exps))
	}
	for i := 1; i < len(exps); i++ {
		if exps[i].Impact > exps[i-1].Impact {
			t.Errorf("impacts not descending: %f before %f", exps[i-1].Impact, exps[i].Impact)
		}
	}
	var total float64
	for _, e := range exps {
		if e.Impact < 0 || e.Impact > 1 {
			t.Errorf("impact out of range: %f", e.Impact)
		}
		total += e.Impact
	}
	if total > 1.0+1e-6 {
		t.Errorf("normalized impacts sum above 1: %f", total)
	}
}

func TestExplainTieOrder(t *testing.T) {
	// Zero-signal vector: amount and device both land on their 0.25
	// floor, velocity and location on 0. Ties resolve in the fixed
	// category order, so amount precedes device.
	exps := Explain(domain.FeatureVector{0, 0, 0, 0, 0}, "NY", "dev-1")
	if len(exps) != 3 {
		t.Fatalf("expected 3 explanations, got %d", len(exps))
	}
	want := []string{"amount", "device", "location"}
	for i, w := range want {
		if exps[i].Feature != w {
			t.Errorf("position %d: expected %q, got %q", i, w, exps[i].Feature)
		}
	}
}

func TestExplainUnknownDeviceBoost(t *testing.T) {
	known := Explain(domain.FeatureVector{100, 0, 1, 0, 0}, "NY", "dev-1")
	unknown := Explain(domain.FeatureVector{100, 0, 1, 0, 0}, "NY", "unknown-9f3a")

	impact := func(exps []domain.Explanation, feature string) float64 {
		for _, e := range exps {
			if e.Feature == feature {
				return e.Impact
			}
		}
		return 0
	}
	if impact(unknown, "device") <= impact(known, "device") {
		t.Errorf("unknown-prefixed device must raise device impact: known=%f unknown=%f",
			impact(known, "device"), impact(unknown, "device"))
	}
}

func TestExplainReasonThresholds(t *testing.T) {
	t.Run("high amount deviation", func(t *testing.T) {
		exps := Explain(domain.FeatureVector{9000, 3.2, 1, 0, 0}, "NY", "dev-1")
		if !containsReason(exps, "amount", "significantly above") {
			t.Errorf("expected strong-deviation reason, got %v", exps)
		}
	})
	t.Run("typical amount", func(t *testing.T) {
		exps := Explain(domain.FeatureVector{100, 0.1, 1, 0, 0}, "NY", "dev-1")
		if !containsReason(exps, "amount", "expected user profile") {
			t.Errorf("expected in-profile reason, got %v", exps)
		}
	})
	t.Run("distant location", func(t *testing.T) {
		exps := Explain(domain.FeatureVector{100, 0, 1, 3900, 0}, "CA", "dev-1")
		if !containsReason(exps, "location", "Unusual geographic") {
			t.Errorf("expected unusual-location reason, got %v", exps)
		}
	})
	t.Run("high velocity", func(t *testing.T) {
		exps := Explain(domain.FeatureVector{100, 0, 8, 0, 0}, "NY", "dev-1")
		if !containsReason(exps, "velocity", "High transaction velocity") {
			t.Errorf("expected high-velocity reason, got %v", exps)
		}
	})
}

func containsReason(exps []domain.Explanation, feature, fragment string) bool {
	for _, e := range exps {
		if e.Feature == feature && strings.Contains(e.Reason, fragment) {
			return true
		}
	}
	return false
}
