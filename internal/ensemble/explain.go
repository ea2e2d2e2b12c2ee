package ensemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fraudwatch/kestrel/internal/domain"
)

// maxExplanations bounds the returned attribution list.
const maxExplanations = 3

// The four input signal categories, in definition order. The order
// doubles as the tie-break priority so rankings are deterministic.
var categoryOrder = []string{"amount", "location", "device", "velocity"}

// Explain attributes a decision to the input signal categories. It is
// a pure function of the feature vector and device identifier,
// independent of which scorers succeeded, so identical inputs always
// produce identical output.
func Explain(features domain.FeatureVector, location, deviceID string) []domain.Explanation {
	amount := features[domain.FeatAmount]
	amountZ := abs(features[domain.FeatAmountZ])
	txFreq := features[domain.FeatTxFreq]
	geoDelta := features[domain.FeatGeoDelta]
	deviceEntropy := features[domain.FeatDeviceEntropy]

	unknownDevice := strings.HasPrefix(deviceID, "unknown")

	deviceBoost := 0.0
	if unknownDevice {
		deviceBoost = 0.3
	}

	raw := map[string]float64{
		"amount":   min1(0.25 + amountZ*0.25 + amount/100000.0),
		"location": min1(geoDelta / 8000.0),
		"device":   min1(0.25 + deviceEntropy*0.25 + deviceBoost),
		"velocity": min1(txFreq / 10.0),
	}

	reasons := map[string]string{
		"amount":   amountReason(amountZ),
		"location": locationReason(geoDelta, location),
		"device":   deviceReason(unknownDevice),
		"velocity": velocityReason(txFreq),
	}

	total := raw["amount"] + raw["location"] + raw["device"] + raw["velocity"]
	if total == 0 {
		total = 1.0
	}

	// Rank by raw impact, descending; ties resolve to the earlier
	// category in definition order.
	ranked := make([]string, len(categoryOrder))
	copy(ranked, categoryOrder)
	sort.SliceStable(ranked, func(i, j int) bool {
		return raw[ranked[i]] > raw[ranked[j]]
	})
	if len(ranked) > maxExplanations {
		ranked = ranked[:maxExplanations]
	}

	out := make([]domain.Explanation, 0, len(ranked))
	for _, cat := range ranked {
		out = append(out, domain.Explanation{
			Feature: cat,
			Impact:  round(raw[cat]/total, 2),
			Reason:  reasons[cat],
		})
	}
	return out
}

func amountReason(amountZ float64) string {
	if amountZ > 1.4 {
		return "Amount significantly above user average"
	}
	return "Amount within expected user profile"
}

func locationReason(geoDelta float64, location string) string {
	if geoDelta > 2000 {
		return "Unusual geographic location"
	}
	return fmt.Sprintf("Location %s close to recent activity", location)
}

func deviceReason(unknownDevice bool) string {
	if unknownDevice {
		return "Unknown device detected"
	}
	return "Device fingerprint seen previously"
}

func velocityReason(txFreq float64) string {
	if txFreq >= 4 {
		return "High transaction velocity in short window"
	}
	return "Normal transaction velocity"
}

func min1(x float64) float64 {
	if x > 1.0 {
		return 1.0
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
