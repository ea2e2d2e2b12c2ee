package geo

import "testing"

func TestDistanceKnownPair(t *testing.T) {
	d := DistanceKm("NY", "CA")
	if d < 3932 || d > 3935 {
		t.Errorf("expected NY-CA distance in [3932, 3935], got %.2f", d)
	}

	// Deterministic: repeat computation must give the same value.
	if d2 := DistanceKm("NY", "CA"); d2 != d {
		t.Errorf("distance not deterministic: %.10f vs %.10f", d, d2)
	}

	// Symmetric
	if rev := DistanceKm("CA", "NY"); rev != d {
		t.Errorf("distance not symmetric: %.6f vs %.6f", d, rev)
	}
}

func TestDistanceSelf(t *testing.T) {
	for code := range locations {
		if d := DistanceKm(code, code); d != 0.0 {
			t.Errorf("expected 0 distance from %s to itself, got %f", code, d)
		}
	}
}

func TestDistanceUnknownCode(t *testing.T) {
	if d := DistanceKm("NY", "??"); d != 0.0 {
		t.Errorf("expected 0 for unknown destination, got %f", d)
	}
	if d := DistanceKm("??", "NY"); d != 0.0 {
		t.Errorf("expected 0 for unknown origin, got %f", d)
	}
	if d := DistanceKm("", ""); d != 0.0 {
		t.Errorf("expected 0 for empty codes, got %f", d)
	}
}

func TestKnown(t *testing.T) {
	if !Known("TX") {
		t.Error("expected TX to be a known location")
	}
	if Known("ZZ") {
		t.Error("did not expect ZZ to be known")
	}
}
