package stats

import (
	"sync"
	"testing"
	"time"
)

func TestEmptyRecorder(t *testing.T) {
	r := NewRecorder(8)
	s := r.Summarize()
	if s.Count != 0 || s.MeanScore != 0 || s.MaxScore != 0 || s.AlertRate != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestSummary(t *testing.T) {
	r := NewRecorder(8)
	now := time.Now()

	r.Record(0.2, false, now)
	r.Record(0.4, false, now)
	r.Record(0.9, true, now)

	s := r.Summarize()
	if s.Count != 3 {
		t.Errorf("expected count 3, got %d", s.Count)
	}
	if s.MaxScore != 0.9 {
		t.Errorf("expected max 0.9, got %f", s.MaxScore)
	}
	if got := (0.2 + 0.4 + 0.9) / 3; s.MeanScore != got {
		t.Errorf("expected mean %f, got %f", got, s.MeanScore)
	}
	if want := 1.0 / 3.0; s.AlertRate != want {
		t.Errorf("expected alert rate %f, got %f", want, s.AlertRate)
	}
}

func TestEviction(t *testing.T) {
	r := NewRecorder(4)
	now := time.Now()

	for i := 0; i < 10; i++ {
		r.Record(float64(i)/10, false, now)
	}

	s := r.Summarize()
	if s.Count != 4 {
		t.Errorf("expected buffer capped at 4, got %d", s.Count)
	}
}

func TestConcurrentRecord(t *testing.T) {
	r := NewRecorder(128)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(0.5, false, now)
		}()
	}
	wg.Wait()

	if s := r.Summarize(); s.Count != 64 {
		t.Errorf("expected 64 records, got %d", s.Count)
	}
}
