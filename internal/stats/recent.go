// Package stats keeps a fixed-size in-memory buffer of recent
// ensemble scores for operational visibility.
package stats

import (
	"sync"
	"time"
)

const defaultCapacity = 1024

type entry struct {
	score   float64
	isFraud bool
	at      time.Time
}

// Recorder is a ring buffer of recent scores. Process-wide state,
// initialized at startup, safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	buf   []entry
	next  int
	count int
}

// Summary describes the buffered scores.
type Summary struct {
	Count     int     `json:"count"`
	MeanScore float64 `json:"meanScore"`
	MaxScore  float64 `json:"maxScore"`
	AlertRate float64 `json:"alertRate"`
}

// NewRecorder creates a recorder holding up to capacity entries.
// A non-positive capacity falls back to the default.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Recorder{buf: make([]entry, capacity)}
}

// Record appends a score, evicting the oldest when full.
func (r *Recorder) Record(score float64, isFraud bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = entry{score: score, isFraud: isFraud, at: at}
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Summarize reports over the currently buffered scores.
func (r *Recorder) Summarize() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{Count: r.count}
	if r.count == 0 {
		return s
	}

	var sum float64
	alerts := 0
	for i := 0; i < r.count; i++ {
		e := r.buf[i]
		sum += e.score
		if e.score > s.MaxScore {
			s.MaxScore = e.score
		}
		if e.isFraud {
			alerts++
		}
	}
	s.MeanScore = sum / float64(r.count)
	s.AlertRate = float64(alerts) / float64(r.count)
	return s
}
