// Package features derives per-transaction feature vectors from
// per-user behavioral history.
//
// The engine owns one history record per user. A Derive call reads
// the user's prior history to compute every feature, then appends the
// current transaction. The read-compute-append sequence is a single
// critical section per user: concurrent calls for the same user are
// serialized, calls for different users proceed in parallel on
// separate lock stripes.
package features

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/fraudwatch/kestrel/internal/domain"
	"github.com/fraudwatch/kestrel/internal/geo"
)

// velocityWindow is the inclusive lookback for tx_freq.
const velocityWindow = time.Hour

const defaultShards = 64

// userHistory holds one user's observed transactions. The four
// slices are index-aligned; index i across all four describes the
// same transaction.
type userHistory struct {
	amounts    []float64
	timestamps []time.Time
	locations  []string
	devices    []string
}

type shard struct {
	mu    sync.Mutex
	users map[string]*userHistory
}

// Engine computes feature vectors from per-user rolling history.
type Engine struct {
	shards []*shard

	// maxHistory caps retained history per user; 0 means unbounded.
	maxHistory int
}

// NewEngine creates a feature engine from configuration.
func NewEngine(cfg domain.FeaturesConfig) *Engine {
	n := cfg.Shards
	if n <= 0 {
		n = defaultShards
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{users: make(map[string]*userHistory)}
	}
	return &Engine{
		shards:     shards,
		maxHistory: cfg.MaxHistory,
	}
}

func (e *Engine) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}

// Derive computes the feature vector
// [amount, amount_z, tx_freq, geo_delta, device_entropy] from the
// user's history prior to this transaction, then records the
// transaction. The current transaction never contributes to its own
// features. Always succeeds; input validation is the caller's
// contract.
func (e *Engine) Derive(userID string, amount float64, location, deviceID string, timestamp time.Time) domain.FeatureVector {
	s := e.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &userHistory{}
		s.users[userID] = u
	}

	amountZ := zscore(amount, u.amounts)
	txFreq := countSince(u.timestamps, timestamp.Add(-velocityWindow))

	geoDelta := 0.0
	if len(u.locations) > 0 {
		geoDelta = geo.DistanceKm(u.locations[len(u.locations)-1], location)
	}

	deviceEntropy := entropy(u.devices)

	u.amounts = append(u.amounts, amount)
	u.timestamps = append(u.timestamps, timestamp)
	u.locations = append(u.locations, location)
	u.devices = append(u.devices, deviceID)

	if e.maxHistory > 0 && len(u.amounts) > e.maxHistory {
		drop := len(u.amounts) - e.maxHistory
		u.amounts = u.amounts[drop:]
		u.timestamps = u.timestamps[drop:]
		u.locations = u.locations[drop:]
		u.devices = u.devices[drop:]
	}

	return domain.FeatureVector{amount, amountZ, float64(txFreq), geoDelta, deviceEntropy}
}

// HistoryLen returns the retained history length for a user.
func (e *Engine) HistoryLen(userID string) int {
	s := e.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0
	}
	return len(u.amounts)
}

// Profile returns a behavioral summary of a user's retained history.
func (e *Engine) Profile(userID string) domain.UserProfile {
	s := e.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	p := domain.UserProfile{UserID: userID}
	u, ok := s.users[userID]
	if !ok || len(u.amounts) == 0 {
		return p
	}

	p.TxCount = len(u.amounts)

	var sum float64
	for _, a := range u.amounts {
		sum += a
	}
	p.AvgAmount = sum / float64(len(u.amounts))

	devices := make(map[string]struct{}, len(u.devices))
	for _, d := range u.devices {
		devices[d] = struct{}{}
	}
	p.DistinctDevices = len(devices)

	places := make(map[string]struct{}, len(u.locations))
	for _, l := range u.locations {
		places[l] = struct{}{}
	}
	p.DistinctPlaces = len(places)

	p.LastSeen = u.timestamps[len(u.timestamps)-1]
	return p
}

// UserCount returns the number of users with retained history.
func (e *Engine) UserCount() int {
	total := 0
	for _, s := range e.shards {
		s.mu.Lock()
		total += len(s.users)
		s.mu.Unlock()
	}
	return total
}

// zscore computes the z-score of amount against the prior amounts
// using the population standard deviation. Fewer than 2 priors or a
// zero deviation yields 0.
func zscore(amount float64, history []float64) float64 {
	if len(history) < 2 {
		return 0.0
	}

	var sum float64
	for _, x := range history {
		sum += x
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, x := range history {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(history))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0.0
	}
	return (amount - mean) / std
}

// countSince counts timestamps at or after the cutoff (inclusive
// boundary).
func countSince(timestamps []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range timestamps {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}

// entropy computes the base-2 Shannon entropy of the device
// identifier multiset. Empty history yields 0.
func entropy(devices []string) float64 {
	if len(devices) == 0 {
		return 0.0
	}

	counts := make(map[string]int, len(devices))
	for _, d := range devices {
		counts[d]++
	}

	total := float64(len(devices))
	var h float64
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}
