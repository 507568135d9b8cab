package metrics

import (
	"math"
	"math/rand"
	"sort"
)

// sampleSeed is fixed so reservoir replacement is reproducible run-to-run.
const sampleSeed int64 = 0x6c61746e63 // "latnc"

// latencySample holds latency observations in sorted order so percentile
// queries are order-statistic lookups, never a full re-sort. Memory is
// bounded: below capacity every observation is kept and percentiles are
// exact and independent of insertion order; once the capacity is reached,
// new observations replace a uniformly random kept one with probability
// capacity/seen (reservoir sampling), so the sample stays an unbiased
// bounded approximation of the full stream.
type latencySample struct {
	values   []float64
	capacity int
	seen     int64
	rng      *rand.Rand
}

func newLatencySample(capacity int) *latencySample {
	if capacity <= 0 {
		capacity = 1
	}
	initial := capacity
	if initial > 1024 {
		initial = 1024
	}
	return &latencySample{
		values:   make([]float64, 0, initial),
		capacity: capacity,
		rng:      rand.New(rand.NewSource(sampleSeed)),
	}
}

func (s *latencySample) add(v float64) {
	s.seen++
	if len(s.values) < s.capacity {
		s.insert(v)
		return
	}

	// Reservoir replacement: keep the new value with probability cap/seen.
	if s.rng.Int63n(s.seen) >= int64(s.capacity) {
		return
	}
	evict := s.rng.Intn(len(s.values))
	s.values = append(s.values[:evict], s.values[evict+1:]...)
	s.insert(v)
}

// insert places v at its sorted position.
func (s *latencySample) insert(v float64) {
	i := sort.SearchFloat64s(s.values, v)
	s.values = append(s.values, 0)
	copy(s.values[i+1:], s.values[i:])
	s.values[i] = v
}

// percentile returns the nearest-rank percentile: for rank
// r = ceil(p*n/100) over the n sorted samples, the r-th smallest
// (1-indexed), clamped to [1, n]. Zero when the sample is empty.
func (s *latencySample) percentile(p float64) float64 {
	n := len(s.values)
	if n == 0 {
		return 0
	}
	r := int(math.Ceil(p * float64(n) / 100.0))
	if r < 1 {
		r = 1
	}
	if r > n {
		r = n
	}
	return s.values[r-1]
}

func (s *latencySample) size() int {
	return len(s.values)
}
