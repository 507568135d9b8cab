package metrics

import (
	"math/rand"
	"testing"
)

func TestLatencySample_NearestRankUniform(t *testing.T) {
	s := newLatencySample(1000)
	for i := 0; i <= 100; i++ {
		s.add(float64(i))
	}

	tests := []struct {
		p        float64
		expected float64
	}{
		{50, 50},
		{95, 95},
		{99, 99},
	}
	for _, tc := range tests {
		if got := s.percentile(tc.p); got != tc.expected {
			t.Errorf("P%.0f = %f, expected %f", tc.p, got, tc.expected)
		}
	}
}

func TestLatencySample_InsertionOrderIndependent(t *testing.T) {
	values := make([]float64, 101)
	for i := range values {
		values[i] = float64(i)
	}

	forward := newLatencySample(1000)
	for _, v := range values {
		forward.add(v)
	}

	shuffled := newLatencySample(1000)
	rng := rand.New(rand.NewSource(42))
	for _, i := range rng.Perm(len(values)) {
		shuffled.add(values[i])
	}

	for _, p := range []float64{50, 95, 99} {
		if forward.percentile(p) != shuffled.percentile(p) {
			t.Errorf("P%.0f differs across insertion orders: %f vs %f",
				p, forward.percentile(p), shuffled.percentile(p))
		}
	}
}

func TestLatencySample_EdgeRanks(t *testing.T) {
	s := newLatencySample(10)
	if s.percentile(95) != 0 {
		t.Error("Empty sample must return 0, not panic")
	}

	s.add(42)
	if s.percentile(1) != 42 || s.percentile(99) != 42 {
		t.Error("Single-element sample must clamp all ranks to that element")
	}

	s.add(100)
	// n=2: P50 -> rank ceil(1) = 1 -> 42; P99 -> rank ceil(1.98) = 2 -> 100
	if s.percentile(50) != 42 {
		t.Errorf("P50 = %f, expected 42", s.percentile(50))
	}
	if s.percentile(99) != 100 {
		t.Errorf("P99 = %f, expected 100", s.percentile(99))
	}
}

func TestLatencySample_BoundedMemory(t *testing.T) {
	s := newLatencySample(100)
	for i := 0; i < 10_000; i++ {
		s.add(float64(i % 500))
	}

	if s.size() != 100 {
		t.Errorf("Expected sample bounded at 100, got %d", s.size())
	}
	if s.seen != 10_000 {
		t.Errorf("Expected 10000 observations seen, got %d", s.seen)
	}

	// Values must stay sorted after reservoir replacements.
	for i := 1; i < len(s.values); i++ {
		if s.values[i-1] > s.values[i] {
			t.Fatalf("Sample out of order at %d: %f > %f", i, s.values[i-1], s.values[i])
		}
	}
}
