package gate

import (
	"testing"

	"cachegate/internal/metrics"

	"github.com/pterm/pterm"
)

func newTestEvaluator(th Thresholds) *Evaluator {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	return NewEvaluator(logger, th)
}

func snapshotWith(total, hits, errors5xx int64, p95 float64) metrics.Snapshot {
	snap := metrics.Snapshot{}
	snap.TotalRequests = total
	snap.Hits = hits
	snap.Errors5xx = errors5xx
	snap.Latency.P95 = p95
	if total > 0 {
		snap.HitRatio = float64(hits) / float64(total)
		snap.ErrorRate = float64(errors5xx) / float64(total)
	}
	return snap
}

func TestEvaluator_PassingDeployment(t *testing.T) {
	ev := newTestEvaluator(DefaultThresholds())

	// 85% hits, P95 150ms, 0.5% errors: comfortably inside every limit.
	report := ev.Evaluate(snapshotWith(1000, 850, 5, 150))

	if !report.Passed {
		t.Fatalf("Expected gate to pass, failures: %v", report.Failures)
	}
	if report.InsufficientData {
		t.Error("Expected sufficient data with 1000 requests")
	}
	if len(report.Failures) != 0 {
		t.Errorf("Expected no failures, got %v", report.Failures)
	}
	if len(report.Checks) != 3 {
		t.Errorf("Expected 3 checks, got %d", len(report.Checks))
	}
}

func TestEvaluator_AllChecksFail(t *testing.T) {
	ev := newTestEvaluator(DefaultThresholds())

	// 70% hits, P95 250ms, 2% errors: every criterion violated.
	report := ev.Evaluate(snapshotWith(1000, 700, 20, 250))

	if report.Passed {
		t.Fatal("Expected gate to fail")
	}
	expected := []string{CheckHitRatio, CheckP95Latency, CheckErrorRate}
	if len(report.Failures) != len(expected) {
		t.Fatalf("Expected %d failures, got %v", len(expected), report.Failures)
	}
	for i, name := range expected {
		if report.Failures[i] != name {
			t.Errorf("Expected failure %d to be %q, got %q", i, name, report.Failures[i])
		}
	}
}

func TestEvaluator_BoundaryConditions(t *testing.T) {
	ev := newTestEvaluator(DefaultThresholds())

	tests := []struct {
		name   string
		snap   metrics.Snapshot
		passed bool
	}{
		// Hit ratio minimum is inclusive.
		{"hit ratio exactly at min", snapshotWith(100, 80, 0, 100), true},
		{"hit ratio just below min", snapshotWith(1000, 799, 0, 100), false},
		// P95 and error rate limits are exclusive.
		{"p95 exactly at max", snapshotWith(100, 90, 0, 200), false},
		{"p95 just below max", snapshotWith(100, 90, 0, 199.9), true},
		{"error rate exactly at max", snapshotWith(100, 90, 1, 100), false},
		{"error rate below max", snapshotWith(1000, 900, 9, 100), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			report := ev.Evaluate(tc.snap)
			if report.Passed != tc.passed {
				t.Errorf("Expected passed=%v, got %v (failures: %v)",
					tc.passed, report.Passed, report.Failures)
			}
		})
	}
}

func TestEvaluator_SingleFailureStillRunsAllChecks(t *testing.T) {
	ev := newTestEvaluator(DefaultThresholds())

	// Only the hit ratio is bad; latency and errors are fine.
	report := ev.Evaluate(snapshotWith(1000, 500, 0, 50))

	if report.Passed {
		t.Fatal("Expected gate to fail on hit ratio")
	}
	if len(report.Failures) != 1 || report.Failures[0] != CheckHitRatio {
		t.Errorf("Expected only hit_ratio failure, got %v", report.Failures)
	}
	if len(report.Checks) != 3 {
		t.Errorf("Expected all 3 checks evaluated, got %d", len(report.Checks))
	}
}

func TestEvaluator_InsufficientData(t *testing.T) {
	ev := newTestEvaluator(DefaultThresholds())

	report := ev.Evaluate(metrics.Snapshot{})

	if report.Passed {
		t.Error("Expected an empty snapshot not to pass the gate")
	}
	if !report.InsufficientData {
		t.Error("Expected insufficient_data to be set")
	}
	if len(report.Failures) != 0 {
		t.Errorf("Expected no named failures without data, got %v", report.Failures)
	}
	if len(report.Checks) != 0 {
		t.Errorf("Expected no checks without data, got %d", len(report.Checks))
	}
}

func TestEvaluator_CustomThresholds(t *testing.T) {
	ev := newTestEvaluator(Thresholds{HitRatioMin: 0.5, P95MaxMs: 1000, ErrorRateMax: 0.1})

	report := ev.Evaluate(snapshotWith(1000, 700, 20, 250))
	if !report.Passed {
		t.Errorf("Expected relaxed thresholds to pass, failures: %v", report.Failures)
	}
}
