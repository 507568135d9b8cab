package gate

import (
	"time"

	"cachegate/internal/metrics"

	"github.com/pterm/pterm"
)

// Check names, stable identifiers used in reports and failure lists.
const (
	CheckHitRatio   = "hit_ratio"
	CheckP95Latency = "p95_latency"
	CheckErrorRate  = "error_rate"
)

// Thresholds define the release-gate limits. HitRatioMin is inclusive
// (observed >= min passes), P95MaxMs and ErrorRateMax are exclusive
// (observed must be strictly below).
type Thresholds struct {
	HitRatioMin  float64 `json:"hit_ratio_min"`
	P95MaxMs     float64 `json:"p95_max_ms"`
	ErrorRateMax float64 `json:"error_rate_max"`
}

// DefaultThresholds returns the standard rollout gate.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HitRatioMin:  0.80,
		P95MaxMs:     200,
		ErrorRateMax: 0.01,
	}
}

// Check is the result of one gate criterion.
type Check struct {
	Name      string  `json:"name"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}

// Report is a full gate evaluation. Every check is always evaluated and
// listed, even after an earlier one has failed, so a failing report
// names everything that needs fixing at once. When the snapshot holds no
// requests the gate cannot judge anything: Passed is false, Failures is
// empty and InsufficientData is set.
type Report struct {
	Passed           bool      `json:"passed"`
	InsufficientData bool      `json:"insufficient_data"`
	Failures         []string  `json:"failures"`
	Checks           []Check   `json:"checks"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// Evaluator applies thresholds to metric snapshots.
type Evaluator struct {
	logger     *pterm.Logger
	thresholds Thresholds
}

func NewEvaluator(logger *pterm.Logger, thresholds Thresholds) *Evaluator {
	return &Evaluator{logger: logger, thresholds: thresholds}
}

// Thresholds returns the configured limits.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate judges one snapshot against the thresholds.
func (e *Evaluator) Evaluate(snap metrics.Snapshot) Report {
	report := Report{
		Failures:    []string{},
		EvaluatedAt: time.Now(),
	}

	if snap.TotalRequests == 0 {
		report.InsufficientData = true
		e.logger.Warn("Gate evaluated with no traffic", e.logger.Args("result", "insufficient_data"))
		return report
	}

	report.Checks = []Check{
		{
			Name:      CheckHitRatio,
			Observed:  snap.HitRatio,
			Threshold: e.thresholds.HitRatioMin,
			Passed:    snap.HitRatio >= e.thresholds.HitRatioMin,
		},
		{
			Name:      CheckP95Latency,
			Observed:  snap.Latency.P95,
			Threshold: e.thresholds.P95MaxMs,
			Passed:    snap.Latency.P95 < e.thresholds.P95MaxMs,
		},
		{
			Name:      CheckErrorRate,
			Observed:  snap.ErrorRate,
			Threshold: e.thresholds.ErrorRateMax,
			Passed:    snap.ErrorRate < e.thresholds.ErrorRateMax,
		},
	}

	report.Passed = true
	for _, check := range report.Checks {
		if !check.Passed {
			report.Passed = false
			report.Failures = append(report.Failures, check.Name)
		}
	}

	e.logger.Info("Gate evaluated",
		e.logger.Args(
			"passed", report.Passed,
			"failures", report.Failures,
			"total_requests", snap.TotalRequests,
		))

	return report
}
