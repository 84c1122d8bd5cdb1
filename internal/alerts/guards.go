// Package alerts implements the adaptive interpolation/risk/bucket
// guards, severity enrichment, and follow-up dispatch (spec §4.G).
package alerts

import (
	"fmt"
	"sync"
	"time"
)

// Severity is the alert urgency tier.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

// Type enumerates the three adaptive alert families.
type Type string

const (
	TypeInterpolationHigh Type = "interpolation_high"
	TypeRiskDeltaDrift    Type = "risk_delta_drift"
	TypeBucketUtilLow     Type = "bucket_util_low"
)

// Alert is the adaptive alert record (spec §3 "AdaptiveAlert").
type Alert struct {
	Type           Type
	Index          string
	Message        string
	Severity       Severity
	ActiveSeverity Severity
	Timestamp      time.Time
	Cycle          int64
	Weight         float64

	// Primary numeric driving severity enrichment, keyed by Type.
	Fraction  float64 // interpolation_high
	DriftPct  float64 // risk_delta_drift
	Sign      string  // risk_delta_drift: up|down
	Utilization float64 // bucket_util_low
}

// InterpolationGuard implements spec §4.G's interpolation guard.
type InterpolationGuard struct {
	mu           sync.Mutex
	Threshold    float64
	StreakTarget int
	streaks      map[string]int
}

// NewInterpolationGuard builds a guard with the given tunables.
func NewInterpolationGuard(threshold float64, streakTarget int) *InterpolationGuard {
	return &InterpolationGuard{Threshold: threshold, StreakTarget: streakTarget, streaks: map[string]int{}}
}

// RecordInterpolationFraction increments or resets the per-index streak
// and returns an alert once the streak reaches StreakTarget while still
// above threshold.
func (g *InterpolationGuard) RecordInterpolationFraction(index string, fraction float64) (*Alert, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if fraction > g.Threshold {
		g.streaks[index]++
	} else {
		g.streaks[index] = 0
	}
	streak := g.streaks[index]

	if streak >= g.StreakTarget && fraction > g.Threshold {
		return &Alert{
			Type:      TypeInterpolationHigh,
			Index:     index,
			Fraction:  fraction,
			Message:   fmt.Sprintf("interpolated fraction %.2f exceeds threshold %.2f for %d cycles", fraction, g.Threshold, streak),
			Timestamp: time.Now(),
		}, streak
	}
	return nil, streak
}

// RiskDriftGuard implements spec §4.G's risk delta drift guard.
type RiskDriftGuard struct {
	mu           sync.Mutex
	WindowSize   int
	PctThreshold float64
	RowTolerance float64
	windows      map[string][]riskSample
}

type riskSample struct {
	deltaNotional float64
	rowCount      int
}

// NewRiskDriftGuard builds a guard with the given tunables.
func NewRiskDriftGuard(windowSize int, pctThreshold, rowTolerance float64) *RiskDriftGuard {
	return &RiskDriftGuard{WindowSize: windowSize, PctThreshold: pctThreshold, RowTolerance: rowTolerance, windows: map[string][]riskSample{}}
}

// RecordRiskDelta appends a sample to the sliding window and, once full,
// evaluates the drift condition (spec §4.G).
func (g *RiskDriftGuard) RecordRiskDelta(index string, deltaNotional float64, rowCount int) *Alert {
	g.mu.Lock()
	defer g.mu.Unlock()

	w := append(g.windows[index], riskSample{deltaNotional, rowCount})
	if len(w) > g.WindowSize {
		w = w[len(w)-g.WindowSize:]
	}
	g.windows[index] = w

	if len(w) < g.WindowSize {
		return nil
	}

	first, last := w[0], w[len(w)-1]
	rowChange := relativeChange(float64(first.rowCount), float64(last.rowCount))
	if rowChange > g.RowTolerance {
		return nil
	}

	pctChange := percentChange(first.deltaNotional, last.deltaNotional)
	if absf(pctChange) < g.PctThreshold {
		return nil
	}

	sign := "down"
	if pctChange > 0 {
		sign = "up"
	}
	return &Alert{
		Type:      TypeRiskDeltaDrift,
		Index:     index,
		DriftPct:  pctChange,
		Sign:      sign,
		Message:   fmt.Sprintf("risk delta notional drifted %.1f%% (%s) over %d cycles", pctChange, sign, g.WindowSize),
		Timestamp: time.Now(),
	}
}

func relativeChange(a, b float64) float64 {
	if a == 0 {
		if b == 0 {
			return 0
		}
		return 1
	}
	return absf(b-a) / absf(a)
}

func percentChange(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / absf(a) * 100
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// BucketUtilGuard implements spec §4.G's bucket-utilization guard.
type BucketUtilGuard struct {
	mu           sync.Mutex
	Threshold    float64
	StreakTarget int
	streaks      map[string]int
}

// NewBucketUtilGuard builds a guard with the given tunables.
func NewBucketUtilGuard(threshold float64, streakTarget int) *BucketUtilGuard {
	return &BucketUtilGuard{Threshold: threshold, StreakTarget: streakTarget, streaks: map[string]int{}}
}

// RecordBucketUtilization mirrors RecordInterpolationFraction's streak
// logic but on the below-threshold direction.
func (g *BucketUtilGuard) RecordBucketUtilization(index string, utilization float64) *Alert {
	g.mu.Lock()
	defer g.mu.Unlock()

	if utilization < g.Threshold {
		g.streaks[index]++
	} else {
		g.streaks[index] = 0
	}
	streak := g.streaks[index]

	if streak >= g.StreakTarget && utilization < g.Threshold {
		return &Alert{
			Type:        TypeBucketUtilLow,
			Index:       index,
			Utilization: utilization,
			Message:     fmt.Sprintf("bucket utilization %.2f below threshold %.2f for %d cycles", utilization, g.Threshold, streak),
			Timestamp:   time.Now(),
		}
	}
	return nil
}
