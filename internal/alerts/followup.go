package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/g6-platform/g6/internal/config"
	"github.com/g6-platform/g6/internal/events"
	"github.com/g6-platform/g6/internal/metrics"
)

// weightedEvent is one accumulated follow-up for the rolling weight window.
type weightedEvent struct {
	at     time.Time
	weight float64
}

// Dispatcher wraps the three guards plus severity enrichment and
// enforces suppression/escalation/weight-pressure per spec §4.G
// "Follow-up dispatcher".
type Dispatcher struct {
	mu sync.Mutex

	Interp  *InterpolationGuard
	Risk    *RiskDriftGuard
	Bucket  *BucketUtilGuard
	Enricher *Enricher

	suppressWindow time.Duration
	weights        config.FollowupWeights
	weightWindow   time.Duration
	demoteThreshold float64

	lastEmitted map[string]emittedRecord // key: index|type
	recent      []Alert                  // bounded tail, most recent last
	recentCap   int
	weightEvents []weightedEvent

	manager *events.Manager
	reg     *metrics.Registry
}

type emittedRecord struct {
	severity Severity
	at       time.Time
}

// DispatcherConfig carries the follow-up tunables from config.Config.
type DispatcherConfig struct {
	Enabled          bool
	SuppressSeconds  int
	Weights          config.FollowupWeights
	WeightWindow     time.Duration
	DemoteThreshold  float64
	RecentCap        int
}

// NewDispatcher builds a Dispatcher wiring the three guards together.
func NewDispatcher(interp *InterpolationGuard, risk *RiskDriftGuard, bucket *BucketUtilGuard, enricher *Enricher, cfg DispatcherConfig, manager *events.Manager, reg *metrics.Registry) *Dispatcher {
	cap := cfg.RecentCap
	if cap <= 0 {
		cap = 200
	}
	return &Dispatcher{
		Interp: interp, Risk: risk, Bucket: bucket, Enricher: enricher,
		suppressWindow:  time.Duration(cfg.SuppressSeconds) * time.Second,
		weights:         cfg.Weights,
		weightWindow:    cfg.WeightWindow,
		demoteThreshold: cfg.DemoteThreshold,
		lastEmitted:     map[string]emittedRecord{},
		recentCap:       cap,
		manager:         manager,
		reg:             reg,
	}
}

// Dispatch enriches alert severity and applies suppression/escalation;
// returns true if the alert was actually emitted (spec §4.G).
func (d *Dispatcher) Dispatch(alert Alert, cycle int64) bool {
	d.Enricher.Enrich(&alert)
	alert.Cycle = cycle

	key := alert.Index + "|" + string(alert.Type)

	d.mu.Lock()
	prev, hadPrev := d.lastEmitted[key]
	suppressed := hadPrev &&
		time.Since(prev.at) < d.suppressWindow &&
		alert.Severity.rank() <= prev.severity.rank()
	if suppressed {
		d.mu.Unlock()
		return false
	}

	weight := d.weightFor(alert.Type, alert.Severity)
	alert.Weight = weight

	d.lastEmitted[key] = emittedRecord{severity: alert.Severity, at: time.Now()}
	d.recent = append(d.recent, alert)
	if len(d.recent) > d.recentCap {
		d.recent = d.recent[len(d.recent)-d.recentCap:]
	}

	d.weightEvents = append(d.weightEvents, weightedEvent{at: time.Now(), weight: weight})
	pressure := d.prunedWeightPressure()
	d.mu.Unlock()

	if d.reg != nil {
		d.reg.SetGauge("FollowupsWeightPressure", pressure)
		if alert.Type == TypeInterpolationHigh {
			d.reg.IncCounterVec("AdaptiveInterpolationAlertsTotal", alert.Index, "streak_target")
		}
	}

	if d.manager != nil {
		st, _ := d.Enricher.State(alert.Index, alert.Type)
		d.manager.Emit(events.TypeFollowupAlert, map[string]interface{}{
			"alert": map[string]interface{}{
				"type":     string(alert.Type),
				"index":    alert.Index,
				"message":  alert.Message,
				"severity": string(alert.Severity),
			},
			"severity":        string(alert.Severity),
			"severity_counts": st.StreakCounts,
			"cycle":           cycle,
			"weight":          weight,
			"weight_pressure": pressure,
		}, fmt.Sprintf("followup:%s:%s", alert.Index, alert.Type))
	}

	return true
}

func (d *Dispatcher) weightFor(t Type, sev Severity) float64 {
	if d.weights == nil {
		return 1
	}
	if bySev, ok := d.weights[string(t)]; ok {
		if w, ok := bySev[string(sev)]; ok {
			return w
		}
	}
	return 1
}

// prunedWeightPressure drops events older than weightWindow and sums
// the remainder. Caller holds d.mu.
func (d *Dispatcher) prunedWeightPressure() float64 {
	if d.weightWindow <= 0 {
		d.weightWindow = 300 * time.Second
	}
	cutoff := time.Now().Add(-d.weightWindow)
	kept := d.weightEvents[:0]
	var sum float64
	for _, e := range d.weightEvents {
		if e.at.After(cutoff) {
			kept = append(kept, e)
			sum += e.weight
		}
	}
	d.weightEvents = kept
	return sum
}

// ShouldDemote reports whether accumulated weight pressure exceeds the
// configured demotion threshold (adaptive controller feed, spec §4.G).
func (d *Dispatcher) ShouldDemote() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.demoteThreshold <= 0 {
		return false
	}
	return d.prunedWeightPressure() >= d.demoteThreshold
}

// Recent returns the bounded tail of recently-emitted alerts.
func (d *Dispatcher) Recent() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Alert, len(d.recent))
	copy(out, d.recent)
	return out
}
