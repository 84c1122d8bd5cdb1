package alerts

import (
	"sync"

	"github.com/g6-platform/g6/internal/config"
	"github.com/g6-platform/g6/internal/events"
)

// SeverityState tracks per (index,type) severity history (spec §3
// "SeverityState").
type SeverityState struct {
	CurrentSeverity Severity
	StreakCounts    map[Severity]int
	LastPublish     Alert
}

// Enricher applies configured severity rules to raw alerts and tracks
// per-(index,type) active severity state, publishing state-change
// events through the bus (spec §4.G "Severity enrichment").
type Enricher struct {
	mu      sync.Mutex
	rules   map[string]config.SeverityRule
	states  map[string]*SeverityState
	manager *events.Manager
}

// NewEnricher builds an Enricher from configured per-type rules.
func NewEnricher(rules map[string]config.SeverityRule, manager *events.Manager) *Enricher {
	return &Enricher{rules: rules, states: map[string]*SeverityState{}, manager: manager}
}

func stateKey(index string, t Type) string { return index + "|" + string(t) }

// Enrich sets alert.Severity from the type's configured thresholds
// applied to the alert's primary numeric, and publishes a
// severity_state event when the active severity for (index,type) changes.
func (e *Enricher) Enrich(alert *Alert) {
	rule, ok := e.rules[string(alert.Type)]
	primary := e.primaryValue(*alert)

	severity := SeverityInfo
	if ok {
		switch alert.Type {
		case TypeBucketUtilLow:
			// Lower utilization is worse: thresholds are upper bounds.
			if primary <= rule.Critical {
				severity = SeverityCritical
			} else if primary <= rule.Warn {
				severity = SeverityWarn
			}
		default:
			if absf(primary) >= rule.Critical {
				severity = SeverityCritical
			} else if absf(primary) >= rule.Warn {
				severity = SeverityWarn
			}
		}
	}
	alert.Severity = severity

	e.mu.Lock()
	key := stateKey(alert.Index, alert.Type)
	st, ok := e.states[key]
	if !ok {
		st = &SeverityState{StreakCounts: map[Severity]int{}}
		e.states[key] = st
	}
	st.StreakCounts[severity]++
	changed := st.CurrentSeverity != severity
	st.CurrentSeverity = severity
	st.LastPublish = *alert
	alert.ActiveSeverity = st.CurrentSeverity
	e.mu.Unlock()

	if changed && e.manager != nil {
		e.manager.Emit(events.TypeSeverityState, map[string]interface{}{
			"index":    alert.Index,
			"type":     string(alert.Type),
			"severity": string(severity),
		}, "severity_state:"+key)
		e.manager.Emit(events.TypeSeverityCounts, map[string]interface{}{
			"index": alert.Index,
			"type":  string(alert.Type),
			"counts": map[string]int{
				"info":     st.StreakCounts[SeverityInfo],
				"warn":     st.StreakCounts[SeverityWarn],
				"critical": st.StreakCounts[SeverityCritical],
			},
		}, "severity_counts:"+key)
	}
}

func (e *Enricher) primaryValue(alert Alert) float64 {
	switch alert.Type {
	case TypeInterpolationHigh:
		return alert.Fraction
	case TypeRiskDeltaDrift:
		return alert.DriftPct
	case TypeBucketUtilLow:
		return alert.Utilization
	default:
		return 0
	}
}

// State returns the current severity state for (index,type), if any.
func (e *Enricher) State(index string, t Type) (SeverityState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[stateKey(index, t)]
	if !ok {
		return SeverityState{}, false
	}
	return *st, true
}
