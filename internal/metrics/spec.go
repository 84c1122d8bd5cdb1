// Package metrics implements the declarative, group-gated Prometheus
// registry and cardinality manager (spec §4.D), grounded in the
// dedicated-registry pattern used by the retrieval pack's observability
// modules (own prometheus.Registry, Namespace/Subsystem/Name naming).
package metrics

// Kind is the Prometheus collector kind for a declared metric.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindSummary   Kind = "summary"
)

// MetricDef declares one metric (spec §4.D "Declarative specs").
type MetricDef struct {
	Attr      string // field name used to look up the collector at runtime
	Name      string // prometheus metric name
	Doc       string
	Kind      Kind
	Labels    []string
	Group     string
	Buckets   []float64 // histogram only
	Predicate func() bool
}

// AlwaysOnGroups bypass the disable-list (spec §4.D "Group gating").
var AlwaysOnGroups = map[string]bool{
	"expiry_remediation": true,
	"provider_failover":  true,
	"sla_health":         true,
	"iv_estimation":      true,
}

// Specs is the full catalog of G6 metrics.
func Specs() []MetricDef {
	return []MetricDef{
		// Cycle / orchestrator
		{Attr: "CycleDuration", Name: "g6_cycle_duration_seconds", Doc: "Cycle wall-clock duration", Kind: KindHistogram, Group: "cycle"},
		{Attr: "CyclesTotal", Name: "g6_cycles_total", Doc: "Cycles completed", Kind: KindCounter, Labels: []string{"status"}, Group: "cycle"},
		{Attr: "CyclesPerHour", Name: "g6_cycles_per_hour", Doc: "Rolling cycles-per-hour estimate", Kind: KindGauge, Group: "cycle"},
		{Attr: "MemoryPressureLevel", Name: "g6_memory_pressure_level", Doc: "Memory pressure ordinal level (0=normal,1=elevated,2=high,3=critical)", Kind: KindGauge, Group: "cycle"},
		{Attr: "OptionsTotal", Name: "g6_options_total", Doc: "Options processed", Kind: KindCounter, Labels: []string{"index"}, Group: "cycle"},

		// Expiry / provider
		{Attr: "ExpiryStatus", Name: "g6_expiry_status", Doc: "Expiry classification (0=OK,1=PARTIAL,2=EMPTY,3=STALE)", Kind: KindGauge, Labels: []string{"index", "rule"}, Group: "expiry_remediation"},
		{Attr: "ExpiryFallbacksTotal", Name: "g6_expiry_fallbacks_total", Doc: "Expiry fallback activations", Kind: KindCounter, Labels: []string{"index", "kind"}, Group: "expiry_remediation"},
		{Attr: "ProviderErrorsTotal", Name: "g6_provider_errors_total", Doc: "Provider adapter errors", Kind: KindCounter, Labels: []string{"index", "error_kind"}, Group: "provider_failover"},
		{Attr: "ProviderConnected", Name: "g6_provider_connected", Doc: "Provider connectivity flag", Kind: KindGauge, Group: "provider_failover"},
		{Attr: "SLAHealth", Name: "g6_sla_health", Doc: "Composite SLA health score", Kind: KindGauge, Group: "sla_health"},

		// IV/Greeks
		{Attr: "IVEstimateSeconds", Name: "g6_iv_estimate_seconds", Doc: "Newton-Raphson IV estimation latency", Kind: KindHistogram, Group: "iv_estimation"},
		{Attr: "IVEstimateFailuresTotal", Name: "g6_iv_estimate_failures_total", Doc: "IV estimation non-convergence", Kind: KindCounter, Labels: []string{"index"}, Group: "iv_estimation"},

		// Vol surface
		{Attr: "VolSurfaceRows", Name: "g6_vol_surface_rows", Doc: "Vol surface rows by source", Kind: KindGauge, Labels: []string{"index", "source"}, Group: "vol_surface"},
		{Attr: "VolSurfaceInterpolatedFraction", Name: "g6_vol_surface_interpolated_fraction", Doc: "Fraction of interpolated buckets", Kind: KindGauge, Labels: []string{"index"}, Group: "vol_surface"},
		{Attr: "VolSurfaceQualityScore", Name: "g6_vol_surface_quality_score", Doc: "coverage*(1-interp_fraction)", Kind: KindGauge, Labels: []string{"index"}, Group: "vol_surface"},
		{Attr: "VolSurfaceBuildSeconds", Name: "g6_vol_surface_build_seconds", Doc: "Vol surface build latency", Kind: KindHistogram, Group: "vol_surface"},
		{Attr: "VolSurfaceInterpSeconds", Name: "g6_vol_surface_interp_seconds", Doc: "Vol surface interpolation latency", Kind: KindHistogram, Group: "vol_surface"},

		// Risk aggregation
		{Attr: "RiskAggRows", Name: "g6_risk_agg_rows", Doc: "Risk aggregation rows", Kind: KindGauge, Labels: []string{"index"}, Group: "risk_agg"},
		{Attr: "RiskAggNotionalDelta", Name: "g6_risk_agg_notional_delta", Doc: "Aggregate delta notional", Kind: KindGauge, Labels: []string{"index"}, Group: "risk_agg"},
		{Attr: "RiskAggNotionalVega", Name: "g6_risk_agg_notional_vega", Doc: "Aggregate vega notional", Kind: KindGauge, Labels: []string{"index"}, Group: "risk_agg"},
		{Attr: "RiskAggBucketUtilization", Name: "g6_risk_agg_bucket_utilization", Doc: "populated/theoretical buckets", Kind: KindGauge, Labels: []string{"index"}, Group: "risk_agg"},

		// Adaptive alerts
		{Attr: "AdaptiveInterpolationAlertsTotal", Name: "g6_adaptive_interpolation_alerts_total", Doc: "interpolation_high alerts emitted", Kind: KindCounter, Labels: []string{"index", "reason"}, Group: "adaptive_alerts"},
		{Attr: "AdaptiveInterpolationStreak", Name: "g6_adaptive_interpolation_streak", Doc: "Current interpolation-high streak", Kind: KindGauge, Labels: []string{"index"}, Group: "adaptive_alerts"},
		{Attr: "FollowupsWeightPressure", Name: "g6_followups_weight_pressure", Doc: "Rolling weighted follow-up pressure", Kind: KindGauge, Group: "adaptive_alerts"},

		// Event bus
		{Attr: "EventsTotal", Name: "g6_events_total", Doc: "Events published", Kind: KindCounter, Labels: []string{"type"}, Group: "event_bus"},
		{Attr: "EventsCoalescedTotal", Name: "g6_events_coalesced_total", Doc: "Events coalesced (replaced)", Kind: KindCounter, Labels: []string{"type"}, Group: "event_bus"},
		{Attr: "EventsEmittedTotal", Name: "g6_events_emitted_total", Doc: "Events delivered to SSE clients", Kind: KindCounter, Labels: []string{"type"}, Group: "event_bus"},
		{Attr: "EventsDroppedTotal", Name: "g6_events_dropped_total", Doc: "Events dropped", Kind: KindCounter, Labels: []string{"reason", "type"}, Group: "event_bus"},
		{Attr: "EventsForcedFullTotal", Name: "g6_events_forced_full_total", Doc: "Forced panel_full recoveries", Kind: KindCounter, Labels: []string{"reason"}, Group: "event_bus"},
		{Attr: "BackpressureEventsTotal", Name: "g6_backpressure_events_total", Doc: "Backpressure state transitions", Kind: KindCounter, Labels: []string{"reason"}, Group: "event_bus"},
		{Attr: "AdaptiveTransitionsTotal", Name: "g6_adaptive_transitions_total", Doc: "Adaptive degrade controller transitions", Kind: KindCounter, Labels: []string{"from", "to"}, Group: "event_bus"},
		{Attr: "EventsBacklog", Name: "g6_events_backlog", Doc: "Current backlog length", Kind: KindGauge, Group: "event_bus"},
		{Attr: "EventsBacklogHighwater", Name: "g6_events_backlog_highwater", Doc: "Backlog highwater mark", Kind: KindGauge, Group: "event_bus"},
		{Attr: "EventsBacklogCapacity", Name: "g6_events_backlog_capacity", Doc: "Backlog capacity", Kind: KindGauge, Group: "event_bus"},
		{Attr: "EventsLastID", Name: "g6_events_last_id", Doc: "Last assigned event id", Kind: KindGauge, Group: "event_bus"},
		{Attr: "EventsConsumers", Name: "g6_events_consumers", Doc: "Connected SSE consumers", Kind: KindGauge, Group: "event_bus"},
		{Attr: "EventsDegradedMode", Name: "g6_events_degraded_mode", Doc: "1 when the bus is in degraded mode", Kind: KindGauge, Group: "event_bus"},
		{Attr: "EventsGeneration", Name: "g6_events_generation", Doc: "Current bus generation", Kind: KindGauge, Group: "event_bus"},
		{Attr: "EventsLastFullUnixtime", Name: "g6_events_last_full_unixtime", Doc: "Unix time of the last panel_full publish", Kind: KindGauge, Group: "event_bus"},
		{Attr: "SSEConnectionDuration", Name: "g6_sse_connection_duration_seconds", Doc: "SSE connection lifetime", Kind: KindHistogram, Group: "event_bus"},
		{Attr: "SSESerializeSeconds", Name: "g6_sse_serialize_seconds", Doc: "Event payload serialization latency", Kind: KindHistogram, Group: "event_bus"},

		// Panel diffs
		{Attr: "PanelDiffTruncated", Name: "g6_panel_diff_truncated_total", Doc: "Panel diffs truncated at nesting depth", Kind: KindCounter, Group: "status_panels"},

		// Cardinality manager / metrics sampling
		{Attr: "MetricSamplingEvents", Name: "g6_metric_sampling_events_total", Doc: "Cardinality manager accept/reject decisions", Kind: KindCounter, Labels: []string{"category", "decision", "reason"}, Group: "cardinality"},
		{Attr: "DetailModeBandRejections", Name: "g6_detail_mode_band_rejections_total", Doc: "Per-index band-mode rejections", Kind: KindCounter, Labels: []string{"index"}, Group: "cardinality"},
		{Attr: "OptionDetailMode", Name: "g6_option_detail_mode", Doc: "Adaptive detail mode (0=full,1=band,2=agg)", Kind: KindGauge, Group: "cardinality"},
	}
}
